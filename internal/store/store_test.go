package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("docrender_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: connStr, MaxOpenConns: 10, MaxIdleConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := store.Connect(context.Background(), config.DatabaseConfig{URL: "not-a-valid-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database URL")
}

func TestConnect_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := store.Connect(ctx, config.DatabaseConfig{URL: "postgres://u:p@127.0.0.1:1/none", MaxOpenConns: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func newRenderJob(owner string) *models.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Job{
		ID:      uuid.New(),
		OwnerID: owner,
		Kind:    models.JobKindRender,
		Status:  models.JobStatusPending,
		Payload: models.NewRenderPayload(models.RenderPayload{
			TemplateID: "invoice",
			Records:    []map[string]any{{"n": 1.0}, {"n": 2.0}},
		}),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, models.JobStatusPending, got.Status)
	require.NotNil(t, got.Payload.Render)
	assert.Equal(t, "invoice", got.Payload.Render.TemplateID)
	assert.Len(t, got.Payload.Render.Records, 2)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Failure)
	assert.Nil(t, got.CompletedAt)
}

func TestJob_CreateDuplicate(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrAlreadyExists)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_ProcessingThenCompleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	applied, err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.True(t, applied)

	// Redelivery re-enters processing.
	applied, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResult(models.Result{
		ArtifactKey: "owner-1/pdfs/a.pdf",
		ArtifactURL: "https://signed.example/a.pdf",
		SizeBytes:   2048,
		Pages:       2,
	}))
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.Pages)
	assert.Equal(t, int64(2048), got.Result.SizeBytes)
	assert.Nil(t, got.Failure)
	assert.NotNil(t, got.CompletedAt)
}

func TestJob_FailedCarriesFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	applied, err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithFailure(models.Failure{
		Code:    models.ErrCodeInvalidTemplate,
		Message: "template not found",
	}))
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, models.ErrCodeInvalidTemplate, got.Failure.Code)
	assert.Equal(t, "template not found", got.Failure.Message)
	assert.Nil(t, got.Result)
}

func TestJob_TerminalIsImmutable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResult(models.Result{Pages: 1}))
	require.NoError(t, err)

	applied, err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithFailure(models.Failure{
		Code: models.ErrCodeGenerationError,
	}))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Nil(t, got.Failure)
}

func TestJob_ConcurrentTerminalUpdates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			var err error
			if i%2 == 0 {
				ok, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResult(models.Result{Pages: i + 1}))
			} else {
				ok, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithFailure(models.Failure{Code: models.ErrCodeGenerationError}))
			}
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, applied)
}

func TestJob_UpdateRequiresMatchingFields(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidUpdate)

	_, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithResult(models.Result{}))
	assert.ErrorIs(t, err, store.ErrInvalidUpdate)
}

func TestJob_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_WebhookStatusAndPurge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.SetWebhookStatus(ctx, job.ID, models.WebhookDelivered))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WebhookStatus)
	assert.Equal(t, models.WebhookDelivered, *got.WebhookStatus)

	n, err := s.PurgeExpiredJobs(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = s.PurgeExpiredJobs(ctx, job.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Usage Tests ---

func TestUsage_IncrementAccumulates(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	empty, err := s.GetUsage(ctx, "owner-1", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Pages)

	require.NoError(t, s.IncrementUsage(ctx, "owner-1", "2026-10", store.UsageDelta{Pages: 3}))
	require.NoError(t, s.IncrementUsage(ctx, "owner-1", "2026-10", store.UsageDelta{Pages: 2, AICalls: 1}))
	require.NoError(t, s.IncrementUsage(ctx, "owner-1", "2026-11", store.UsageDelta{Pages: 7}))

	got, err := s.GetUsage(ctx, "owner-1", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Pages)
	assert.Equal(t, int64(1), got.AICalls)
	assert.False(t, got.LastActivity.IsZero())
}

// --- Subscription Tests ---

func TestSubscription_CreateKeepsExisting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	_, err := s.GetSubscription(ctx, "owner-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	now := time.Now().UTC().Truncate(time.Microsecond)
	created, err := s.CreateSubscription(ctx, &models.Subscription{
		OwnerID: "owner-1", Plan: "professional", Status: models.SubscriptionActive, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "professional", created.Plan)

	again, err := s.CreateSubscription(ctx, &models.Subscription{
		OwnerID: "owner-1", Plan: "free", Status: models.SubscriptionActive, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "professional", again.Plan)
}

// --- API Key Tests ---

func TestAPIKey_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   "owner-1",
		Name:      "ci",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "dr_abcde",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrAlreadyExists)

	keys, err := s.GetAPIKeyByPrefix(ctx, "dr_abcde")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Nil(t, keys[0].LastUsedAt)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.ListAPIKeys(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)

	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID, "someone-else"), store.ErrNotFound)
	require.NoError(t, s.RevokeAPIKey(ctx, key.ID, "owner-1"))

	keys, err = s.GetAPIKeyByPrefix(ctx, "dr_abcde")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	assert.NoError(t, s.Ping(context.Background()))
}
