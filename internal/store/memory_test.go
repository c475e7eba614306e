package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrAlreadyExists)

	applied, err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithResult(models.Result{ArtifactKey: "k", SizeBytes: 10, Pages: 2}))
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, 2, got.Result.Pages)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.Failure)

	// Terminal states never change.
	applied, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed,
		store.WithFailure(models.Failure{Code: models.ErrCodeGenerationError, Message: "late"}))
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMemoryStore_UpdateValidation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)

	_, err := s.UpdateJobStatus(ctx, uuid.New(), models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)

	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted)
	assert.ErrorIs(t, err, store.ErrInvalidUpdate)
}

func TestMemoryStore_ConcurrentTerminalUpdates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	job := newRenderJob("owner-1")
	require.NoError(t, s.CreateJob(ctx, job))

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			var err error
			if i%2 == 0 {
				ok, err = s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResult(models.Result{ArtifactKey: "k"}))
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

func TestMemoryStore_PurgeAndUsage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := store.NewMemoryStore(func() time.Time { return now })

	expired := newRenderJob("owner-1")
	expired.ExpiresAt = now.Add(-time.Minute)
	live := newRenderJob("owner-1")
	live.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, s.CreateJob(ctx, expired))
	require.NoError(t, s.CreateJob(ctx, live))

	n, err := s.PurgeExpiredJobs(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.GetJob(ctx, expired.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.IncrementUsage(ctx, "owner-1", "2026-03", store.UsageDelta{Pages: 3}))
	require.NoError(t, s.IncrementUsage(ctx, "owner-1", "2026-03", store.UsageDelta{AICalls: 1}))
	u, err := s.GetUsage(ctx, "owner-1", "2026-03")
	require.NoError(t, err)
	assert.Equal(t, int64(3), u.Pages)
	assert.Equal(t, int64(1), u.AICalls)
	assert.Equal(t, now, u.LastActivity)
}

func TestMemoryStore_SubscriptionKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)

	_, err := s.GetSubscription(ctx, "owner-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, err := s.CreateSubscription(ctx, &models.Subscription{OwnerID: "owner-1", Plan: "starter", Status: models.SubscriptionActive})
	require.NoError(t, err)
	second, err := s.CreateSubscription(ctx, &models.Subscription{OwnerID: "owner-1", Plan: "free", Status: models.SubscriptionActive})
	require.NoError(t, err)
	assert.Equal(t, first.Plan, second.Plan)
}
