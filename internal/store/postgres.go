package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, owner_id, kind, status, payload, result, failure_code, failure_message,
	webhook_status, created_at, updated_at, completed_at, expires_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status != models.JobStatusPending {
		return fmt.Errorf("%w: new job must be pending, got %q", ErrInvalidUpdate, job.Status)
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode job payload: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, kind, status, payload, created_at, updated_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.OwnerID, job.Kind, job.Status, payload, job.CreatedAt, job.UpdatedAt, job.ExpiresAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus applies the update in a single conditional statement so
// concurrent workers cannot both move the same job out of a terminal state.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (bool, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if err := checkUpdate(status, params); err != nil {
		return false, err
	}

	from, ok := predecessors[status]
	if !ok {
		// Nothing moves back to pending.
		return false, s.jobExists(ctx, id)
	}

	now := s.now()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status.IsTerminal() {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.Result != nil {
		raw, err := json.Marshal(params.Result)
		if err != nil {
			return false, fmt.Errorf("encode job result: %w", err)
		}
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, raw)
		argIdx++
	}
	if params.Failure != nil {
		query += fmt.Sprintf(", failure_code = $%d, failure_message = $%d", argIdx, argIdx+1)
		args = append(args, string(params.Failure.Code), params.Failure.Message)
		argIdx += 2
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.jobExists(ctx, id)
}

func (s *PostgresStore) SetWebhookStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET webhook_status = $2, updated_at = $3 WHERE id = $1`, id, status, s.now())
	if err != nil {
		return fmt.Errorf("set webhook status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PurgeExpiredJobs(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) jobExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j              models.Job
		payload        []byte
		result         []byte
		failureCode    *string
		failureMessage *string
	)
	if err := row.Scan(&j.ID, &j.OwnerID, &j.Kind, &j.Status, &payload, &result, &failureCode, &failureMessage,
		&j.WebhookStatus, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt, &j.ExpiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	if result != nil {
		j.Result = &models.Result{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	if failureCode != nil {
		j.Failure = &models.Failure{Code: models.ErrorCode(*failureCode)}
		if failureMessage != nil {
			j.Failure.Message = *failureMessage
		}
	}
	return &j, nil
}

// --- Usage ---

func (s *PostgresStore) IncrementUsage(ctx context.Context, ownerID, period string, delta UsageDelta) error {
	at := delta.At
	if at.IsZero() {
		at = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (owner_id, period, pages, ai_calls, last_activity)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, period) DO UPDATE SET
		   pages = usage_counters.pages + EXCLUDED.pages,
		   ai_calls = usage_counters.ai_calls + EXCLUDED.ai_calls,
		   last_activity = GREATEST(usage_counters.last_activity, EXCLUDED.last_activity)`,
		ownerID, period, delta.Pages, delta.AICalls, at)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// GetUsage returns the counter for the period, or a zero counter if the owner
// has no activity in it yet.
func (s *PostgresStore) GetUsage(ctx context.Context, ownerID, period string) (*models.UsageCounter, error) {
	u := models.UsageCounter{OwnerID: ownerID, Period: period}
	err := s.pool.QueryRow(ctx,
		`SELECT pages, ai_calls, last_activity FROM usage_counters WHERE owner_id = $1 AND period = $2`,
		ownerID, period,
	).Scan(&u.Pages, &u.AICalls, &u.LastActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return &u, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &u, nil
}

// --- Subscriptions ---

func (s *PostgresStore) GetSubscription(ctx context.Context, ownerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.pool.QueryRow(ctx,
		`SELECT owner_id, plan, status, created_at, updated_at FROM subscriptions WHERE owner_id = $1`, ownerID,
	).Scan(&sub.OwnerID, &sub.Plan, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	var out models.Subscription
	// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (owner_id, plan, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id) DO UPDATE SET owner_id = subscriptions.owner_id
		 RETURNING owner_id, plan, status, created_at, updated_at`,
		sub.OwnerID, sub.Plan, sub.Status, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&out.OwnerID, &out.Plan, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &out, nil
}

// --- API Keys ---

const apiKeyColumns = `id, owner_id, name, key_hash, key_prefix, last_used_at, expires_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.ExpiresAt, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL`, id, ownerID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.ExpiresAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
