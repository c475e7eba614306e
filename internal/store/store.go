package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidUpdate = errors.New("invalid job update")
)

// JobStore is a generic keyed job table. It does not check ownership;
// every read-path caller does.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// UpdateJobStatus merges fields into a job. It reports false, with no error,
	// when the job is already terminal or the move would regress its status.
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (bool, error)
	SetWebhookStatus(ctx context.Context, id uuid.UUID, status string) error
	PurgeExpiredJobs(ctx context.Context, now time.Time) (int64, error)
}

// UsageStore persists monthly usage counters.
type UsageStore interface {
	IncrementUsage(ctx context.Context, ownerID, period string, delta UsageDelta) error
	GetUsage(ctx context.Context, ownerID, period string) (*models.UsageCounter, error)
}

// SubscriptionStore reads subscriptions and creates the free default.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, ownerID string) (*models.Subscription, error)
	// CreateSubscription inserts sub unless one exists and returns the stored row.
	CreateSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
}

// APIKeyStore backs API-key authentication.
type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, ownerID string) error
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobStore
	UsageStore
	SubscriptionStore
	APIKeyStore
}

// UsageDelta is an additive increment to a usage counter.
type UsageDelta struct {
	Pages   int64
	AICalls int64
	At      time.Time
}

type jobUpdateParams struct {
	Result  *models.Result
	Failure *models.Failure
}

type JobUpdateOption func(*jobUpdateParams)

// WithResult attaches the result of a completed job.
func WithResult(r models.Result) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = &r
	}
}

// WithFailure attaches the classified failure of a failed job.
func WithFailure(f models.Failure) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Failure = &f
	}
}

// predecessors lists the statuses a job may move from into each target.
// Re-entering processing is allowed so a redelivered message can resume.
var predecessors = map[models.JobStatus][]string{
	models.JobStatusProcessing: {string(models.JobStatusPending), string(models.JobStatusProcessing)},
	models.JobStatusCompleted:  {string(models.JobStatusPending), string(models.JobStatusProcessing)},
	models.JobStatusFailed:     {string(models.JobStatusPending), string(models.JobStatusProcessing)},
}

// checkUpdate enforces that a result accompanies completed and a failure
// accompanies failed, and nothing else.
func checkUpdate(status models.JobStatus, p *jobUpdateParams) error {
	switch status {
	case models.JobStatusCompleted:
		if p.Result == nil || p.Failure != nil {
			return errors.Join(ErrInvalidUpdate, errors.New("completed requires a result and no failure"))
		}
	case models.JobStatusFailed:
		if p.Failure == nil || p.Result != nil {
			return errors.Join(ErrInvalidUpdate, errors.New("failed requires a failure and no result"))
		}
	case models.JobStatusProcessing, models.JobStatusPending:
		if p.Result != nil || p.Failure != nil {
			return errors.Join(ErrInvalidUpdate, errors.New("non-terminal status takes no result or failure"))
		}
	default:
		return errors.Join(ErrInvalidUpdate, errors.New("unknown status "+string(status)))
	}
	return nil
}
