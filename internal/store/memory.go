package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore. Returned values are copies.
type MemoryStore struct {
	mu            sync.Mutex
	jobs          map[uuid.UUID]*models.Job
	usage         map[string]*models.UsageCounter
	subscriptions map[string]*models.Subscription
	apiKeys       map[uuid.UUID]*models.APIKey
	now           func() time.Time

	// Err, when set, is returned by every call.
	Err error
}

// NewMemoryStore creates an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		jobs:          make(map[uuid.UUID]*models.Job),
		usage:         make(map[string]*models.UsageCounter),
		subscriptions: make(map[string]*models.Subscription),
		apiKeys:       make(map[uuid.UUID]*models.APIKey),
		now:           now,
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return s.Err }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if job.Status != models.JobStatusPending {
		return ErrInvalidUpdate
	}
	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status models.JobStatus, opts ...JobUpdateOption) (bool, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if err := checkUpdate(status, params); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	j, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Contains(predecessors[status], string(j.Status)) {
		return false, nil
	}

	now := s.now().UTC()
	j.Status = status
	j.UpdatedAt = now
	if status.IsTerminal() {
		j.CompletedAt = &now
	}
	j.Result = params.Result
	j.Failure = params.Failure
	return true, nil
}

func (s *MemoryStore) SetWebhookStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.WebhookStatus = &status
	j.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) PurgeExpiredJobs(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for id, j := range s.jobs {
		if !j.ExpiresAt.After(now) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func usageKey(ownerID, period string) string { return ownerID + "|" + period }

func (s *MemoryStore) IncrementUsage(_ context.Context, ownerID, period string, delta UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	u, ok := s.usage[usageKey(ownerID, period)]
	if !ok {
		u = &models.UsageCounter{OwnerID: ownerID, Period: period}
		s.usage[usageKey(ownerID, period)] = u
	}
	u.Pages += delta.Pages
	u.AICalls += delta.AICalls
	at := delta.At
	if at.IsZero() {
		at = s.now().UTC()
	}
	if at.After(u.LastActivity) {
		u.LastActivity = at
	}
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, ownerID, period string) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if u, ok := s.usage[usageKey(ownerID, period)]; ok {
		cp := *u
		return &cp, nil
	}
	return &models.UsageCounter{OwnerID: ownerID, Period: period}, nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, ownerID string) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	sub, ok := s.subscriptions[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *models.Subscription) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	existing, ok := s.subscriptions[sub.OwnerID]
	if !ok {
		cp := *sub
		s.subscriptions[sub.OwnerID] = &cp
		existing = &cp
	}
	out := *existing
	return &out, nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if k, ok := s.apiKeys[id]; ok {
		now := s.now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context, ownerID string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.OwnerID == ownerID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	k, ok := s.apiKeys[id]
	if !ok || k.OwnerID != ownerID || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := s.now().UTC()
	k.DeletedAt = &now
	return nil
}

var _ Store = (*MemoryStore)(nil)
