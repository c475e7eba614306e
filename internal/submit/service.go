// Package submit admits, validates and queues jobs, and answers status,
// synchronous-render, template and usage requests.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/cache"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/kiranshivaraju/docrender/internal/quota"
	"github.com/kiranshivaraju/docrender/internal/render"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/kiranshivaraju/docrender/internal/usage"
	"github.com/kiranshivaraju/docrender/internal/worker"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when a job was recorded but could not be queued.
var ErrUnavailable = errors.New("submission service unavailable")

// Config holds the submission limits and lifetimes.
type Config struct {
	RenderTTL     time.Duration
	AITTL         time.Duration
	SignedURLTTL  time.Duration
	RenderTimeout time.Duration
	MaxRecords    int
}

// Deps are the collaborators of a Service. Renderer and Templates are only
// needed for RenderSync; Cache is optional.
type Deps struct {
	Store       store.Store
	RenderQueue queue.Queue
	AIQueue     queue.Queue
	Blobs       blob.Store
	Templates   *template.Cache
	Renderer    worker.DocumentRenderer
	Ledger      *usage.Ledger
	Plans       quota.Plans
	Pipeline    Pipeline
	Cache       cache.Cache
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Service is the submission surface shared by the HTTP handlers.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func NewService(deps Deps, cfg Config) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{deps: deps, cfg: cfg, now: now}
}

// Submission is returned for an accepted asynchronous job.
type Submission struct {
	JobID     uuid.UUID        `json:"jobId"`
	Status    models.JobStatus `json:"status"`
	Kind      models.JobKind   `json:"kind"`
	PageCount int              `json:"pageCount,omitempty"`
}

// SubmitRender validates, admits and queues a render job.
func (s *Service) SubmitRender(ctx context.Context, ownerID string, req RenderRequest) (*Submission, error) {
	payload, err := s.buildRenderPayload(req)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, ownerID, models.JobKindRender, payload.Units()); err != nil {
		return nil, err
	}

	job, err := s.enqueue(ctx, ownerID, payload, s.cfg.RenderTTL, s.deps.RenderQueue)
	if err != nil {
		return nil, err
	}
	return &Submission{JobID: job.ID, Status: job.Status, Kind: job.Kind, PageCount: payload.Units()}, nil
}

// SubmitAI validates, admits and queues an analyze or generate job.
func (s *Service) SubmitAI(ctx context.Context, ownerID string, req AIRequest) (*Submission, error) {
	payload, err := BuildAIPayload(ownerID, req)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, ownerID, payload.Kind, payload.Units()); err != nil {
		return nil, err
	}

	job, err := s.enqueue(ctx, ownerID, payload, s.cfg.AITTL, s.deps.AIQueue)
	if err != nil {
		return nil, err
	}
	return &Submission{JobID: job.ID, Status: job.Status, Kind: job.Kind}, nil
}

func (s *Service) buildRenderPayload(req RenderRequest) (models.Payload, error) {
	if err := ValidateTemplateID(req.TemplateID); err != nil {
		return models.Payload{}, err
	}
	records, err := ParseRecords(req.Data, s.cfg.MaxRecords)
	if err != nil {
		return models.Payload{}, err
	}
	if err := ValidateWebhook(req.Webhook); err != nil {
		return models.Payload{}, err
	}
	if err := ValidateRecipients(req.SendEmail); err != nil {
		return models.Payload{}, err
	}
	return models.NewRenderPayload(models.RenderPayload{
		TemplateID: req.TemplateID,
		Records:    records,
		Webhook:    req.Webhook,
		SendEmail:  req.SendEmail,
	}), nil
}

func (s *Service) admit(ctx context.Context, ownerID string, kind models.JobKind, units int) error {
	return s.deps.Pipeline.Run(ctx, &Admission{OwnerID: ownerID, Kind: kind, Units: units})
}

// enqueue records the job and hands it to q. A job that cannot be queued is
// failed at once so it is never left pending.
func (s *Service) enqueue(ctx context.Context, ownerID string, payload models.Payload, ttl time.Duration, q queue.Queue) (*models.Job, error) {
	now := s.now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Kind:      payload.Kind,
		Status:    models.JobStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.deps.Store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	log := logging.From(logging.WithJobID(ctx, job.ID.String()), s.deps.Logger)
	msg := models.QueueMessage{JobID: job.ID, OwnerID: ownerID, Kind: job.Kind, Payload: payload}
	if err := q.Enqueue(ctx, msg); err != nil {
		log.Error().Err(err).Str("queue", q.Name()).Msg("enqueue failed")
		failure := models.Failure{Code: models.ErrCodeGenerationError, Message: "job could not be queued"}
		if _, ferr := s.deps.Store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithFailure(failure)); ferr != nil {
			log.Error().Err(ferr).Msg("failing unqueued job")
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	log.Info().Str("kind", string(job.Kind)).Str("queue", q.Name()).Int("units", payload.Units()).Msg("job queued")
	return job, nil
}

// Status returns the owner's job. Missing and foreign jobs are both NOT_FOUND.
func (s *Service) Status(ctx context.Context, ownerID string, id uuid.UUID) (*models.Job, error) {
	log := logging.From(ctx, s.deps.Logger)
	if s.deps.Cache != nil {
		job, ok, err := s.deps.Cache.GetJob(ctx, id)
		if err != nil {
			log.Warn().Err(err).Msg("status cache read failed")
		}
		if ok {
			if job.OwnerID != ownerID {
				return nil, notFound()
			}
			return job, nil
		}
	}

	job, err := s.deps.Store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, notFound()
	}

	if job.Status.IsTerminal() && s.deps.Cache != nil {
		if err := s.deps.Cache.SetJob(ctx, job, worker.StatusCacheTTL); err != nil {
			log.Warn().Err(err).Msg("status cache write failed")
		}
	}
	return job, nil
}

func notFound() *Error {
	return newError(models.ErrCodeNotFound, "Job not found")
}

// SyncResult is the outcome of a synchronous render.
type SyncResult struct {
	URL       string `json:"pdfUrl"`
	SizeBytes int64  `json:"sizeBytes"`
	Pages     int    `json:"pageCount"`
	ExpiresIn string `json:"expiresIn"`
}

// RenderSync renders in-process and returns the artifact URL. Processing
// failures are classified like queued jobs.
func (s *Service) RenderSync(ctx context.Context, ownerID string, req RenderRequest) (*SyncResult, error) {
	if s.deps.Renderer == nil || s.deps.Templates == nil {
		return nil, fmt.Errorf("%w: synchronous rendering is disabled", ErrUnavailable)
	}
	payload, err := s.buildRenderPayload(req)
	if err != nil {
		return nil, err
	}
	records := payload.Render.Records
	if err := s.admit(ctx, ownerID, models.JobKindRender, len(records)); err != nil {
		return nil, err
	}

	doc, key, err := s.renderNow(ctx, ownerID, req.TemplateID, records)
	if err != nil {
		f := worker.Classify(err)
		return nil, &Error{Code: f.Code, Message: f.Message}
	}
	url, err := s.deps.Blobs.SignedURL(ctx, key, s.cfg.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("signing artifact url: %w", err)
	}

	s.deps.Ledger.RecordUsage(ctx, ownerID, usage.Period(s.deps.Ledger.Now()), models.JobKindRender, len(records))
	return &SyncResult{URL: url, SizeBytes: doc.Size, Pages: doc.Pages, ExpiresIn: humanDuration(s.cfg.SignedURLTTL)}, nil
}

func (s *Service) renderNow(ctx context.Context, ownerID, templateID string, records []map[string]any) (*render.Document, string, error) {
	tpl, err := s.deps.Templates.Get(ctx, ownerID, templateID, func(ctx context.Context) (string, error) {
		return s.deps.Blobs.FetchTemplate(ctx, ownerID, templateID)
	})
	if err != nil {
		return nil, "", fmt.Errorf("loading template %s: %w", templateID, err)
	}

	renderCtx := ctx
	if s.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, s.cfg.RenderTimeout)
		defer cancel()
	}
	doc, err := s.deps.Renderer.Render(renderCtx, tpl, records)
	if err != nil {
		return nil, "", err
	}

	key := blob.ArtifactKey(ownerID, uuid.New())
	if err := s.deps.Blobs.PutArtifact(ctx, key, doc.PDF); err != nil {
		return nil, "", fmt.Errorf("storing artifact: %w", err)
	}
	return doc, key, nil
}

// PutTemplate stores a template after checking that it compiles, then tells
// every process to drop its cached copy.
func (s *Service) PutTemplate(ctx context.Context, ownerID, templateID, source string) error {
	if err := ValidateTemplateID(templateID); err != nil {
		return err
	}
	if _, err := template.Compile(source); err != nil {
		return newError(models.ErrCodeInvalidTemplate, "%v", err)
	}
	if err := s.deps.Blobs.PutTemplate(ctx, ownerID, templateID, source); err != nil {
		return fmt.Errorf("storing template: %w", err)
	}

	if s.deps.Templates != nil {
		s.deps.Templates.Invalidate(ownerID, templateID)
	}
	if s.deps.Cache != nil {
		ref := cache.TemplateRef(ownerID, templateID)
		if err := s.deps.Cache.Publish(ctx, cache.TemplateInvalidationChannel, ref); err != nil {
			log := logging.From(ctx, s.deps.Logger)
			log.Warn().Err(err).Str("template", ref).Msg("publishing template invalidation failed")
		}
	}
	return nil
}

// UsageReport is the owner's consumption in the current period.
type UsageReport struct {
	Period       string    `json:"period"`
	Plan         string    `json:"plan"`
	Pages        int64     `json:"pages"`
	PagesLimit   int       `json:"pagesLimit"`
	AICalls      int64     `json:"aiCalls"`
	AILimit      int       `json:"aiLimit"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

// Usage reports current-period counters against the owner's plan.
func (s *Service) Usage(ctx context.Context, ownerID string) (*UsageReport, error) {
	plan, err := s.PlanFor(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	counter, err := s.deps.Ledger.Current(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}
	return &UsageReport{
		Period:       counter.Period,
		Plan:         plan.Name,
		Pages:        counter.Pages,
		PagesLimit:   plan.PagesPerMonth,
		AICalls:      counter.AICalls,
		AILimit:      plan.AIPerMonth,
		LastActivity: counter.LastActivity,
	}, nil
}

// PlanFor resolves the owner's plan, creating the free subscription if needed.
func (s *Service) PlanFor(ctx context.Context, ownerID string) (models.Plan, error) {
	a := &Admission{OwnerID: ownerID}
	if err := ResolveSubscription(s.deps.Store, s.deps.Plans, s.now)(ctx, a); err != nil {
		return models.Plan{}, err
	}
	return a.Plan, nil
}

func humanDuration(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
