// Package worker consumes queued jobs and drives each one through
// pending -> processing -> completed|failed.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/cache"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/internal/queue"
	"github.com/kiranshivaraju/docrender/internal/render"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/kiranshivaraju/docrender/internal/usage"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
)

// StatusCacheTTL bounds how long a terminal job snapshot stays in the hot cache.
const StatusCacheTTL = 10 * time.Minute

// DocumentRenderer renders a batch of records into one artifact.
type DocumentRenderer interface {
	Render(ctx context.Context, tpl *template.Compiled, records []map[string]any) (*render.Document, error)
}

// Notifier delivers a side-channel notification for a terminal job.
// Implementations swallow their own failures.
type Notifier interface {
	Notify(ctx context.Context, job *models.Job)
}

// Deps are the collaborators of a Processor. Renderer may be nil on a worker
// that only serves the AI queue; AI may be nil on a render-only worker.
// Cache and Notifier are optional.
type Deps struct {
	Jobs      store.JobStore
	Blobs     blob.Store
	Templates *template.Cache
	Renderer  DocumentRenderer
	AI        models.AIProvider
	Ledger    *usage.Ledger
	Cache     cache.Cache
	Notifier  Notifier
	Logger    zerolog.Logger
}

// Options bound the work a single job may do.
type Options struct {
	RenderTimeout time.Duration
	AITimeout     time.Duration
	SignedURLTTL  time.Duration
	// Now stamps signed URL expiry; nil uses time.Now.
	Now func() time.Time
}

// Processor executes one delivered message.
type Processor struct {
	deps Deps
	opts Options
}

func NewProcessor(deps Deps, opts Options) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{deps: deps, opts: opts}
}

// Handle runs the job carried by d. A nil return means the delivery should be
// acked: the job finished, failed with a classification, or was already
// terminal. A non-nil return leaves the message for queue redelivery and
// happens only when ctx was cancelled or the job store is unreachable.
func (p *Processor) Handle(ctx context.Context, d *queue.Delivery) error {
	started := time.Now()
	msg := d.Message
	ctx = logging.WithJobID(logging.WithOwnerID(ctx, msg.OwnerID), msg.JobID.String())
	log := logging.From(ctx, p.deps.Logger).With().
		Str("kind", string(msg.Kind)).
		Str("queue", d.Queue).
		Int("receive_count", d.ReceiveCount).
		Logger()

	job, err := p.deps.Jobs.GetJob(ctx, msg.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Msg("job record missing, dropping message")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading job %s: %w", msg.JobID, err)
	}
	if job.Status.IsTerminal() {
		log.Info().Str("status", string(job.Status)).Msg("duplicate delivery of terminal job")
		return nil
	}

	applied, err := p.deps.Jobs.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("marking job %s processing: %w", job.ID, err)
	}
	if !applied {
		log.Info().Msg("job became terminal before processing")
		return nil
	}
	log.Info().Msg("job processing")

	result, err := p.execute(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not a job failure. Leave the message for redelivery.
			log.Warn().Err(err).Msg("job interrupted")
			return ctx.Err()
		}
		failure := Classify(err)
		log.Warn().Err(err).Str("error_code", string(failure.Code)).Msg("job failed")
		return p.finish(ctx, log, msg, started, models.JobStatusFailed, store.WithFailure(failure), 0)
	}

	units := 1
	if msg.Payload.Render != nil {
		units = len(msg.Payload.Render.Records)
	}
	return p.finish(ctx, log, msg, started, models.JobStatusCompleted, store.WithResult(*result), units)
}

// finish persists the terminal state, then records usage on success and
// notifies. Only the status write can fail the call.
func (p *Processor) finish(ctx context.Context, log zerolog.Logger, msg models.QueueMessage, started time.Time, status models.JobStatus, opt store.JobUpdateOption, units int) error {
	id, kind := msg.JobID, msg.Kind
	applied, err := p.deps.Jobs.UpdateJobStatus(ctx, id, status, opt)
	if err != nil {
		return fmt.Errorf("marking job %s %s: %w", id, status, err)
	}
	if !applied {
		log.Info().Str("status", string(status)).Msg("terminal state already recorded")
		return nil
	}
	metrics.IncJobProcessed(string(kind), string(status))
	metrics.ObserveJobDuration(string(kind), time.Since(started))
	log.Info().Str("status", string(status)).Dur("duration", time.Since(started)).Msg("job finished")

	if status == models.JobStatusCompleted && p.deps.Ledger != nil {
		p.deps.Ledger.RecordUsage(ctx, msg.OwnerID, usage.Period(p.deps.Ledger.Now()), kind, units)
	}
	p.afterTerminal(ctx, log, id)
	return nil
}

// afterTerminal notifies and then caches the final snapshot, webhook status included.
func (p *Processor) afterTerminal(ctx context.Context, log zerolog.Logger, id uuid.UUID) {
	job, err := p.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("reloading terminal job failed")
		return
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.Notify(ctx, job)
		if job, err = p.deps.Jobs.GetJob(ctx, id); err != nil {
			log.Warn().Err(err).Msg("reloading notified job failed")
			return
		}
	}
	if p.deps.Cache != nil {
		if err := p.deps.Cache.SetJob(ctx, job, StatusCacheTTL); err != nil {
			log.Warn().Err(err).Msg("caching terminal job failed")
		}
	}
}

func (p *Processor) execute(ctx context.Context, msg models.QueueMessage) (*models.Result, error) {
	if err := msg.Payload.Validate(); err != nil {
		return nil, err
	}
	if msg.Payload.Kind != msg.Kind {
		return nil, fmt.Errorf("%w: message kind %s carries %s payload", models.ErrPayloadMismatch, msg.Kind, msg.Payload.Kind)
	}

	switch msg.Kind {
	case models.JobKindRender:
		return p.render(ctx, msg.JobID, msg.OwnerID, msg.Payload.Render)
	case models.JobKindAnalyze:
		return p.analyze(ctx, msg.OwnerID, msg.Payload.Analyze)
	case models.JobKindGenerate:
		return p.generate(ctx, msg.OwnerID, msg.Payload.Generate)
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, msg.Kind)
}

func (p *Processor) render(ctx context.Context, jobID uuid.UUID, ownerID string, in *models.RenderPayload) (*models.Result, error) {
	if p.deps.Renderer == nil {
		return nil, fmt.Errorf("%w: worker has no render engine", render.ErrEngineUnavailable)
	}
	if len(in.Records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrInvalidInput)
	}

	tpl, err := p.deps.Templates.Get(ctx, ownerID, in.TemplateID, func(ctx context.Context) (string, error) {
		return p.deps.Blobs.FetchTemplate(ctx, ownerID, in.TemplateID)
	})
	if err != nil {
		return nil, fmt.Errorf("loading template %s: %w", in.TemplateID, err)
	}

	renderCtx, cancel := withTimeout(ctx, p.opts.RenderTimeout)
	defer cancel()
	doc, err := p.deps.Renderer.Render(renderCtx, tpl, in.Records)
	if err != nil {
		return nil, err
	}

	key := blob.ArtifactKey(ownerID, jobID)
	if err := p.deps.Blobs.PutArtifact(ctx, key, doc.PDF); err != nil {
		return nil, fmt.Errorf("storing artifact: %w", err)
	}
	signedAt := p.opts.Now().UTC()
	url, err := p.deps.Blobs.SignedURL(ctx, key, p.opts.SignedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("signing artifact url: %w", err)
	}
	urlExpiry := signedAt.Add(p.opts.SignedURLTTL)
	return &models.Result{
		ArtifactKey:  key,
		ArtifactURL:  url,
		URLExpiresAt: &urlExpiry,
		SizeBytes:    doc.Size,
		Pages:        doc.Pages,
	}, nil
}

func (p *Processor) analyze(ctx context.Context, ownerID string, in *models.AnalyzePayload) (*models.Result, error) {
	if p.deps.AI == nil {
		return nil, errors.New("worker has no generation backend")
	}
	img, err := p.resolveImage(ctx, in.Image)
	if err != nil {
		return nil, err
	}

	aiCtx, cancel := withTimeout(ctx, p.opts.AITimeout)
	defer cancel()
	out, err := p.deps.AI.Analyze(aiCtx, models.AnalysisRequest{
		Prompt:       in.Prompt,
		TemplateType: in.TemplateType,
		Image:        img,
	})
	if err != nil {
		return nil, err
	}
	return &models.Result{Analysis: &out}, nil
}

func (p *Processor) generate(ctx context.Context, ownerID string, in *models.GeneratePayload) (*models.Result, error) {
	if p.deps.AI == nil {
		return nil, errors.New("worker has no generation backend")
	}

	imgRef := in.Image
	var analysis *models.AnalysisContext
	if in.AnalysisJobID != nil {
		prior := p.loadAnalysis(ctx, ownerID, *in.AnalysisJobID)
		if prior != nil {
			analysis = &models.AnalysisContext{
				Questions:     prior.Result.Analysis.Questions,
				Answers:       in.Answers,
				ImageAnalysis: prior.Result.Analysis.ImageAnalysis,
			}
			// The image staged for the analysis carries over to generation.
			if imgRef == nil && prior.Payload.Analyze != nil && prior.Payload.Analyze.Image != nil && prior.Payload.Analyze.Image.StorageKey != "" {
				imgRef = prior.Payload.Analyze.Image
			}
		}
	}

	img, err := p.resolveImage(ctx, imgRef)
	if err != nil {
		return nil, err
	}

	aiCtx, cancel := withTimeout(ctx, p.opts.AITimeout)
	defer cancel()
	out, err := p.deps.AI.Generate(aiCtx, models.GenerationRequest{
		Prompt:           in.Prompt,
		TemplateType:     in.TemplateType,
		Image:            img,
		Context:          analysis,
		PreviousTemplate: in.PreviousTemplate,
		Feedback:         in.Feedback,
	})
	if err != nil {
		return nil, err
	}
	return &models.Result{Template: &out}, nil
}

// loadAnalysis returns the chained analysis job when it is usable: same
// owner, an analyze job, completed with questions. Anything else means
// generation proceeds without context.
func (p *Processor) loadAnalysis(ctx context.Context, ownerID string, id uuid.UUID) *models.Job {
	log := logging.From(ctx, p.deps.Logger).With().Str("analysis_job_id", id.String()).Logger()
	job, err := p.deps.Jobs.GetJob(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("analysis job unavailable, generating without context")
		return nil
	}
	if job.OwnerID != ownerID || job.Kind != models.JobKindAnalyze {
		log.Warn().Msg("analysis job does not belong to this owner")
		return nil
	}
	if job.Status != models.JobStatusCompleted || job.Result == nil || job.Result.Analysis == nil {
		log.Warn().Str("status", string(job.Status)).Msg("analysis job not completed")
		return nil
	}
	return job
}

func (p *Processor) resolveImage(ctx context.Context, ref *models.ImageRef) (*models.Image, error) {
	if ref == nil {
		return nil, nil
	}
	if ref.Data != "" {
		data, err := base64.StdEncoding.DecodeString(ref.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: image is not valid base64: %v", ErrInvalidInput, err)
		}
		return &models.Image{Data: data, MediaType: ref.MediaType}, nil
	}
	if ref.StorageKey == "" {
		return nil, nil
	}

	data, err := p.deps.Blobs.Fetch(ctx, ref.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("fetching staged image: %w", err)
	}
	mediaType := ref.MediaType
	if mediaType == "" {
		mediaType = blob.ImageMediaType(ref.StorageKey)
	}
	return &models.Image{Data: data, MediaType: mediaType}, nil
}

// HandleDeadLetter fails a job whose message ran out of deliveries so its
// owner stops polling. It has the signature of queue.DeadLetterFunc.
func (p *Processor) HandleDeadLetter(ctx context.Context, dl queue.DeadLetter) {
	msg := dl.Message
	ctx = logging.WithJobID(logging.WithOwnerID(ctx, msg.OwnerID), msg.JobID.String())
	log := logging.From(ctx, p.deps.Logger).With().
		Str("kind", string(msg.Kind)).
		Int("receive_count", dl.ReceiveCount).
		Logger()

	failure := models.Failure{
		Code:    models.ErrCodeGenerationError,
		Message: "exceeded maximum delivery attempts",
	}
	applied, err := p.deps.Jobs.UpdateJobStatus(ctx, msg.JobID, models.JobStatusFailed, store.WithFailure(failure))
	if err != nil {
		log.Error().Err(err).Msg("failing dead-lettered job")
		return
	}
	if !applied {
		log.Info().Msg("dead-lettered job already terminal")
		return
	}
	metrics.IncJobProcessed(string(msg.Kind), string(models.JobStatusFailed))
	log.Warn().Msg("job dead-lettered")
	p.afterTerminal(ctx, log, msg.JobID)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
