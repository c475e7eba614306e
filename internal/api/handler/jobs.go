package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/kiranshivaraju/docrender/internal/submit"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// maxBodyBytes bounds every JSON request; inline images are the largest input.
const maxBodyBytes = 2 << 20

// JobSubmitter queues render and AI jobs.
type JobSubmitter interface {
	SubmitRender(ctx context.Context, ownerID string, req submit.RenderRequest) (*submit.Submission, error)
	SubmitAI(ctx context.Context, ownerID string, req submit.AIRequest) (*submit.Submission, error)
}

// StatusReader loads an owner's job.
type StatusReader interface {
	Status(ctx context.Context, ownerID string, id uuid.UUID) (*models.Job, error)
}

// SyncRenderer renders in-process.
type SyncRenderer interface {
	RenderSync(ctx context.Context, ownerID string, req submit.RenderRequest) (*submit.SyncResult, error)
}

type acceptedResponse struct {
	JobID     uuid.UUID        `json:"jobId"`
	Status    models.JobStatus `json:"status"`
	StatusURL string           `json:"statusUrl"`
	PageCount int              `json:"pageCount,omitempty"`
}

func accepted(w http.ResponseWriter, sub *submit.Submission) {
	response.Accepted(w, acceptedResponse{
		JobID:     sub.JobID,
		Status:    sub.Status,
		StatusURL: fmt.Sprintf("/api/v1/jobs/%s", sub.JobID),
		PageCount: sub.PageCount,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		badJSON(w)
		return false
	}
	return true
}

// NewSubmitRenderHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitRenderHandler(svc JobSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		var req submit.RenderRequest
		if !decode(w, r, &req) {
			return
		}

		sub, err := svc.SubmitRender(r.Context(), owner, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		accepted(w, sub)
	}
}

// NewSubmitAIHandler returns an http.HandlerFunc for POST /api/v1/ai/jobs.
func NewSubmitAIHandler(svc JobSubmitter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		var req submit.AIRequest
		if !decode(w, r, &req) {
			return
		}

		sub, err := svc.SubmitAI(r.Context(), owner, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		accepted(w, sub)
	}
}

// NewRenderSyncHandler returns an http.HandlerFunc for POST /api/v1/render.
func NewRenderSyncHandler(svc SyncRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		var req submit.RenderRequest
		if !decode(w, r, &req) {
			return
		}

		res, err := svc.RenderSync(r.Context(), owner, req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, res)
	}
}

type jobStatusResponse struct {
	JobID         uuid.UUID                 `json:"jobId"`
	Kind          models.JobKind            `json:"kind"`
	Status        models.JobStatus          `json:"status"`
	CreatedAt     time.Time                 `json:"createdAt"`
	CompletedAt   *time.Time                `json:"completedAt,omitempty"`
	PDFURL        string                    `json:"pdfUrl,omitempty"`
	SizeBytes     int64                     `json:"sizeBytes,omitempty"`
	PageCount     int                       `json:"pageCount,omitempty"`
	ExpiresIn     string                    `json:"expiresIn,omitempty"`
	Analysis      *models.AnalysisOutput    `json:"analysis,omitempty"`
	Template      *models.GeneratedTemplate `json:"template,omitempty"`
	Error         string                    `json:"error,omitempty"`
	ErrorCode     models.ErrorCode          `json:"errorCode,omitempty"`
	Retryable     bool                      `json:"retryable,omitempty"`
	WebhookStatus *string                   `json:"webhookStatus,omitempty"`
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc StatusReader, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Fail(w, http.StatusBadRequest,
				models.ErrCodeInvalidInput, "jobID must be a valid UUID", nil)
			return
		}

		job, err := svc.Status(r.Context(), owner, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, statusResponse(job, now()))
	}
}

func statusResponse(job *models.Job, now time.Time) jobStatusResponse {
	out := jobStatusResponse{
		JobID:         job.ID,
		Kind:          job.Kind,
		Status:        job.Status,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
		WebhookStatus: job.WebhookStatus,
	}
	switch job.Status {
	case models.JobStatusCompleted:
		if res := job.Result; res != nil {
			out.PDFURL = res.ArtifactURL
			out.SizeBytes = res.SizeBytes
			out.PageCount = res.Pages
			out.Analysis = res.Analysis
			out.Template = res.Template
		}
		if job.Kind == models.JobKindRender {
			out.ExpiresIn = remaining(urlExpiry(job).Sub(now))
		}
	case models.JobStatusFailed:
		if f := job.Failure; f != nil {
			out.Error = f.Message
			out.ErrorCode = f.Code
			out.Retryable = f.Code.Retryable()
		}
	}
	return out
}

// urlExpiry is when the job's download link stops working. Records written
// before the expiry was stored fall back to the record TTL.
func urlExpiry(job *models.Job) time.Time {
	if job.Result != nil && job.Result.URLExpiresAt != nil {
		return *job.Result.URLExpiresAt
	}
	return job.ExpiresAt
}

// remaining renders a lifetime in whole days, or hours when under a day.
func remaining(d time.Duration) string {
	switch {
	case d <= 0:
		return "expired"
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d/(24*time.Hour)))
	case d >= 24*time.Hour:
		return "1 day"
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	default:
		return d.Round(time.Minute).String()
	}
}
