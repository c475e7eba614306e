package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobKind classifies the work a job carries.
type JobKind string

const (
	JobKindRender   JobKind = "render"
	JobKindAnalyze  JobKind = "analyze"
	JobKindGenerate JobKind = "generate"
)

// IsAI reports whether the kind runs against the generation backend.
func (k JobKind) IsAI() bool {
	return k == JobKindAnalyze || k == JobKindGenerate
}

// Job tracks one unit of submitted work. The API returns a job id on submission;
// the client polls the status endpoint until status is completed or failed.
//
// Result is set only when Status is completed; Failure only when Status is failed.
type Job struct {
	ID            uuid.UUID  `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Kind          JobKind    `json:"kind"`
	Status        JobStatus  `json:"status"`
	Payload       Payload    `json:"payload"`
	Result        *Result    `json:"result,omitempty"`
	Failure       *Failure   `json:"failure,omitempty"`
	WebhookStatus *string    `json:"webhook_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// Result is the output of a completed job. Render jobs fill the artifact
// fields; analyze and generate jobs fill Analysis or Template. URLExpiresAt
// is when ArtifactURL stops working, independent of the record's ExpiresAt.
type Result struct {
	ArtifactKey  string             `json:"artifact_key,omitempty"`
	ArtifactURL  string             `json:"artifact_url,omitempty"`
	URLExpiresAt *time.Time         `json:"url_expires_at,omitempty"`
	SizeBytes    int64              `json:"size_bytes,omitempty"`
	Pages        int                `json:"pages,omitempty"`
	Analysis     *AnalysisOutput    `json:"analysis,omitempty"`
	Template     *GeneratedTemplate `json:"template,omitempty"`
}

// Failure is the classified terminal error of a failed job.
type Failure struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

const (
	WebhookDelivered = "delivered"
	WebhookFailed    = "failed"
)

// QueueMessage is the self-contained unit handed to the job queue. A worker
// can process a job from the message alone.
type QueueMessage struct {
	JobID   uuid.UUID `json:"job_id"`
	OwnerID string    `json:"owner_id"`
	Kind    JobKind   `json:"kind"`
	Payload Payload   `json:"payload"`
}
