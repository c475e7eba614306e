package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrPayloadMismatch is returned when a payload's variant does not match its kind.
var ErrPayloadMismatch = errors.New("payload variant does not match job kind")

// Payload is a tagged union keyed by Kind. Exactly one variant pointer is set.
type Payload struct {
	Kind     JobKind          `json:"kind"`
	Render   *RenderPayload   `json:"render,omitempty"`
	Analyze  *AnalyzePayload  `json:"analyze,omitempty"`
	Generate *GeneratePayload `json:"generate,omitempty"`
}

// RenderPayload renders one page per record into a single artifact.
// SendEmail lists recipients told about the finished artifact.
type RenderPayload struct {
	TemplateID string           `json:"template_id"`
	Records    []map[string]any `json:"records"`
	Webhook    *Webhook         `json:"webhook,omitempty"`
	SendEmail  []string         `json:"send_email,omitempty"`
}

// AnalyzePayload asks the backend for clarifying questions about a template request.
type AnalyzePayload struct {
	Prompt       string    `json:"prompt"`
	TemplateType string    `json:"template_type,omitempty"`
	Image        *ImageRef `json:"image,omitempty"`
}

// GeneratePayload asks the backend to draft a template. AnalysisJobID chains
// the answers of a previous analyze job owned by the same user.
type GeneratePayload struct {
	Prompt           string     `json:"prompt"`
	TemplateType     string     `json:"template_type,omitempty"`
	Image            *ImageRef  `json:"image,omitempty"`
	AnalysisJobID    *uuid.UUID `json:"analysis_job_id,omitempty"`
	Answers          []Answer   `json:"answers,omitempty"`
	PreviousTemplate string     `json:"previous_template,omitempty"`
	Feedback         string     `json:"feedback,omitempty"`
}

// ImageRef is either inline base64 data or a key of a staged object, never both.
type ImageRef struct {
	Data       string `json:"data,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	MediaType  string `json:"media_type,omitempty"`
}

// Webhook is an optional completion callback.
type Webhook struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// NewRenderPayload builds a render variant.
func NewRenderPayload(p RenderPayload) Payload {
	return Payload{Kind: JobKindRender, Render: &p}
}

// NewAnalyzePayload builds an analyze variant.
func NewAnalyzePayload(p AnalyzePayload) Payload {
	return Payload{Kind: JobKindAnalyze, Analyze: &p}
}

// NewGeneratePayload builds a generate variant.
func NewGeneratePayload(p GeneratePayload) Payload {
	return Payload{Kind: JobKindGenerate, Generate: &p}
}

// Validate checks that exactly the variant named by Kind is present.
func (p Payload) Validate() error {
	set := 0
	if p.Render != nil {
		set++
	}
	if p.Analyze != nil {
		set++
	}
	if p.Generate != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: %d variants set", ErrPayloadMismatch, set)
	}

	switch p.Kind {
	case JobKindRender:
		if p.Render == nil {
			return fmt.Errorf("%w: kind %s", ErrPayloadMismatch, p.Kind)
		}
	case JobKindAnalyze:
		if p.Analyze == nil {
			return fmt.Errorf("%w: kind %s", ErrPayloadMismatch, p.Kind)
		}
	case JobKindGenerate:
		if p.Generate == nil {
			return fmt.Errorf("%w: kind %s", ErrPayloadMismatch, p.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrPayloadMismatch, p.Kind)
	}
	return nil
}

// Units returns the number of quota work units the payload consumes:
// one per render record, one per AI call.
func (p Payload) Units() int {
	if p.Render != nil {
		return len(p.Render.Records)
	}
	return 1
}
