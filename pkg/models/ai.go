// Package models contains shared data models used across the docrender codebase.
package models

import (
	"context"
)

// AIProvider is the narrow contract of the generation backend.
// Never call a specific backend directly; always inject this interface.
type AIProvider interface {
	// Analyze returns clarifying questions for a template request.
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisOutput, error)
	// Generate drafts a Handlebars template plus sample data.
	Generate(ctx context.Context, req GenerationRequest) (GeneratedTemplate, error)
	// Name returns the provider identifier (e.g., "gemini", "mock").
	Name() string
}

// Image is a resolved image ready to send to the backend.
type Image struct {
	Data      []byte
	MediaType string
}

// AnalysisRequest is the input to an analyze call.
type AnalysisRequest struct {
	Prompt       string
	TemplateType string
	Image        *Image
}

// GenerationRequest is the input to a generate call.
type GenerationRequest struct {
	Prompt           string
	TemplateType     string
	Image            *Image
	Context          *AnalysisContext
	PreviousTemplate string
	Feedback         string
}

// AnalysisContext carries a prior analysis and the user's answers into generation.
type AnalysisContext struct {
	Questions     []Question
	Answers       []Answer
	ImageAnalysis *ImageAnalysis
}

// Question is one structured clarifying question.
type Question struct {
	ID           string   `json:"id"`
	Category     string   `json:"category"`
	Question     string   `json:"question"`
	Type         string   `json:"type"`
	Options      []string `json:"options,omitempty"`
	DefaultValue any      `json:"defaultValue,omitempty"`
	Required     bool     `json:"required"`
	HelperText   string   `json:"helperText,omitempty"`
}

// Answer is the user's reply to a Question. Value is a string, []string or bool.
type Answer struct {
	QuestionID string `json:"questionId"`
	Value      any    `json:"value"`
}

// ImageAnalysis summarises a reference image.
type ImageAnalysis struct {
	DetectedFields  []string `json:"detectedFields"`
	SuggestedLayout string   `json:"suggestedLayout"`
	DocumentType    string   `json:"documentType"`
}

// AnalysisOutput is the result of an analyze job.
type AnalysisOutput struct {
	Questions     []Question     `json:"questions"`
	ImageAnalysis *ImageAnalysis `json:"imageAnalysis,omitempty"`
}

// GeneratedTemplate is the result of a generate job.
type GeneratedTemplate struct {
	Content     string         `json:"content"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	SampleData  map[string]any `json:"sampleData"`
}
