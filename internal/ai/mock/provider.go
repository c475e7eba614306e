package mock

import (
	"context"

	"github.com/kiranshivaraju/docrender/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing.
type MockProvider struct {
	Name_        string
	AnalyzeFunc  func(ctx context.Context, req models.AnalysisRequest) (models.AnalysisOutput, error)
	GenerateFunc func(ctx context.Context, req models.GenerationRequest) (models.GeneratedTemplate, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisOutput, error) {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, req)
	}
	return models.AnalysisOutput{}, nil
}

func (m *MockProvider) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedTemplate, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return models.GeneratedTemplate{}, nil
}

// NewMockProvider returns a MockProvider with sensible default responses.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		AnalyzeFunc: func(_ context.Context, req models.AnalysisRequest) (models.AnalysisOutput, error) {
			out := models.AnalysisOutput{
				Questions: []models.Question{
					{
						ID:           "q1",
						Category:     "layout",
						Question:     "Which page size should the document use?",
						Type:         "single_choice",
						Options:      []string{"A4", "Letter"},
						DefaultValue: "A4",
						Required:     true,
					},
					{
						ID:       "q2",
						Category: "fields",
						Question: "Should empty optional fields be hidden?",
						Type:     "boolean",
						Required: true,
					},
				},
			}
			if req.Image != nil {
				out.ImageAnalysis = &models.ImageAnalysis{
					DetectedFields:  []string{"Title"},
					SuggestedLayout: "A4 Portrait",
					DocumentType:    "Document",
				}
			}
			return out, nil
		},
		GenerateFunc: func(_ context.Context, req models.GenerationRequest) (models.GeneratedTemplate, error) {
			return models.GeneratedTemplate{
				Content:     "<html><body><h1>{{title}}</h1><p>{{body}}</p></body></html>",
				Name:        "mock-template",
				Description: "Mock template for " + req.Prompt,
				SampleData:  map[string]any{"title": "Sample", "body": "Generated by the mock provider"},
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (models.AnalysisOutput, error) {
			return models.AnalysisOutput{}, err
		},
		GenerateFunc: func(_ context.Context, _ models.GenerationRequest) (models.GeneratedTemplate, error) {
			return models.GeneratedTemplate{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		AnalyzeFunc: func(ctx context.Context, _ models.AnalysisRequest) (models.AnalysisOutput, error) {
			<-ctx.Done()
			return models.AnalysisOutput{}, ctx.Err()
		},
		GenerateFunc: func(ctx context.Context, _ models.GenerationRequest) (models.GeneratedTemplate, error) {
			<-ctx.Done()
			return models.GeneratedTemplate{}, ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
