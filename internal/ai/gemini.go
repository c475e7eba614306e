package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"google.golang.org/genai"
)

const (
	analysisMaxTokens = 4096
	jsonMIMEType      = "application/json"
)

var _ models.AIProvider = (*GeminiProvider)(nil)

// GeminiProvider implements models.AIProvider on the Google Gen AI SDK,
// against either the Gemini API or Vertex AI.
type GeminiProvider struct {
	client    *genai.Client
	backend   string
	model     string
	maxTokens int32
}

// NewGeminiProvider creates a client for cfg.Backend ("gemini" or "vertex").
func NewGeminiProvider(ctx context.Context, cfg config.AIConfig) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{}
	switch cfg.Backend {
	case "gemini":
		if cfg.APIKey == "" {
			return nil, errors.New("genai: empty api key")
		}
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case "vertex":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("genai: unsupported backend %q", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{
		client:    client,
		backend:   cfg.Backend,
		model:     cfg.Model,
		maxTokens: int32(cfg.MaxOutputTokens),
	}, nil
}

func (p *GeminiProvider) Name() string { return p.backend }

func (p *GeminiProvider) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisOutput, error) {
	maxTokens := p.maxTokens
	if maxTokens <= 0 || maxTokens > analysisMaxTokens {
		maxTokens = analysisMaxTokens
	}
	text, err := p.generate(ctx, AnalysisSystemPrompt, AnalysisPrompt(req), req.Image, maxTokens)
	if err != nil {
		return models.AnalysisOutput{}, err
	}
	return ParseAnalysis(text)
}

func (p *GeminiProvider) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedTemplate, error) {
	text, err := p.generate(ctx, GenerationSystemPrompt, GenerationPrompt(req), req.Image, p.maxTokens)
	if err != nil {
		return models.GeneratedTemplate{}, err
	}
	return ParseGeneration(text)
}

func (p *GeminiProvider) generate(ctx context.Context, system, prompt string, image *models.Image, maxTokens int32) (string, error) {
	// Image goes before the text.
	parts := make([]*genai.Part, 0, 2)
	if image != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: image.MediaType, Data: image.Data}})
	}
	parts = append(parts, &genai.Part{Text: prompt})

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
			MaxOutputTokens:   maxTokens,
			ResponseMIMEType:  jsonMIMEType,
		},
	)
	if err != nil {
		return "", mapError(ctx, err)
	}
	return extractText(resp)
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrContentBlocked, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
		return "", fmt.Errorf("%w: content filter: %s", ErrContentBlocked, cand.FinishReason)
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: no content", ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: no text in response (finish reason %s)", ErrInvalidResponse, cand.FinishReason)
	}
	return b.String(), nil
}

// mapError translates SDK failures into the ai sentinels.
func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
			return fmt.Errorf("%w: %s", ErrThrottled, apiErr.Message)
		case apiErr.Code == http.StatusGatewayTimeout || apiErr.Status == "DEADLINE_EXCEEDED":
			return fmt.Errorf("%w: %s", ErrInferenceTimeout, apiErr.Message)
		case apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", ErrProviderUnavailable, apiErr.Message)
		}
		return fmt.Errorf("genai: %w", err)
	}
	return fmt.Errorf("generate content: %w", err)
}
