package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	bareObject = regexp.MustCompile(`(?s)\{.*\}`)
)

const (
	maxQuestions     = 10
	trimmedQuestions = 7
)

var (
	questionTypes      = map[string]bool{"single_choice": true, "multiple_choice": true, "text": true, "boolean": true}
	questionCategories = map[string]bool{"fields": true, "images": true, "tables": true, "layout": true}
)

// extractJSON strips a markdown fence and any prose around the outermost object.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if m := bareObject.FindString(s); m != "" {
		s = m
	}
	return s
}

type generationResponse struct {
	Template      *string        `json:"template"`
	SampleData    map[string]any `json:"sampleData"`
	SuggestedName *string        `json:"suggestedName"`
	Description   string         `json:"description"`
}

// ParseGeneration decodes a generate response. The template must compile
// and render against its own sample data.
func ParseGeneration(text string) (models.GeneratedTemplate, error) {
	var resp generationResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return models.GeneratedTemplate{}, fmt.Errorf("%w: failed to parse response as JSON: %v", ErrInvalidResponse, err)
	}
	if resp.Template == nil || *resp.Template == "" {
		return models.GeneratedTemplate{}, fmt.Errorf("%w: missing template field", ErrInvalidResponse)
	}
	if resp.SampleData == nil {
		return models.GeneratedTemplate{}, fmt.Errorf("%w: missing sampleData field", ErrInvalidResponse)
	}
	if resp.SuggestedName == nil || *resp.SuggestedName == "" {
		return models.GeneratedTemplate{}, fmt.Errorf("%w: missing suggestedName field", ErrInvalidResponse)
	}

	compiled, err := template.Compile(*resp.Template)
	if err != nil {
		return models.GeneratedTemplate{}, fmt.Errorf("generated template: %w", err)
	}
	if _, err := compiled.Execute(resp.SampleData); err != nil {
		return models.GeneratedTemplate{}, fmt.Errorf("sample data does not match template: %w", err)
	}

	return models.GeneratedTemplate{
		Content:     *resp.Template,
		Name:        *resp.SuggestedName,
		Description: resp.Description,
		SampleData:  resp.SampleData,
	}, nil
}

type analysisResponse struct {
	Questions     []rawQuestion         `json:"questions"`
	ImageAnalysis *models.ImageAnalysis `json:"imageAnalysis"`
}

type rawQuestion struct {
	models.Question
	Required *bool `json:"required"`
}

// ParseAnalysis decodes an analyze response. Overlong question lists are
// trimmed; a missing required flag defaults to true.
func ParseAnalysis(text string) (models.AnalysisOutput, error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return models.AnalysisOutput{}, fmt.Errorf("%w: failed to parse analysis response as JSON: %v", ErrInvalidResponse, err)
	}
	if len(resp.Questions) == 0 {
		return models.AnalysisOutput{}, fmt.Errorf("%w: no questions", ErrInvalidResponse)
	}
	if len(resp.Questions) > maxQuestions {
		resp.Questions = resp.Questions[:trimmedQuestions]
	}

	out := models.AnalysisOutput{Questions: make([]models.Question, 0, len(resp.Questions))}
	for _, rq := range resp.Questions {
		q := rq.Question
		if q.ID == "" || q.Question == "" || q.Type == "" || q.Category == "" {
			return models.AnalysisOutput{}, fmt.Errorf("%w: question %q is incomplete", ErrInvalidResponse, q.ID)
		}
		if !questionTypes[q.Type] {
			return models.AnalysisOutput{}, fmt.Errorf("%w: invalid question type %q", ErrInvalidResponse, q.Type)
		}
		if !questionCategories[q.Category] {
			return models.AnalysisOutput{}, fmt.Errorf("%w: invalid question category %q", ErrInvalidResponse, q.Category)
		}
		if (q.Type == "single_choice" || q.Type == "multiple_choice") && len(q.Options) == 0 {
			return models.AnalysisOutput{}, fmt.Errorf("%w: question %s is %s but has no options", ErrInvalidResponse, q.ID, q.Type)
		}
		q.Required = rq.Required == nil || *rq.Required
		out.Questions = append(out.Questions, q)
	}

	if ia := resp.ImageAnalysis; ia != nil {
		if ia.DetectedFields == nil {
			ia.DetectedFields = []string{}
		}
		if ia.SuggestedLayout == "" {
			ia.SuggestedLayout = "A4 Portrait"
		}
		if ia.DocumentType == "" {
			ia.DocumentType = "Document"
		}
		out.ImageAnalysis = ia
	}
	return out, nil
}
