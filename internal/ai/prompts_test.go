package ai_test

import (
	"testing"

	"github.com/kiranshivaraju/docrender/internal/ai"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestAnalysisPrompt(t *testing.T) {
	p := ai.AnalysisPrompt(models.AnalysisRequest{Prompt: "A certificate of completion", TemplateType: "certificate"})
	assert.Contains(t, p, `"A certificate of completion"`)
	assert.Contains(t, p, "Template type: certificate")
	assert.NotContains(t, p, "reference image")

	withImage := ai.AnalysisPrompt(models.AnalysisRequest{Prompt: "x", Image: &models.Image{}})
	assert.Contains(t, withImage, "reference image")
}

func TestGenerationPrompt_Clarification(t *testing.T) {
	p := ai.GenerationPrompt(models.GenerationRequest{
		Prompt: "An invoice",
		Context: &models.AnalysisContext{
			Questions: []models.Question{
				{ID: "q1", Question: "Page size?"},
				{ID: "q2", Question: "Sections?"},
				{ID: "q3", Question: "Unanswered?"},
			},
			Answers: []models.Answer{
				{QuestionID: "q1", Value: "A4"},
				{QuestionID: "q2", Value: []any{"header", "footer"}},
			},
			ImageAnalysis: &models.ImageAnalysis{DocumentType: "Invoice", SuggestedLayout: "A4 Portrait", DetectedFields: []string{"Total", "Date"}},
		},
	})

	assert.Contains(t, p, "--- REQUIREMENTS CLARIFICATION ---")
	assert.Contains(t, p, "Q: Page size?\nA: A4")
	assert.Contains(t, p, "Q: Sections?\nA: header, footer")
	assert.NotContains(t, p, "Unanswered?")
	assert.Contains(t, p, "- Detected Fields: Total, Date")
	assert.NotContains(t, p, "ITERATION MODE")
}

func TestGenerationPrompt_Iteration(t *testing.T) {
	p := ai.GenerationPrompt(models.GenerationRequest{
		Prompt:           "An invoice",
		PreviousTemplate: "<h1>{{title}}</h1>",
		Feedback:         "make the title blue",
	})
	assert.Contains(t, p, "--- ITERATION MODE ---")
	assert.Contains(t, p, "<h1>{{title}}</h1>")
	assert.Contains(t, p, `"make the title blue"`)

	noFeedback := ai.GenerationPrompt(models.GenerationRequest{Prompt: "x", PreviousTemplate: "<p></p>"})
	assert.NotContains(t, noFeedback, "ITERATION MODE")
}
