package models_test

import (
	"encoding/json"
	"testing"

	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload models.Payload
		wantErr bool
	}{
		{"render", models.NewRenderPayload(models.RenderPayload{TemplateID: "t"}), false},
		{"analyze", models.NewAnalyzePayload(models.AnalyzePayload{Prompt: "p"}), false},
		{"generate", models.NewGeneratePayload(models.GeneratePayload{Prompt: "p"}), false},
		{"empty", models.Payload{Kind: models.JobKindRender}, true},
		{"kind mismatch", models.Payload{Kind: models.JobKindAnalyze, Render: &models.RenderPayload{}}, true},
		{"two variants", models.Payload{
			Kind:    models.JobKindRender,
			Render:  &models.RenderPayload{},
			Analyze: &models.AnalyzePayload{},
		}, true},
		{"unknown kind", models.Payload{Kind: "print", Render: &models.RenderPayload{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrPayloadMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPayload_Units(t *testing.T) {
	render := models.NewRenderPayload(models.RenderPayload{
		TemplateID: "invoice",
		Records:    []map[string]any{{"a": 1}, {"a": 2}, {"a": 3}},
	})
	assert.Equal(t, 3, render.Units())

	gen := models.NewGeneratePayload(models.GeneratePayload{Prompt: "an invoice please"})
	assert.Equal(t, 1, gen.Units())
}

func TestPayload_JSONKeepsVariant(t *testing.T) {
	in := models.NewAnalyzePayload(models.AnalyzePayload{Prompt: "quarterly report"})
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out models.Payload
	require.NoError(t, json.Unmarshal(b, &out))
	require.NoError(t, out.Validate())
	assert.Equal(t, models.JobKindAnalyze, out.Kind)
	assert.Nil(t, out.Render)
	assert.Equal(t, "quarterly report", out.Analyze.Prompt)
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, models.JobStatusPending.IsTerminal())
	assert.False(t, models.JobStatusProcessing.IsTerminal())
	assert.True(t, models.JobStatusCompleted.IsTerminal())
	assert.True(t, models.JobStatusFailed.IsTerminal())
}
