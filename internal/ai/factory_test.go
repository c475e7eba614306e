package ai_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/docrender/internal/ai"
	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Mock(t *testing.T) {
	cfg := config.AIConfig{Backend: "mock", MaxConcurrent: 2, RatePerSecond: 10, Timeout: time.Second}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
	assert.IsType(t, &ai.Limited{}, p)
}

func TestNewProvider_Gemini(t *testing.T) {
	cfg := config.AIConfig{Backend: "gemini", APIKey: "test-key", Model: "gemini-2.5-pro", MaxOutputTokens: 8192}
	p, err := ai.NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestNewProvider_GeminiRequiresKey(t *testing.T) {
	_, err := ai.NewProvider(context.Background(), config.AIConfig{Backend: "gemini"})
	assert.Error(t, err)
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := ai.NewProvider(context.Background(), config.AIConfig{Backend: "openai"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown AI backend")
}
