package ai

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/docrender/internal/ai/mock"
	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// NewProvider constructs the generation backend named by cfg.Backend,
// wrapped in the concurrency, rate and timeout bounds of cfg.
// Called once at worker startup.
func NewProvider(ctx context.Context, cfg config.AIConfig) (models.AIProvider, error) {
	var inner models.AIProvider
	switch cfg.Backend {
	case "gemini", "vertex":
		p, err := NewGeminiProvider(ctx, cfg)
		if err != nil {
			return nil, err
		}
		inner = p
	case "mock":
		inner = mock.NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown AI backend %q: must be one of gemini, vertex, mock", cfg.Backend)
	}
	return NewLimited(inner, cfg.MaxConcurrent, cfg.RatePerSecond, cfg.Timeout), nil
}
