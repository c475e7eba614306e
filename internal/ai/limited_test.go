package ai_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/docrender/internal/ai"
	"github.com/kiranshivaraju/docrender/internal/ai/mock"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimited_TimeoutCancelsCall(t *testing.T) {
	var cancelled atomic.Bool
	inner := &mock.MockProvider{
		Name_: "slow",
		GenerateFunc: func(ctx context.Context, _ models.GenerationRequest) (models.GeneratedTemplate, error) {
			<-ctx.Done()
			cancelled.Store(true)
			return models.GeneratedTemplate{}, ctx.Err()
		},
	}
	l := ai.NewLimited(inner, 1, 0, 30*time.Millisecond)

	_, err := l.Generate(context.Background(), models.GenerationRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	assert.True(t, cancelled.Load())
}

func TestLimited_CallerCancellationIsNotTimeout(t *testing.T) {
	l := ai.NewLimited(mock.NewTimeoutProvider(), 1, 0, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := l.Analyze(ctx, models.AnalysisRequest{Prompt: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ai.ErrInferenceTimeout)
}

func TestLimited_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	inner := &mock.MockProvider{
		Name_: "counting",
		AnalyzeFunc: func(_ context.Context, _ models.AnalysisRequest) (models.AnalysisOutput, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return models.AnalysisOutput{}, nil
		},
	}
	l := ai.NewLimited(inner, 2, 0, 0)

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_, _ = l.Analyze(context.Background(), models.AnalysisRequest{})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLimited_PassesThroughErrors(t *testing.T) {
	l := ai.NewLimited(mock.NewFailingProvider(ai.ErrContentBlocked), 0, 0, time.Second)
	_, err := l.Generate(context.Background(), models.GenerationRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrContentBlocked)
	assert.Equal(t, "mock-failing", l.Name())
}
