package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"golang.org/x/time/rate"
)

var _ models.AIProvider = (*Limited)(nil)

// Limited bounds a provider: at most maxConcurrent calls in flight, paced by
// a token bucket, each cut off after timeout. A call that exceeds its
// timeout is cancelled and reported as ErrInferenceTimeout.
type Limited struct {
	inner   models.AIProvider
	sem     chan struct{}
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLimited wraps inner. A non-positive maxConcurrent or perSecond disables
// that bound; a non-positive timeout leaves deadlines to the caller.
func NewLimited(inner models.AIProvider, maxConcurrent int, perSecond float64, timeout time.Duration) *Limited {
	l := &Limited{inner: inner, timeout: timeout}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	if perSecond > 0 {
		burst := maxConcurrent
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

func (l *Limited) Name() string { return l.inner.Name() }

func (l *Limited) Analyze(ctx context.Context, req models.AnalysisRequest) (models.AnalysisOutput, error) {
	var out models.AnalysisOutput
	err := l.call(ctx, "analyze", func(ctx context.Context) error {
		var err error
		out, err = l.inner.Analyze(ctx, req)
		return err
	})
	return out, err
}

func (l *Limited) Generate(ctx context.Context, req models.GenerationRequest) (models.GeneratedTemplate, error) {
	var out models.GeneratedTemplate
	err := l.call(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = l.inner.Generate(ctx, req)
		return err
	})
	return out, err
}

func (l *Limited) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Wait fails early when the deadline cannot fit the next token.
			return fmt.Errorf("%w: %v", ErrThrottled, err)
		}
	}

	callCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInferenceTimeout) {
		err = fmt.Errorf("%w: call exceeded %s: %v", ErrInferenceTimeout, l.timeout, err)
	}
	metrics.ObserveAICall(op, outcome(err), time.Since(start))
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInferenceTimeout):
		return "timeout"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	default:
		return "error"
	}
}
