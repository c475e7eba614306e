package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/docrender/internal/metrics"
	"github.com/rs/zerolog"
)

// Pool lends engines to one caller at a time. Engines are checked for
// health on every Acquire and replaced when they fail the check.
type Pool struct {
	launch Launcher
	logger zerolog.Logger

	// tokens bounds the number of live engines.
	tokens chan struct{}

	mu     sync.Mutex
	idle   []Engine
	closed bool
}

// NewPool creates a pool of at most size engines. Engines are launched lazily.
func NewPool(size int, launch Launcher, logger zerolog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		launch: launch,
		logger: logger,
		tokens: make(chan struct{}, size),
	}
}

// Acquire blocks until an engine is free or ctx is done. The caller must
// Release the engine exactly once.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	select {
	case p.tokens <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e, err := p.checkout(ctx)
	if err != nil {
		<-p.tokens
		return nil, err
	}
	return e, nil
}

func (p *Pool) checkout(ctx context.Context) (Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool closed", ErrEngineUnavailable)
	}
	var e Engine
	if n := len(p.idle); n > 0 {
		e = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if e != nil {
		if e.Healthy(ctx) {
			return e, nil
		}
		p.logger.Warn().Msg("render engine failed health check, relaunching")
		metrics.IncEngineLaunch("replaced")
		_ = e.Close()
	}

	e, err := p.launch(ctx)
	if err != nil {
		metrics.IncEngineLaunch("error")
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	metrics.IncEngineLaunch("ok")
	return e, nil
}

// Release returns e to the pool. A broken engine is closed instead.
func (p *Pool) Release(e Engine, broken bool) {
	defer func() { <-p.tokens }()

	p.mu.Lock()
	if broken || p.closed {
		p.mu.Unlock()
		_ = e.Close()
		return
	}
	p.idle = append(p.idle, e)
	p.mu.Unlock()
}

// Close shuts down idle engines. Engines still checked out are closed on Release.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, e := range idle {
		_ = e.Close()
	}
}
