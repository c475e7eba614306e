// Package render turns compiled templates into PDF documents using a small
// pool of long-lived headless browser instances.
package render

import (
	"context"
	"errors"
)

// ErrEngineUnavailable is returned when the pool cannot provide a healthy engine.
var ErrEngineUnavailable = errors.New("render engine unavailable")

// Engine is one rendering-engine instance. An engine is used by at most one
// goroutine at a time; each render runs in its own short-lived session.
type Engine interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
	Healthy(ctx context.Context) bool
	Close() error
}

// Launcher starts a new engine instance.
type Launcher func(ctx context.Context) (Engine, error)
