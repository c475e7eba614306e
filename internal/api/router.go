package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/docrender/internal/api/middleware"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/rs/zerolog"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    zerolog.Logger
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler      http.HandlerFunc
	MetricsHandler     http.Handler
	SubmitJobHandler   http.HandlerFunc
	SubmitAIJobHandler http.HandlerFunc
	JobStatusHandler   http.HandlerFunc
	RenderSyncHandler  http.HandlerFunc
	PutTemplateHandler http.HandlerFunc
	UsageHandler       http.HandlerFunc
	CreateKeyHandler   http.HandlerFunc
	ListKeysHandler    http.HandlerFunc
	RevokeKeyHandler   http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitJobHandler))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Post("/api/v1/ai/jobs", orNotImplemented(deps.SubmitAIJobHandler))
		r.Get("/api/v1/ai/jobs/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Post("/api/v1/render", orNotImplemented(deps.RenderSyncHandler))

		r.Put("/api/v1/templates/{templateID}", orNotImplemented(deps.PutTemplateHandler))
		r.Get("/api/v1/usage", orNotImplemented(deps.UsageHandler))

		r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
		r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
		r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
