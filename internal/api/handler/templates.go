package handler

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/kiranshivaraju/docrender/internal/submit"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

const maxTemplateBytes = 1 << 20

// TemplateWriter stores template sources.
type TemplateWriter interface {
	PutTemplate(ctx context.Context, ownerID, templateID, source string) error
}

// UsageReader reports the owner's current-period usage.
type UsageReader interface {
	Usage(ctx context.Context, ownerID string) (*submit.UsageReport, error)
}

// NewPutTemplateHandler returns an http.HandlerFunc for
// PUT /api/v1/templates/{templateID}. The body is either the raw Handlebars
// source or a JSON object {"source": "..."}.
func NewPutTemplateHandler(svc TemplateWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		templateID := chi.URLParam(r, "templateID")

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTemplateBytes))
		if err != nil {
			response.Fail(w, http.StatusRequestEntityTooLarge,
				models.ErrCodeInvalidInput, "Template source is too large", nil)
			return
		}

		source := string(body)
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/json" {
			var req struct {
				Source string `json:"source"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				badJSON(w)
				return
			}
			source = req.Source
		}
		if source == "" {
			response.Fail(w, http.StatusBadRequest,
				models.ErrCodeInvalidInput, "Template source is required", nil)
			return
		}

		if err := svc.PutTemplate(r.Context(), owner, templateID, source); err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{
			"templateId": templateID,
			"sizeBytes":  len(source),
		})
	}
}

// NewUsageHandler returns an http.HandlerFunc for GET /api/v1/usage.
func NewUsageHandler(svc UsageReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		report, err := svc.Usage(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, report)
	}
}
