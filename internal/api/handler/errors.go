// Package handler implements the HTTP endpoints on top of the submission
// service.
package handler

import (
	"errors"
	"net/http"

	mw "github.com/kiranshivaraju/docrender/internal/api/middleware"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/kiranshivaraju/docrender/internal/submit"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/rs/zerolog"
)

// StatusFor maps an error code onto its HTTP status.
func StatusFor(code models.ErrorCode) int {
	switch code {
	case models.ErrCodeInvalidInput, models.ErrCodeInvalidTemplate:
		return http.StatusBadRequest
	case models.ErrCodeSubscriptionInactive:
		return http.StatusPaymentRequired
	case models.ErrCodeUpgradeRequired:
		return http.StatusForbidden
	case models.ErrCodeNotFound:
		return http.StatusNotFound
	case models.ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	case models.ErrCodeEngineUnavailable, models.ErrCodeBackendThrottled:
		return http.StatusServiceUnavailable
	case models.ErrCodeGenerationTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := submit.AsError(err); ok {
		var details any
		if len(e.Details) > 0 {
			details = e.Details
		}
		response.Fail(w, StatusFor(e.Code), e.Code, e.Message, details)
		return
	}
	if errors.Is(err, submit.ErrUnavailable) {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("submission unavailable")
		response.Error(w, http.StatusServiceUnavailable,
			"SERVICE_UNAVAILABLE", "The service is temporarily unavailable, retry later", nil)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	response.Error(w, http.StatusInternalServerError,
		"INTERNAL_ERROR", "An unexpected error occurred", nil)
}

func ownerOrReject(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
	}
	return owner, ok
}

func badJSON(w http.ResponseWriter) {
	response.Fail(w, http.StatusBadRequest, models.ErrCodeInvalidInput, "Invalid JSON body", nil)
}
