package handler_test

import (
	"net/http"
	"testing"

	"github.com/kiranshivaraju/docrender/internal/api/handler"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code models.ErrorCode
		want int
	}{
		{models.ErrCodeInvalidInput, http.StatusBadRequest},
		{models.ErrCodeInvalidTemplate, http.StatusBadRequest},
		{models.ErrCodeSubscriptionInactive, http.StatusPaymentRequired},
		{models.ErrCodeUpgradeRequired, http.StatusForbidden},
		{models.ErrCodeNotFound, http.StatusNotFound},
		{models.ErrCodeQuotaExceeded, http.StatusTooManyRequests},
		{models.ErrCodeEngineUnavailable, http.StatusServiceUnavailable},
		{models.ErrCodeBackendThrottled, http.StatusServiceUnavailable},
		{models.ErrCodeGenerationTimeout, http.StatusGatewayTimeout},
		{models.ErrCodeParseError, http.StatusInternalServerError},
		{models.ErrCodeGenerationError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, handler.StatusFor(tt.code))
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	raw, hash, err := handler.GenerateAPIKey()
	assert.NoError(t, err)
	assert.Len(t, raw, 3+48)
	assert.NotEqual(t, raw, hash)

	other, _, err := handler.GenerateAPIKey()
	assert.NoError(t, err)
	assert.NotEqual(t, raw, other)
}
