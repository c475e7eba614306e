package worker

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/docrender/internal/ai"
	"github.com/kiranshivaraju/docrender/internal/blob"
	"github.com/kiranshivaraju/docrender/internal/render"
	"github.com/kiranshivaraju/docrender/internal/template"
	"github.com/kiranshivaraju/docrender/pkg/models"
)

// ErrInvalidInput marks a payload the worker cannot act on.
var ErrInvalidInput = errors.New("invalid job input")

const maxFailureMessage = 1000

// Classify maps a processing error onto the failure taxonomy. Sentinels are
// matched first; backend errors that arrive as plain text fall back to
// message matching.
func Classify(err error) models.Failure {
	return models.Failure{Code: classifyCode(err), Message: failureMessage(err)}
}

func classifyCode(err error) models.ErrorCode {
	switch {
	case err == nil:
		return models.ErrCodeGenerationError
	case errors.Is(err, ErrInvalidInput), errors.Is(err, models.ErrPayloadMismatch):
		return models.ErrCodeInvalidInput
	case errors.Is(err, template.ErrInvalidTemplate):
		return models.ErrCodeInvalidTemplate
	case errors.Is(err, render.ErrEngineUnavailable):
		return models.ErrCodeEngineUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrCodeGenerationTimeout
	case errors.Is(err, blob.ErrNotFound):
		return models.ErrCodeNotFound
	}
	if code, ok := ai.Code(err); ok {
		return code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return models.ErrCodeBackendThrottled
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return models.ErrCodeGenerationTimeout
	case strings.Contains(msg, "invalid handlebars"):
		return models.ErrCodeInvalidTemplate
	case strings.Contains(msg, "failed to parse"):
		return models.ErrCodeParseError
	case strings.Contains(msg, "content filter"):
		return models.ErrCodeContentBlocked
	case strings.Contains(msg, "nosuchkey"), strings.Contains(msg, "no such key"):
		return models.ErrCodeNotFound
	}
	return models.ErrCodeGenerationError
}

func failureMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if len(msg) <= maxFailureMessage {
		return msg
	}
	// Cut on a rune boundary; Postgres rejects invalid UTF-8 in TEXT.
	n := maxFailureMessage
	for n > 0 && !utf8.RuneStart(msg[n]) {
		n--
	}
	return msg[:n]
}
