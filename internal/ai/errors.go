package ai

import (
	"errors"

	"github.com/kiranshivaraju/docrender/pkg/models"
)

// Provider sentinels. Backends wrap them with the upstream detail.
var (
	ErrProviderUnavailable = errors.New("generation backend unavailable")
	ErrInferenceTimeout    = errors.New("generation backend timed out")
	ErrInvalidResponse     = errors.New("generation backend returned an unusable response")
	ErrThrottled           = errors.New("generation backend throttled the request")
	ErrContentBlocked      = errors.New("generation backend blocked the content")
)

// Code maps a provider error onto the job failure taxonomy. ok is false when
// err carries none of the sentinels above.
func Code(err error) (code models.ErrorCode, ok bool) {
	switch {
	case errors.Is(err, ErrInferenceTimeout):
		return models.ErrCodeGenerationTimeout, true
	case errors.Is(err, ErrThrottled):
		return models.ErrCodeBackendThrottled, true
	case errors.Is(err, ErrInvalidResponse):
		return models.ErrCodeParseError, true
	case errors.Is(err, ErrContentBlocked):
		return models.ErrCodeContentBlocked, true
	case errors.Is(err, ErrProviderUnavailable):
		return models.ErrCodeGenerationError, true
	}
	return "", false
}
