package submit

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/docrender/pkg/models"
)

// Error is a rejection the caller can act on. It is never queued.
type Error struct {
	Code    models.ErrorCode
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code models.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Error {
	return newError(models.ErrCodeInvalidInput, format, args...)
}

// AsError extracts a submission error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
