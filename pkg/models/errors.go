package models

// ErrorCode is the stable wire classification of a failure.
type ErrorCode string

const (
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeInvalidTemplate   ErrorCode = "INVALID_TEMPLATE"
	ErrCodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeGenerationTimeout ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeBackendThrottled  ErrorCode = "SERVICE_THROTTLED"
	ErrCodeParseError        ErrorCode = "PARSE_ERROR"
	ErrCodeContentBlocked    ErrorCode = "CONTENT_BLOCKED"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeGenerationError   ErrorCode = "GENERATION_ERROR"

	ErrCodeSubscriptionInactive ErrorCode = "SUBSCRIPTION_INACTIVE"
	ErrCodeUpgradeRequired      ErrorCode = "UPGRADE_REQUIRED"
)

// Retryable reports whether a client may resubmit the same input after a delay.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrCodeBackendThrottled, ErrCodeGenerationTimeout, ErrCodeEngineUnavailable:
		return true
	}
	return false
}
