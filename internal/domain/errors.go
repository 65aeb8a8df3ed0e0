package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidSchedule       = errors.New("invalid schedule configuration")
	ErrInvalidPayload        = errors.New("invalid payload for channel")
	ErrInvalidChannel        = errors.New("invalid channel: must be email, sms, push, or in_app")
	ErrInvalidPriority       = errors.New("invalid priority: must be low, normal, high, or urgent")
	ErrInvalidEventType      = errors.New("invalid event type")
	ErrRateLimited           = errors.New("rate limit exceeded for user")
	ErrPreferencesBlocked    = errors.New("blocked by user preferences")
	ErrProviderNotConfigured = errors.New("no provider configured for channel")
	ErrReservedHeader        = errors.New("custom header uses a reserved name")
	ErrNotRetryable          = errors.New("delivery is not retryable in its current status")
	ErrNotReadable           = errors.New("notification cannot be marked read in its current status")
	ErrNotCancellable        = errors.New("cannot be cancelled in its current status")
	ErrSignatureInvalid      = errors.New("signature verification failed")
	ErrSignatureExpired      = errors.New("signature timestamp outside tolerance")
	ErrTemplateNotFound      = errors.New("template not found")
	ErrBatchEmpty            = errors.New("batch must contain at least one notification")
	ErrBatchTooLarge         = errors.New("batch exceeds maximum of 1000 notifications")
)
