package core

import "errors"

// AppError is a classified error. Callers branch on the Code via errors.Is
// against the sentinels below; Internal carries the underlying cause.
type AppError struct {
	Code     string
	Message  string
	Internal error
}

func (e *AppError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap creates a new AppError with the sentinel's code and message wrapping internal.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:     sentinel.Code,
		Message:  sentinel.Message,
		Internal: internal,
	}
}

// WithMessage creates a new AppError with the sentinel's code and a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:     sentinel.Code,
		Message:  message,
		Internal: sentinel.Internal,
	}
}

var (
	ErrValidation       = &AppError{Code: "VALIDATION", Message: "invalid input"}
	ErrNotFound         = &AppError{Code: "NOT_FOUND", Message: "resource not found"}
	ErrPersistence      = &AppError{Code: "PERSISTENCE", Message: "storage operation failed"}
	ErrQueueUnavailable = &AppError{Code: "QUEUE_UNAVAILABLE", Message: "queue unavailable"}
	ErrProcessing       = &AppError{Code: "PROCESSING", Message: "message processing failed"}
)

// ErrStaleCursor reports that a recurrence cursor no longer held the
// expected value when it was about to be advanced.
var ErrStaleCursor = &AppError{Code: "STALE_CURSOR", Message: "recurrence cursor changed concurrently"}

// Field-level validation failures. They all match ErrValidation.
var (
	ErrInvalidAmount      = WithMessage(ErrValidation, "invalid amount")
	ErrEmptyDescription   = WithMessage(ErrValidation, "empty description")
	ErrEmptyOwner         = WithMessage(ErrValidation, "empty owner reference")
	ErrInvalidDate        = WithMessage(ErrValidation, "invalid date")
	ErrInvalidInterval    = WithMessage(ErrValidation, "invalid recurrence interval")
	ErrCursorMismatch     = WithMessage(ErrValidation, "next recurrence date must be set if and only if the transaction recurs")
	ErrDescriptionTooLong = WithMessage(ErrValidation, "description too long (max 200 characters)")
)
