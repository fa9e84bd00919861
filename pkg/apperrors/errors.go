package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrStaleResult = errors.New("validation result superseded by a newer revision")
	// ErrInvalidInput marks a request or message that fails basic validation.
	ErrInvalidInput = errors.New("invalid input")
)

// MalformedKeyError reports an object-storage key that cannot be classified
// into a concept identity. Such objects are surfaced to operators, never ingested.
type MalformedKeyError struct {
	Key    string
	Reason string
}

func (e *MalformedKeyError) Error() string {
	return fmt.Sprintf("malformed storage key %q: %s", e.Key, e.Reason)
}

// ConfigurationError reports a missing or disallowed operator setting.
type ConfigurationError struct {
	Variable string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration error: %s is not set", e.Variable)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Variable, e.Reason)
}

// IngestionError wraps a store or storage failure during ingestion.
// It is always safe to retry by redelivering the notification.
type IngestionError struct {
	Op  string
	Err error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed during %s: %v", e.Op, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IsRetryable satisfies retry.RetryableError.
func (e *IngestionError) IsRetryable() bool { return true }

// IsClientError reports whether err should be surfaced as a 4xx response.
func IsClientError(err error) bool {
	var mk *MalformedKeyError
	var ce *ConfigurationError
	return errors.As(err, &mk) || errors.As(err, &ce) || errors.Is(err, ErrInvalidInput)
}
