// Package awserr classifies AWS SDK failures so callers can decide whether
// a retry is worthwhile.
package awserr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// Error wraps an AWS SDK error with the operation that failed.
// It implements IsRetryable so retry.IsRetryable honours the classification.
type Error struct {
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("aws %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("aws %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is transient.
func (e *Error) IsRetryable() bool { return e.Retryable }

// Wrap classifies err. Throttling, server faults and deadline expiry are
// retryable; client faults (bad parameters, missing permissions, unknown
// queue) are not. Caller cancellation is never retryable.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	wrapped := &Error{Op: op, Err: err}

	var apiErr smithy.APIError
	switch {
	case errors.Is(err, context.Canceled):
		wrapped.Retryable = false
	case errors.Is(err, context.DeadlineExceeded):
		wrapped.Retryable = true
	case errors.As(err, &apiErr):
		wrapped.Code = apiErr.ErrorCode()
		wrapped.Retryable = apiErr.ErrorFault() == smithy.FaultServer || isThrottle(wrapped.Code)
	default:
		// Transport failures (DNS, connection reset) surface without an API error.
		var opErr *smithy.OperationError
		wrapped.Retryable = errors.As(err, &opErr)
	}
	return wrapped
}

func isThrottle(code string) bool {
	code = strings.ToLower(code)
	return strings.Contains(code, "throttl") ||
		strings.Contains(code, "toomanyrequests") ||
		strings.Contains(code, "slowdown") ||
		code == "requestlimitexceeded"
}

// IsNotFound reports whether err is an S3 missing-object response.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey":
		return true
	}
	return false
}
