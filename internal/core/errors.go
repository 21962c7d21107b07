package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDegraded signals that the pipeline is in rules-only mode and a message
// was queued instead of classified. It is informational, not a failure.
var ErrDegraded = errors.New("pipeline degraded, message queued")

// TransientError wraps a remote failure that is worth retrying (timeouts,
// 5xx responses, connection resets).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError is a rate-limit signal, either from the local limiter or
// from a remote service. RetryAfter is zero when the remote gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "rate limit exceeded"
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must not be retried, such as a
// malformed or schema-violating classifier response.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent classification error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent classification error: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// ConflictError is an optimistic-concurrency mismatch on a mutating call,
// e.g. resolving a suggestion that is no longer pending.
type ConflictError struct {
	Op string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict during %s: state changed concurrently", e.Op)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// AsRateLimit extracts a rate-limit signal from err.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
