package netexec

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error classes, used for logging and failure markers.
const (
	ClassTransient  = "transient"
	ClassRateLimit  = "rate_limit"
	ClassPermanent  = "permanent"
	ClassCredential = "credential"
)

// ErrTokenExpired signals a credential that can be recovered by a refresh.
var ErrTokenExpired = errors.New("token expired")

// ErrRemoteGone signals that the remote object (usually a post) no longer
// exists. Never retried; callers stop asking for the object instead.
var ErrRemoteGone = errors.New("remote object gone")

// IsNotFound reports whether err indicates a missing remote object.
func IsNotFound(err error) bool { return errors.Is(err, ErrRemoteGone) }

// CredentialError is fatal for a platform until an operator supplies new
// credentials. It is never retried.
type CredentialError struct {
	Platform string
	Reason   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: credential error: %s", e.Platform, e.Reason)
}

// StoreError wraps persistence failures. These are fatal for the current
// operation and must never be silently swallowed.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return "store: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable (validation, malformed request,
// revoked permission). The executor fails fast on these.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err should not be retried. Credential errors
// and expired tokens are permanent from the executor's point of view; the
// credential manager, not the retry loop, recovers those.
func IsPermanent(err error) bool {
	var pe permanentError
	var ce *CredentialError
	return errors.As(err, &pe) || errors.As(err, &ce) ||
		errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrRemoteGone)
}

// RateLimited marks an error as a rate-limit signal with an optional
// retry-after hint. The executor retries it, respecting the hint.
func RateLimited(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return rateLimitError{err: err, after: after}
}

type rateLimitError struct {
	err   error
	after time.Duration
}

func (e rateLimitError) Error() string             { return fmt.Sprintf("rate limited (retry after %s): %v", e.after, e.err) }
func (e rateLimitError) Unwrap() error             { return e.err }
func (e rateLimitError) RetryAfter() time.Duration { return e.after }

// RetryAfterError is implemented by errors carrying an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Classify returns the error class name for logging and failure markers.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case func() bool { var ce *CredentialError; return errors.As(err, &ce) }() || errors.Is(err, ErrTokenExpired):
		return ClassCredential
	case func() bool { var re rateLimitError; return errors.As(err, &re) }():
		return ClassRateLimit
	case IsPermanent(err):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// FromHTTPStatus classifies a platform API response by status code rather
// than by matching error message text. retryAfter is taken from the
// Retry-After header when present.
func FromHTTPStatus(status int, retryAfter time.Duration, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited(err, retryAfter)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case status == http.StatusForbidden:
		return Permanent(err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrRemoteGone, err)
	case status >= 500:
		return err // transient by default
	case status >= 400:
		return Permanent(err)
	default:
		return err
	}
}

// ExhaustedError annotates the last transient error once retries run out.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}
func (e *ExhaustedError) Unwrap() error { return e.Err }
