package services

import (
	"errors"
	"fmt"
)

// ErrorKind names a failure class surfaced to API callers.
type ErrorKind string

const (
	KindNotFound             ErrorKind = "not_found"
	KindExpired              ErrorKind = "expired"
	KindAlreadyUsed          ErrorKind = "already_used"
	KindAttemptsExhausted    ErrorKind = "attempts_exhausted"
	KindChannelLocked        ErrorKind = "channel_locked"
	KindRateLimited          ErrorKind = "rate_limited"
	KindTransportUnavailable ErrorKind = "transport_unavailable"
	KindValidation           ErrorKind = "validation_error"
	KindInternal             ErrorKind = "internal"
)

// ServiceError carries a failure kind plus a user-facing reason. Handlers map
// the kind to an HTTP status; the reason string goes to the client verbatim.
type ServiceError struct {
	Kind                 ErrorKind
	Reason               string
	RemainingLockMinutes int
	Err                  error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func newError(kind ErrorKind, reason string) *ServiceError {
	return &ServiceError{Kind: kind, Reason: reason}
}

func wrapError(kind ErrorKind, reason string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Reason: reason, Err: err}
}

// AsServiceError extracts a *ServiceError from an error chain. Unclassified
// errors come back as KindInternal so no failure leaks without a kind.
func AsServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return &ServiceError{Kind: KindInternal, Reason: "internal error", Err: err}
}
