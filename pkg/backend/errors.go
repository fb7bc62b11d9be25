package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a backend failure. The set is closed: every error a
// backend or the gateway returns maps to exactly one kind.
type ErrorKind int

const (
	// KindNetwork is a connection-level failure (DNS, refused, reset).
	KindNetwork ErrorKind = iota

	// KindTimeout means the bounded per-call timeout or the caller's
	// deadline elapsed before the backend answered.
	KindTimeout

	// KindStatus is a non-2xx HTTP status other than 429.
	KindStatus

	// KindDecode means the response body was not the expected JSON shape.
	KindDecode

	// KindRemote means the backend answered well-formed JSON that reports
	// failure (e.g. {"success": false, "error": "..."}).
	KindRemote

	// KindRateLimit means the backend refused the call because of rate
	// limiting. It is the only kind eligible for automatic retry.
	KindRateLimit

	// KindUnavailable means the call was never sent: the backend is unknown
	// to the gateway or its circuit breaker is open.
	KindUnavailable

	// KindUnsupported means the backend cannot serve the requested
	// operation.
	KindUnsupported
)

// String returns the lower-case name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	case KindRemote:
		return "remote"
	case KindRateLimit:
		return "rate_limit"
	case KindUnavailable:
		return "unavailable"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// RateLimitCode is the remote error code backends use to signal rate
// limiting inside a failure envelope.
const RateLimitCode = "RATE_LIMIT_EXCEEDED"

// TransportError is the single error shape produced by the gateway layer.
type TransportError struct {
	Kind      ErrorKind
	Message   string
	Backend   string
	Operation string

	// StatusCode is the HTTP status when Kind is KindStatus or
	// KindRateLimit, zero otherwise.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Backend, e.Operation, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error { return e.Err }

// PublicMessage is a caller-safe description that leaks neither backend
// names nor remote error bodies.
func (e *TransportError) PublicMessage() string {
	switch e.Kind {
	case KindRemote:
		if e.Message != "" {
			return e.Message
		}
	case KindRateLimit:
		return "generation service is rate limited, try again later"
	case KindTimeout:
		return "generation service timed out"
	case KindUnavailable:
		return "generation service unavailable"
	}
	return fmt.Sprintf("generation request failed (%s)", e.Kind)
}

// NewError constructs a TransportError.
func NewError(kind ErrorKind, backend, operation, message string, cause error) *TransportError {
	return &TransportError{
		Kind:      kind,
		Message:   message,
		Backend:   backend,
		Operation: operation,
		Err:       cause,
	}
}

// KindOf returns the kind of the first TransportError in err's chain. The
// second return value is false when err carries no TransportError.
func KindOf(err error) (ErrorKind, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsRateLimit reports whether err is classified as rate limiting.
func IsRateLimit(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindRateLimit
}

// KindForStatus maps a non-2xx HTTP status code to an error kind.
func KindForStatus(code int) ErrorKind {
	if code == http.StatusTooManyRequests {
		return KindRateLimit
	}
	return KindStatus
}

// KindForRemoteCode maps a remote failure-envelope code to an error kind.
func KindForRemoteCode(code string) ErrorKind {
	if code == RateLimitCode {
		return KindRateLimit
	}
	return KindRemote
}

// Classify converts an arbitrary error into a TransportError. Errors that
// already are TransportErrors are returned unchanged; context expiry maps to
// KindTimeout and everything else to KindNetwork.
func Classify(err error, backend, operation string) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	kind := KindNetwork
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return NewError(kind, backend, operation, "request failed", err)
}
