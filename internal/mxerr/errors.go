// Package mxerr models the error kinds that cross component boundaries in
// this module: LOCAL_TIMEOUT, CANCELLED, NETWORK, HTTP_STATUS, MATRIX_ERROR,
// RATE_LIMITED, UNKNOWN_TOKEN, NO_INCOMPLETE_FLOWS, and GAVE_UP. These are
// kinds, not Go types in the usual sense — they share one struct so callers
// can use errors.As once and switch on Kind.
package mxerr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the spec's named error kinds an Error carries.
type Kind string

const (
	KindLocalTimeout       Kind = "LOCAL_TIMEOUT"
	KindCancelled          Kind = "CANCELLED"
	KindNetwork            Kind = "NETWORK"
	KindHTTPStatus         Kind = "HTTP_STATUS"
	KindMatrixError        Kind = "MATRIX_ERROR"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindUnknownToken       Kind = "UNKNOWN_TOKEN"
	KindNoIncompleteFlows  Kind = "NO_INCOMPLETE_FLOWS"
	KindGaveUp             Kind = "GAVE_UP"
)

// Error is the single error shape used for every kind listed above.
type Error struct {
	Kind Kind

	// MATRIX_ERROR / RATE_LIMITED fields.
	Errcode    string
	Message    string
	HTTPStatus int

	// RATE_LIMITED.
	RetryAfterMs int64

	// HTTP_STATUS / NETWORK.
	Wrapped error

	// GAVE_UP.
	LastError error

	// Body is the raw response body, when available — set on HTTP_STATUS
	// errors for 401 challenges so callers (internal/uia) can decode the
	// interactive-auth flow description without a second round trip.
	Body []byte
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMatrixError:
		return fmt.Sprintf("matrix error %s: %s (http %d)", e.Errcode, e.Message, e.HTTPStatus)
	case KindRateLimited:
		return fmt.Sprintf("rate limited: retry after %dms", e.RetryAfterMs)
	case KindHTTPStatus:
		return fmt.Sprintf("http status error: %v", e.Wrapped)
	case KindNetwork:
		return fmt.Sprintf("network error: %v", e.Wrapped)
	case KindGaveUp:
		return fmt.Sprintf("gave up after retries: %v", e.LastError)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if e.Wrapped != nil {
		return e.Wrapped
	}
	return e.LastError
}

// Is lets errors.Is(err, mxerr.ErrCancelled) work for the payload-free kinds.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func LocalTimeout() error { return &Error{Kind: KindLocalTimeout} }
func Cancelled() error    { return &Error{Kind: KindCancelled} }

func Network(wrapped error) error {
	return &Error{Kind: KindNetwork, Wrapped: wrapped}
}

func HTTPStatus(status int, wrapped error) error {
	return &Error{Kind: KindHTTPStatus, HTTPStatus: status, Wrapped: wrapped}
}

// HTTPStatusWithBody is HTTPStatus plus the raw response body, used for 401
// responses so a decoder downstream (e.g. the UIA driver) can inspect the
// challenge without the gateway needing to know its shape.
func HTTPStatusWithBody(status int, body []byte) error {
	return &Error{Kind: KindHTTPStatus, HTTPStatus: status, Body: body}
}

func Matrix(errcode, message string, httpStatus int) error {
	return &Error{Kind: KindMatrixError, Errcode: errcode, Message: message, HTTPStatus: httpStatus}
}

func RateLimited(retryAfterMs int64) error {
	return &Error{Kind: KindRateLimited, Errcode: "M_LIMIT_EXCEEDED", RetryAfterMs: retryAfterMs}
}

func UnknownToken() error { return &Error{Kind: KindUnknownToken, Errcode: "M_UNKNOWN_TOKEN"} }

func NoIncompleteFlows() error { return &Error{Kind: KindNoIncompleteFlows} }

func GaveUp(lastError error) error {
	return &Error{Kind: KindGaveUp, LastError: lastError}
}

// As is a small convenience wrapper so call sites can write
// mxerr.As(err) instead of declaring a local *mxerr.Error each time.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// RetryAfterMs extracts the server-advertised retry delay from a
// RATE_LIMITED error, returning (0, false) for anything else (including a
// plain MATRIX_ERROR).
func RetryAfterMs(err error) (int64, bool) {
	e, ok := As(err)
	if !ok || e.Kind != KindRateLimited {
		return 0, false
	}
	return e.RetryAfterMs, true
}

var (
	ErrLocalTimeout      = LocalTimeout()
	ErrCancelled         = Cancelled()
	ErrUnknownToken      = UnknownToken()
	ErrNoIncompleteFlows = NoIncompleteFlows()
)
