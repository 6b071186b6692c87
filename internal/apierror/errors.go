// Package apierror defines the error kinds every response failure is reported
// as, their fixed HTTP status mapping and the JSON body they render to.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure. The string value is the "type" field
// of the rendered body.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindAuthenticationRequired Kind = "authentication_required"
	KindAuthorizationDenied    Kind = "authorization_denied"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindInvalidCursor          Kind = "invalid_cursor"
	KindNotAcceptable          Kind = "not_acceptable"
	KindRateLimited            Kind = "rate_limited"
	KindInternal               Kind = "internal"
	KindUpstreamUnavailable    Kind = "upstream_unavailable"
)

// UpstreamCause selects the status reported for KindUpstreamUnavailable.
type UpstreamCause int

const (
	UpstreamUnavailable UpstreamCause = iota // 503
	UpstreamBadGateway                       // 502
	UpstreamTimeout                          // 504
)

var statusByKind = map[Kind]int{
	KindValidation:             http.StatusBadRequest,
	KindAuthenticationRequired: http.StatusUnauthorized,
	KindAuthorizationDenied:    http.StatusForbidden,
	KindNotFound:               http.StatusNotFound,
	KindConflict:               http.StatusConflict,
	KindInvalidCursor:          http.StatusBadRequest,
	KindNotAcceptable:          http.StatusNotAcceptable,
	KindRateLimited:            http.StatusTooManyRequests,
	KindInternal:               http.StatusInternalServerError,
	KindUpstreamUnavailable:    http.StatusServiceUnavailable,
}

var titleByKind = map[Kind]string{
	KindValidation:             "Request validation failed",
	KindAuthenticationRequired: "Authentication required",
	KindAuthorizationDenied:    "Permission denied",
	KindNotFound:               "Resource not found",
	KindConflict:               "Resource conflict",
	KindInvalidCursor:          "Invalid pagination cursor",
	KindNotAcceptable:          "No acceptable representation",
	KindRateLimited:            "Rate limit exceeded",
	KindInternal:               "Internal server error",
	KindUpstreamUnavailable:    "Upstream service unavailable",
}

// Known reports whether k is one of the defined kinds.
func (k Kind) Known() bool {
	_, ok := statusByKind[k]
	return ok
}

// Status returns the HTTP status for the kind. Unknown kinds map to 500.
func Status(k Kind, cause UpstreamCause) int {
	if k == KindUpstreamUnavailable {
		switch cause {
		case UpstreamBadGateway:
			return http.StatusBadGateway
		case UpstreamTimeout:
			return http.StatusGatewayTimeout
		default:
			return http.StatusServiceUnavailable
		}
	}
	if status, ok := statusByKind[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error is a failure tagged with its kind. It is created where the failure
// happens and rendered once by the response writer.
type Error struct {
	Kind        Kind
	Detail      string
	FieldErrors []FieldError
	RequestID   string
	// RetryAfter is in seconds and only set for rate limit rejections.
	RetryAfter *int
	Upstream   UpstreamCause
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error.
func (e *Error) Status() int {
	return Status(e.Kind, e.Upstream)
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, apierror.New(apierror.KindNotFound, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind with an optional detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates an error of the given kind carrying cause for logging.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

func NewValidation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, FieldErrors: fields}
}

func NewNotFound(detail string) *Error {
	return &Error{Kind: KindNotFound, Detail: detail}
}

func NewConflict(detail string) *Error {
	return &Error{Kind: KindConflict, Detail: detail}
}

func NewInvalidCursor(cause error) *Error {
	return &Error{
		Kind:   KindInvalidCursor,
		Detail: "the cursor is malformed or was issued for a different sort order",
		Err:    cause,
	}
}

func NewNotAcceptable(detail string) *Error {
	return &Error{Kind: KindNotAcceptable, Detail: detail}
}

func NewRateLimited(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Kind:       KindRateLimited,
		Detail:     fmt.Sprintf("retry in %d seconds", retryAfter),
		RetryAfter: &retryAfter,
	}
}

func NewInternal(cause error) *Error {
	return &Error{Kind: KindInternal, Err: cause}
}

func NewUpstream(cause UpstreamCause, detail string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, Upstream: cause, Detail: detail, Err: err}
}

// From classifies an arbitrary error. Typed errors keep their kind, deadline
// errors become gateway timeouts, anything else is Internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewUpstream(UpstreamTimeout, "upstream call timed out", err)
	}
	return NewInternal(err)
}
