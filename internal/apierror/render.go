package apierror

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const internalDetail = "an unexpected error occurred"

// Body is the wire representation of an error response.
type Body struct {
	Type       string       `json:"type"`
	Title      string       `json:"title"`
	Status     int          `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	Errors     []FieldError `json:"errors,omitempty"`
	RequestID  string       `json:"requestId"`
	RetryAfter *int         `json:"retryAfter,omitempty"`
}

// Context carries the per-failure values rendered into a Body.
type Context struct {
	Detail      string
	FieldErrors []FieldError
	RequestID   string
	RetryAfter  *int
	Upstream    UpstreamCause
}

// Render builds the body for kind. It does no I/O and never panics: an
// unknown kind or a failure while building yields a minimal Internal body.
func Render(kind Kind, c Context) (body Body) {
	defer func() {
		if recover() != nil {
			body = minimal(c.RequestID)
		}
	}()

	if !kind.Known() {
		return minimal(c.RequestID)
	}

	body = Body{
		Type:      string(kind),
		Title:     titleByKind[kind],
		Status:    Status(kind, c.Upstream),
		Detail:    c.Detail,
		RequestID: c.RequestID,
	}
	switch kind {
	case KindInternal:
		// Internal causes are for logs only.
		body.Detail = internalDetail
	case KindRateLimited:
		if c.RetryAfter != nil {
			v := *c.RetryAfter
			body.RetryAfter = &v
		}
	}
	if len(c.FieldErrors) > 0 {
		body.Errors = append([]FieldError(nil), c.FieldErrors...)
	}
	return body
}

func minimal(requestID string) Body {
	return Body{
		Type:      string(KindInternal),
		Title:     titleByKind[KindInternal],
		Status:    http.StatusInternalServerError,
		Detail:    internalDetail,
		RequestID: requestID,
	}
}

// Body renders the error.
func (e *Error) Body() Body {
	if e == nil {
		return minimal("")
	}
	return Render(e.Kind, Context{
		Detail:      e.Detail,
		FieldErrors: e.FieldErrors,
		RequestID:   e.RequestID,
		RetryAfter:  e.RetryAfter,
		Upstream:    e.Upstream,
	})
}

// Marshal renders the error and encodes it as JSON, falling back to the
// minimal Internal body if encoding fails.
func Marshal(e *Error) (int, []byte) {
	body := e.Body()
	data, err := json.Marshal(body)
	if err != nil {
		body = minimal(body.RequestID)
		data, _ = json.Marshal(body)
	}
	return body.Status, data
}

// Write renders the error to w with the matching status and headers.
func Write(w http.ResponseWriter, e *Error) {
	status, data := Marshal(e)
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusTooManyRequests && e != nil && e.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*e.RetryAfter))
	}
	w.WriteHeader(status)
	w.Write(data)
}
