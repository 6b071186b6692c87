package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/rs/xid"
	"github.com/rs/zerolog/hlog"

	"apicore/internal/ratelimit"
)

const (
	headerRequestID = "X-Request-ID"
	headerVary      = "Vary"
)

// Handler adapts the state machine to net/http for route.
func (p *Pipeline) Handler(route Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		req := Request{
			ID:             RequestID(r),
			Accept:         r.Header.Get("Accept"),
			AcceptEncoding: r.Header.Get("Accept-Encoding"),
			AcceptLanguage: r.Header.Get("Accept-Language"),
			Limit:          query.Get("limit"),
			Cursor:         query.Get("cursor"),
			Sort:           query.Get("sort"),
			Vars:           mux.Vars(r),
		}
		if p.keys != nil {
			req.Identify = func() (ratelimit.Key, error) {
				return p.keys.Resolve(r, route.Class)
			}
		}

		out := p.Run(r.Context(), route, req)
		p.write(w, r, req.ID, out)
	})
}

// RequestID returns the id assigned by the request id middleware, the
// client supplied X-Request-ID, or a new id.
func RequestID(r *http.Request) string {
	if id, ok := hlog.IDFromRequest(r); ok {
		return id.String()
	}
	if id := strings.TrimSpace(r.Header.Get(headerRequestID)); id != "" && len(id) <= 128 {
		return id
	}
	return xid.New().String()
}

func (p *Pipeline) write(w http.ResponseWriter, r *http.Request, requestID string, out Outcome) {
	h := w.Header()
	h.Set(headerRequestID, requestID)

	if out.Admission != nil && out.Admission.Limit > 0 {
		h.Set("RateLimit-Limit", strconv.Itoa(out.Admission.Limit))
		h.Set("RateLimit-Remaining", strconv.Itoa(max(out.Admission.Remaining, 0)))
		h.Set("RateLimit-Reset", strconv.FormatInt(out.Admission.ResetAt.Unix(), 10))
	}

	if out.Negotiated() {
		h.Set(headerVary, strings.Join(out.Format.Vary, ", "))
		if out.Format.Language != "" {
			h.Set("Content-Language", out.Format.Language)
		}
	}

	if out.Err != nil {
		// Error bodies are always JSON and never compressed.
		h.Set("Content-Type", "application/json")
		if out.Err.RetryAfter != nil {
			h.Set("Retry-After", strconv.Itoa(*out.Err.RetryAfter))
		}
		w.WriteHeader(out.Status)
		w.Write(out.Body)
		return
	}

	h.Set("Content-Type", out.Format.MediaType)
	body := out.Body
	if out.Format.Encoding != "" {
		compressed, err := compress(out.Format.Encoding, out.Body)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("encoding", out.Format.Encoding).Msg("Response compression failed, sending identity")
		} else {
			h.Set("Content-Encoding", out.Format.Encoding)
			body = compressed
		}
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(out.Status)
	if r.Method != http.MethodHead {
		if _, err := w.Write(body); err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("Failed to write response body")
		}
	}
}

// compress encodes body with the named content coding.
func compress(encoding string, body []byte) ([]byte, error) {
	var (
		buf bytes.Buffer
		zw  io.WriteCloser
	)
	switch encoding {
	case "gzip":
		zw = gzip.NewWriter(&buf)
	case "deflate":
		// The HTTP deflate coding is the zlib format.
		zw = zlib.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
