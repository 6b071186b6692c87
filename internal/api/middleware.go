package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"apicore/internal/apierror"
)

// requestLogging attaches log to every request context, assigns a request
// id (echoed in X-Request-ID) and writes one access log line per request.
func requestLogging(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return hlog.NewHandler(log)(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				event := hlog.FromRequest(r).Info()
				if status >= http.StatusInternalServerError {
					event = hlog.FromRequest(r).Warn()
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("query", r.URL.RawQuery).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Msg("HTTP request")
			})(
				hlog.RemoteAddrHandler("remote")(
					hlog.UserAgentHandler("user_agent")(
						hlog.RequestIDHandler("request_id", "X-Request-ID")(next),
					),
				),
			),
		)
	}
}

// recoveryMiddleware turns a handler panic into an Internal error response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("Panic recovered")
				writeError(w, r, apierror.NewInternal(fmt.Errorf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// notFound renders unknown routes through the error taxonomy.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apierror.NewNotFound(fmt.Sprintf("no route for %s", r.URL.Path)))
}

// methodNotAllowed reports a method mismatch as a missing resource, since the
// error taxonomy has no 405 kind.
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, apierror.NewNotFound(fmt.Sprintf("method %s is not allowed on %s", r.Method, r.URL.Path)))
}
