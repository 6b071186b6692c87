package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"apicore/internal/observability"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}
}

// WithMetrics records request counts and latencies per route template.
func WithMetrics(m *observability.Metrics) RouteOption {
	return func(r *mux.Router) {
		r.Use(m.Middleware)
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	api.Handle("/items", handlers.pipeline.Handler(handlers.ItemsRoute())).Methods(http.MethodGet, http.MethodHead)
	api.Handle("/items/{id}", handlers.pipeline.Handler(handlers.ItemRoute())).Methods(http.MethodGet, http.MethodHead)

	router.Use(requestLogging(handlers.log))
	router.Use(recoveryMiddleware)

	// mux skips middleware for unmatched requests, so these two carry their
	// own logging.
	router.NotFoundHandler = requestLogging(handlers.log)(http.HandlerFunc(notFound))
	router.MethodNotAllowedHandler = requestLogging(handlers.log)(http.HandlerFunc(methodNotAllowed))

	return router
}
