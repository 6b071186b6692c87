package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"apicore/internal/ratelimit"
)

// Metrics holds the Prometheus collectors for HTTP traffic and rate limit
// admissions. It implements ratelimit.Recorder.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Admissions      *prometheus.CounterVec
	DegradedTotal   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apicore_requests_total",
				Help: "Total HTTP requests processed",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apicore_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apicore_ratelimit_admissions_total",
				Help: "Rate limit decisions by tier, endpoint class and outcome",
			},
			[]string{"tier", "class", "outcome"},
		),
		DegradedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apicore_ratelimit_degraded_total",
				Help: "Decisions made without the bucket store under the failure policy",
			},
			[]string{"tier", "class"},
		),
	}

	reg.MustRegister(m.RequestsTotal, m.RequestDuration, m.Admissions, m.DegradedTotal)
	return m
}

// RecordAdmission implements ratelimit.Recorder.
func (m *Metrics) RecordAdmission(key ratelimit.Key, allowed bool, degraded bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.Admissions.WithLabelValues(key.Tier, key.Class, outcome).Inc()
	if degraded {
		m.DegradedTotal.WithLabelValues(key.Tier, key.Class).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records per-request metrics, labelled with the matched
// gorilla/mux path template so item IDs do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		code := rec.status
		if code == 0 {
			code = http.StatusOK
		}

		m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
	})
}

// MetricsServer serves Prometheus metrics on a separate port.
type MetricsServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewMetricsServer creates a metrics HTTP server serving gatherer at the
// given path on the given port.
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, log zerolog.Logger) *MetricsServer {
	router := http.NewServeMux()

	if gatherer != nil {
		router.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start begins serving metrics in a blocking call.
// Returns http.ErrServerClosed on graceful shutdown.
func (ms *MetricsServer) Start() error {
	ms.log.Info().Str("addr", ms.server.Addr).Msg("starting metrics server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
