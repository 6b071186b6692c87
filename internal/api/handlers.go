package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"apicore/internal/apierror"
	"apicore/internal/models"
	"apicore/internal/pipeline"
	"apicore/internal/storage"
	"apicore/internal/version"
)

// Endpoint classes used for per class quotas.
const (
	ClassList = "list"
	ClassRead = "read"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency whose reachability is reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name string
	ping Pinger
	// critical dependencies turn the service unhealthy; the others only
	// degrade it.
	critical bool
}

// Handlers contains the HTTP handlers of the item API.
type Handlers struct {
	items    storage.Items
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
	version  version.Info
	started  time.Time
	deps     []dependency
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithDependency adds a component to the health report. A failing critical
// dependency makes the service unhealthy; any other makes it degraded.
func WithDependency(name string, p Pinger, critical bool) HandlerOption {
	return func(h *Handlers) {
		h.deps = append(h.deps, dependency{name: name, ping: p, critical: critical})
	}
}

func WithVersion(v version.Info) HandlerOption {
	return func(h *Handlers) { h.version = v }
}

// NewHandlers creates a new handlers instance. The item store is always a
// critical health dependency.
func NewHandlers(items storage.Items, p *pipeline.Pipeline, log zerolog.Logger, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		items:    items,
		pipeline: p,
		log:      log,
		started:  time.Now(),
		deps:     []dependency{{name: "storage", ping: items, critical: true}},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ItemsRoute serves GET /api/v1/items as a sortable, cursor paginated
// collection.
func (h *Handlers) ItemsRoute() pipeline.Route {
	return pipeline.Route{
		Class:  ClassList,
		Sort:   &storage.ItemSchema,
		Handle: pipeline.Collection[models.Item](h.items, storage.ItemKey),
	}
}

// ItemRoute serves GET /api/v1/items/{id}.
func (h *Handlers) ItemRoute() pipeline.Route {
	return pipeline.Route{
		Class:  ClassRead,
		Handle: h.getItem,
	}
}

func (h *Handlers) getItem(ctx context.Context, in pipeline.Input) (pipeline.Result, error) {
	raw := in.Vars["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		var c apierror.Collector
		c.Add("id", apierror.CodeInvalidInteger, "id must be a positive integer", raw)
		return pipeline.Result{}, c.Err()
	}

	item, err := h.items.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return pipeline.Result{}, apierror.NewNotFound(fmt.Sprintf("item %d does not exist", id))
	}
	if err != nil {
		return pipeline.Result{}, err
	}
	return pipeline.Result{Data: item}, nil
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	now := time.Now().UTC()
	response := models.HealthCheckResponse{
		Status:     models.StatusHealthy,
		Timestamp:  now,
		Version:    h.version.Version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: make(map[string]models.ComponentHealth, len(h.deps)),
	}

	for _, dep := range h.deps {
		component := models.ComponentHealth{Status: models.StatusHealthy, Timestamp: now}
		if err := dep.ping.Ping(ctx); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("component", dep.name).Msg("Health check failed")
			component.Message = err.Error()
			if dep.critical {
				component.Status = models.StatusUnhealthy
				response.Status = models.StatusUnhealthy
			} else {
				component.Status = models.StatusDegraded
				if response.Status == models.StatusHealthy {
					response.Status = models.StatusDegraded
				}
			}
		}
		response.Components[dep.name] = component
	}

	status := http.StatusOK
	if response.Status == models.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, r, status, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already out; there is nothing left to tell the client.
		hlog.FromRequest(r).Error().Err(err).Msg("Error encoding JSON response")
	}
}

// writeError renders e through the error taxonomy with the request id.
func writeError(w http.ResponseWriter, r *http.Request, e *apierror.Error) {
	rendered := *e
	rendered.RequestID = pipeline.RequestID(r)
	w.Header().Set("X-Request-ID", rendered.RequestID)
	apierror.Write(w, &rendered)
}
