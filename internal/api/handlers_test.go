package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apicore/internal/apierror"
	"apicore/internal/models"
	"apicore/internal/negotiate"
	"apicore/internal/observability"
	"apicore/internal/pagination"
	"apicore/internal/pipeline"
	"apicore/internal/ratelimit"
	"apicore/internal/storage"
	"apicore/internal/version"
)

type listBody struct {
	Data       []models.Item   `json:"data"`
	Pagination pagination.Meta `json:"pagination"`
}

type itemBody struct {
	Data models.Item `json:"data"`
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	items   *storage.MemoryItems
	handler *Handlers
	router  *mux.Router
}

type fixtureConfig struct {
	tiers       map[string]ratelimit.Tier
	handlerOpts []HandlerOption
	routeOpts   []RouteOption
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()

	items, err := storage.NewMemoryItems(storage.Config{Type: models.StorageTypeMemory})
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"delta", "alpha", "charlie", "bravo", "echo"} {
		require.NoError(t, items.Save(context.Background(), &models.Item{
			Name:      name,
			Category:  "tools",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	neg, err := negotiate.New(negotiate.Supported{
		Formats:   []string{"application/json"},
		Encodings: []string{"gzip", "deflate"},
		Languages: []string{"en"},
	})
	require.NoError(t, err)

	tiers, err := ratelimit.NewTiers(ratelimit.Quota{Capacity: 100, RefillPerSecond: 10}, cfg.tiers)
	require.NoError(t, err)
	store := ratelimit.NewMemoryStore(time.Minute, time.Minute)
	t.Cleanup(func() { store.Close() })

	p := pipeline.New(neg, pagination.New(2, 10),
		pipeline.WithLimiter(ratelimit.NewLimiter(store, tiers)),
		pipeline.WithKeyResolver(ratelimit.NewKeyResolver("", "free", []ratelimit.APIKey{
			{Key: "ak_premium", Name: "acme", Tier: "premium"},
		})),
	)

	h := NewHandlers(items, p, zerolog.Nop(), cfg.handlerOpts...)
	return &fixture{items: items, handler: h, router: SetupRoutes(h, cfg.routeOpts...)}
}

func (f *fixture) get(t *testing.T, target string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierror.Body {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body apierror.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestListItems_WalksAllPages(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	var (
		names  []string
		sizes  []int
		target = "/api/v1/items?limit=2&sort=name"
	)
	for target != "" {
		rec := f.get(t, target)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		assert.Equal(t, "100", rec.Header().Get("RateLimit-Limit"))

		var body listBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		sizes = append(sizes, len(body.Data))
		for _, item := range body.Data {
			names = append(names, item.Name)
		}

		target = ""
		if body.Pagination.HasMore {
			require.NotNil(t, body.Pagination.NextCursor)
			target = "/api/v1/items?limit=2&sort=name&cursor=" + url.QueryEscape(*body.Pagination.NextCursor)
		} else {
			assert.Nil(t, body.Pagination.NextCursor)
		}
	}

	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echo"}, names)
}

func TestListItems_DescendingSort(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.get(t, "/api/v1/items?limit=3&sort=-created_at")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body listBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)
	assert.Equal(t, "echo", body.Data[0].Name)
	assert.Equal(t, "bravo", body.Data[1].Name)
	assert.Equal(t, "charlie", body.Data[2].Name)
	assert.True(t, body.Pagination.HasMore)
}

func TestListItems_CollectsParameterErrors(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.get(t, "/api/v1/items?limit=abc&sort=colour")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, string(apierror.KindValidation), body.Type)
	assert.Equal(t, http.StatusBadRequest, body.Status)
	require.Len(t, body.Errors, 2)
	assert.Equal(t, apierror.CodeInvalidInteger, body.Errors[0].Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)
}

func TestListItems_InvalidCursor(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.get(t, "/api/v1/items?cursor=not-a-cursor")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apierror.KindInvalidCursor), decodeError(t, rec).Type)
}

func TestListItems_NotAcceptable(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.get(t, "/api/v1/items", "Accept", "application/xml")
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Equal(t, string(apierror.KindNotAcceptable), decodeError(t, rec).Type)
	assert.Empty(t, rec.Header().Get("Vary"))
}

func TestGetItem(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	tests := []struct {
		name     string
		path     string
		status   int
		kind     apierror.Kind
		wantName string
	}{
		{name: "found", path: "/api/v1/items/2", status: http.StatusOK, wantName: "alpha"},
		{name: "missing", path: "/api/v1/items/404", status: http.StatusNotFound, kind: apierror.KindNotFound},
		{name: "not a number", path: "/api/v1/items/abc", status: http.StatusBadRequest, kind: apierror.KindValidation},
		{name: "zero", path: "/api/v1/items/0", status: http.StatusBadRequest, kind: apierror.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.path)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.kind != "" {
				assert.Equal(t, string(tt.kind), decodeError(t, rec).Type)
				return
			}
			var body itemBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantName, body.Data.Name)
			assert.Equal(t, "Accept, Accept-Encoding, Accept-Language", rec.Header().Get("Vary"))
		})
	}
}

func TestGetItem_InvalidIDReportsField(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	body := decodeError(t, f.get(t, "/api/v1/items/-7"))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "id", body.Errors[0].Field)
	assert.Equal(t, apierror.CodeInvalidInteger, body.Errors[0].Code)
	assert.Equal(t, "-7", body.Errors[0].RejectedValue)
}

func TestRateLimitPerClass(t *testing.T) {
	f := newFixture(t, fixtureConfig{
		tiers: map[string]ratelimit.Tier{
			"free": {
				Quota:   ratelimit.Quota{Capacity: 5, RefillPerSecond: 0.01},
				Classes: map[string]ratelimit.Quota{ClassRead: {Capacity: 1}},
			},
			"premium": {Quota: ratelimit.Quota{Capacity: 50, RefillPerSecond: 1}},
		},
	})

	first := f.get(t, "/api/v1/items/1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("RateLimit-Remaining"))

	second := f.get(t, "/api/v1/items/1")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	body := decodeError(t, second)
	assert.Equal(t, string(apierror.KindRateLimited), body.Type)
	require.NotNil(t, body.RetryAfter)
	assert.Positive(t, *body.RetryAfter)

	// The list class has its own bucket.
	list := f.get(t, "/api/v1/items")
	require.Equal(t, http.StatusOK, list.Code)
	assert.Equal(t, "5", list.Header().Get("RateLimit-Limit"))

	// A known API key is billed to its own tier.
	premium := f.get(t, "/api/v1/items/1", "X-API-Key", "ak_premium")
	require.Equal(t, http.StatusOK, premium.Code)
	assert.Equal(t, "50", premium.Header().Get("RateLimit-Limit"))

	unknown := f.get(t, "/api/v1/items/1", "X-API-Key", "ak_unknown")
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, string(apierror.KindAuthenticationRequired), decodeError(t, unknown).Type)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	rec := f.get(t, "/api/v1/widgets")
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, string(apierror.KindNotFound), body.Type)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/items/1", nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, string(apierror.KindNotFound), body.Type)
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Contains(t, body.Detail, "method DELETE is not allowed")
}

func TestHeadItems(t *testing.T) {
	f := newFixture(t, fixtureConfig{})

	req := httptest.NewRequest(http.MethodHead, "/api/v1/items", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.NotEmpty(t, rec.Header().Get("Content-Length"))
}

func TestHealthCheck(t *testing.T) {
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })
	up := pingerFunc(func(context.Context) error { return nil })

	tests := []struct {
		name       string
		opts       []HandlerOption
		status     int
		overall    string
		component  string
		compStatus string
	}{
		{
			name:       "healthy",
			opts:       []HandlerOption{WithDependency("ratelimit", up, true)},
			status:     http.StatusOK,
			overall:    models.StatusHealthy,
			component:  "ratelimit",
			compStatus: models.StatusHealthy,
		},
		{
			name:       "non critical dependency down",
			opts:       []HandlerOption{WithDependency("ratelimit", down, false)},
			status:     http.StatusOK,
			overall:    models.StatusDegraded,
			component:  "ratelimit",
			compStatus: models.StatusDegraded,
		},
		{
			name:       "critical dependency down",
			opts:       []HandlerOption{WithDependency("ratelimit", down, true)},
			status:     http.StatusServiceUnavailable,
			overall:    models.StatusUnhealthy,
			component:  "ratelimit",
			compStatus: models.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]HandlerOption{WithVersion(version.Info{Version: "1.2.3"})}, tt.opts...)
			f := newFixture(t, fixtureConfig{handlerOpts: opts})

			for _, path := range []string{"/health", "/api/v1/health"} {
				rec := f.get(t, path)
				require.Equal(t, tt.status, rec.Code)

				var resp models.HealthCheckResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.overall, resp.Status)
				assert.Equal(t, "1.2.3", resp.Version)
				assert.Equal(t, models.StatusHealthy, resp.Components["storage"].Status)
				assert.Equal(t, tt.compStatus, resp.Components[tt.component].Status)
			}
		})
	}
}

func TestWithMetrics(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, fixtureConfig{routeOpts: []RouteOption{WithMetrics(m)}})

	f.get(t, "/api/v1/items/1")
	f.get(t, "/api/v1/items/2")
	f.get(t, "/api/v1/items/999")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/v1/items/{id}", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/v1/items/{id}", "GET", "404")))
}

func TestWithOTelMiddleware(t *testing.T) {
	f := newFixture(t, fixtureConfig{routeOpts: []RouteOption{WithOTelMiddleware("apicore-test")}})

	assert.Equal(t, http.StatusOK, f.get(t, "/api/v1/items").Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/health").Code)
}
