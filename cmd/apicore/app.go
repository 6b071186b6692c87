package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"apicore/internal/api"
	"apicore/internal/models"
	"apicore/internal/negotiate"
	"apicore/internal/observability"
	"apicore/internal/pagination"
	"apicore/internal/pipeline"
	"apicore/internal/ratelimit"
	"apicore/internal/storage"
	"apicore/internal/version"
)

// app is the assembled service: the router plus everything that must be
// closed on shutdown.
type app struct {
	handlers *api.Handlers
	routes   []api.RouteOption
	metrics  *observability.Metrics
	closers  []io.Closer
}

func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildApp wires storage, rate limiting, negotiation and pagination into a
// pipeline and the HTTP handlers. instrument wraps storage and the bucket
// store with tracing and OTel metrics.
func buildApp(ctx context.Context, cfg *models.Config, log zerolog.Logger, ver version.Info, reg prometheus.Registerer, instrument bool) (*app, error) {
	a := &app{}

	if cfg.Metrics.Enabled && reg != nil {
		a.metrics = observability.NewMetrics(reg)
		a.routes = append(a.routes, api.WithMetrics(a.metrics))
	}
	if cfg.Observability.Tracing.Enabled {
		a.routes = append(a.routes, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	items, err := openItems(ctx, cfg, log, instrument)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, items)

	negotiator, err := negotiate.New(negotiate.Supported{
		Formats:   cfg.Negotiation.Formats,
		Encodings: cfg.Negotiation.Encodings,
		Languages: cfg.Negotiation.Languages,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create negotiator: %w", err)
	}

	pipelineOpts := []pipeline.Option{}
	handlerOpts := []api.HandlerOption{api.WithVersion(ver)}

	if cfg.RateLimit.Enabled {
		var recorder ratelimit.Recorder
		if a.metrics != nil {
			recorder = a.metrics
		}
		limiter, store, err := buildLimiter(cfg, recorder, instrument)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, store)

		pipelineOpts = append(pipelineOpts,
			pipeline.WithLimiter(limiter),
			pipeline.WithKeyResolver(buildKeyResolver(cfg.RateLimit)),
			pipeline.WithRefunds(cfg.RateLimit.SkipSuccessful, cfg.RateLimit.SkipFailed),
		)
		failClosed := ratelimit.FailurePolicy(cfg.RateLimit.FailurePolicy) == ratelimit.FailClosed
		handlerOpts = append(handlerOpts, api.WithDependency("ratelimit", store, failClosed))
	}

	p := pipeline.New(negotiator,
		pagination.New(cfg.Pagination.DefaultPageSize, cfg.Pagination.MaxPageSize),
		pipelineOpts...,
	)
	a.handlers = api.NewHandlers(items, p, log, handlerOpts...)
	return a, nil
}

// openItems creates the configured item store and seeds it when empty.
func openItems(ctx context.Context, cfg *models.Config, log zerolog.Logger, instrument bool) (storage.Items, error) {
	items, err := storage.NewFactory().Create(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Storage.Seed > 0 {
		n, err := storage.Seed(ctx, items, cfg.Storage.Seed)
		if err != nil {
			items.Close()
			return nil, fmt.Errorf("failed to seed storage: %w", err)
		}
		if n > 0 {
			log.Info().Int("count", n).Str("storage", cfg.Storage.Type).Msg("Seeded demo items")
		}
	}

	if !instrument {
		return items, nil
	}
	instrumented, err := observability.NewInstrumentedItems(items)
	if err != nil {
		items.Close()
		return nil, fmt.Errorf("failed to create instrumented storage: %w", err)
	}
	return instrumented, nil
}

// bucketStore is a ratelimit.Store the host can health check and close.
type bucketStore interface {
	ratelimit.Store
	api.Pinger
	io.Closer
}

// buildLimiter returns the limiter and the raw bucket store behind it.
func buildLimiter(cfg *models.Config, recorder ratelimit.Recorder, instrument bool) (*ratelimit.Limiter, bucketStore, error) {
	rl := cfg.RateLimit

	tiers, err := buildTiers(rl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build rate limit tiers: %w", err)
	}

	var store bucketStore
	switch rl.Store {
	case models.RateLimitStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		store = ratelimit.NewRedisStore(client, cfg.Redis.KeyPrefix, rl.IdleTTL)
	case models.RateLimitStoreMemory:
		store = ratelimit.NewMemoryStore(rl.IdleTTL, rl.CleanupInterval)
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit store: %s", rl.Store)
	}

	var active ratelimit.Store = store
	if instrument {
		instrumented, err := observability.NewInstrumentedStore(store)
		if err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to create instrumented rate limit store: %w", err)
		}
		active = instrumented
	}

	opts := []ratelimit.Option{
		ratelimit.WithFailurePolicy(ratelimit.FailurePolicy(rl.FailurePolicy)),
		ratelimit.WithRetries(rl.Retries, rl.RetryBackoff),
		ratelimit.WithStoreTimeout(rl.StoreTimeout),
	}
	if recorder != nil {
		opts = append(opts, ratelimit.WithRecorder(recorder))
	}

	return ratelimit.NewLimiter(active, tiers, opts...), store, nil
}

func buildTiers(rl models.RateLimitConfig) (*ratelimit.Tiers, error) {
	tiers := make(map[string]ratelimit.Tier, len(rl.Tiers))
	for name, t := range rl.Tiers {
		classes := make(map[string]ratelimit.Quota, len(t.Classes))
		for class, q := range t.Classes {
			classes[class] = ratelimit.Quota{Capacity: q.Capacity, RefillPerSecond: q.RefillPerSecond}
		}
		tiers[name] = ratelimit.Tier{
			Quota:   ratelimit.Quota{Capacity: t.Capacity, RefillPerSecond: t.RefillPerSecond},
			Classes: classes,
		}
	}
	return ratelimit.NewTiers(ratelimit.Quota{Capacity: rl.Default.Capacity, RefillPerSecond: rl.Default.RefillPerSecond}, tiers)
}

func buildKeyResolver(rl models.RateLimitConfig) *ratelimit.KeyResolver {
	enabled := rl.EnabledKeys()
	keys := make([]ratelimit.APIKey, len(enabled))
	for i, k := range enabled {
		keys[i] = ratelimit.APIKey{Key: k.Key, Name: k.Name, Tier: k.Tier}
	}
	return ratelimit.NewKeyResolver(rl.KeyHeader, rl.AnonymousTier, keys)
}
