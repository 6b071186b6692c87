package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"apicore/internal/models"
	"apicore/internal/pagination"
	"apicore/internal/ratelimit"
	"apicore/internal/storage"
)

// instruments records a span, a latency sample and an error count for each
// wrapped call. Component prefixes the span and metric names.
type instruments struct {
	component string
	tracer    trace.Tracer
	duration  metric.Float64Histogram
	errors    metric.Int64Counter
}

func newInstruments(component string) (instruments, error) {
	meter := otel.Meter(instrumentationName + "/" + component)

	duration, err := meter.Float64Histogram(
		component+".operation.duration",
		metric.WithDescription("Duration of "+component+" operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return instruments{}, err
	}

	errCounter, err := meter.Int64Counter(
		component+".operation.errors",
		metric.WithDescription("Number of "+component+" operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return instruments{}, err
	}

	return instruments{
		component: component,
		tracer:    otel.Tracer(instrumentationName + "/" + component),
		duration:  duration,
		errors:    errCounter,
	}, nil
}

func (in instruments) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, in.component+"."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String(in.component+".operation", operation),
		}, attrs...)...),
	)
}

func (in instruments) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	in.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	// A missing item is an answer, not a failure.
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		in.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// InstrumentedItems wraps a storage.Items implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedItems struct {
	inner storage.Items
	in    instruments
}

// NewInstrumentedItems creates a wrapper that records trace spans, latency
// histograms and error counters for every item store call.
func NewInstrumentedItems(inner storage.Items) (*InstrumentedItems, error) {
	in, err := newInstruments("storage")
	if err != nil {
		return nil, err
	}
	return &InstrumentedItems{inner: inner, in: in}, nil
}

func (s *InstrumentedItems) Fetch(ctx context.Context, q pagination.Query) ([]models.Item, error) {
	ctx, span := s.in.startSpan(ctx, "Fetch",
		attribute.String("sort", q.Order.String()),
		attribute.Int("limit", q.Limit),
		attribute.Bool("resumed", q.After != nil),
	)
	start := time.Now()
	result, err := s.inner.Fetch(ctx, q)
	span.SetAttributes(attribute.Int("rows", len(result)))
	s.in.record(ctx, span, "Fetch", start, err)
	return result, err
}

func (s *InstrumentedItems) Get(ctx context.Context, id int64) (models.Item, error) {
	ctx, span := s.in.startSpan(ctx, "Get", attribute.Int64("item_id", id))
	start := time.Now()
	result, err := s.inner.Get(ctx, id)
	s.in.record(ctx, span, "Get", start, err)
	return result, err
}

func (s *InstrumentedItems) Save(ctx context.Context, item *models.Item) error {
	ctx, span := s.in.startSpan(ctx, "Save", attribute.Int64("item_id", item.ID))
	start := time.Now()
	err := s.inner.Save(ctx, item)
	s.in.record(ctx, span, "Save", start, err)
	return err
}

func (s *InstrumentedItems) Count(ctx context.Context) (int, error) {
	ctx, span := s.in.startSpan(ctx, "Count")
	start := time.Now()
	n, err := s.inner.Count(ctx)
	s.in.record(ctx, span, "Count", start, err)
	return n, err
}

func (s *InstrumentedItems) Ping(ctx context.Context) error {
	ctx, span := s.in.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.in.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedItems) Close() error {
	return s.inner.Close()
}

// InstrumentedStore wraps a ratelimit.Store so bucket round trips show up
// in traces next to the request that caused them.
type InstrumentedStore struct {
	inner ratelimit.Store
	in    instruments
}

func NewInstrumentedStore(inner ratelimit.Store) (*InstrumentedStore, error) {
	in, err := newInstruments("ratelimit")
	if err != nil {
		return nil, err
	}
	return &InstrumentedStore{inner: inner, in: in}, nil
}

func (s *InstrumentedStore) Take(ctx context.Context, key string, quota ratelimit.Quota, cost int, now time.Time) (ratelimit.Bucket, bool, error) {
	ctx, span := s.in.startSpan(ctx, "Take",
		attribute.String("bucket", key),
		attribute.Int("cost", cost),
	)
	start := time.Now()
	bucket, allowed, err := s.inner.Take(ctx, key, quota, cost, now)
	span.SetAttributes(attribute.Bool("allowed", allowed))
	s.in.record(ctx, span, "Take", start, err)
	return bucket, allowed, err
}

func (s *InstrumentedStore) Refund(ctx context.Context, key string, quota ratelimit.Quota, amount int, now time.Time) error {
	ctx, span := s.in.startSpan(ctx, "Refund",
		attribute.String("bucket", key),
		attribute.Int("amount", amount),
	)
	start := time.Now()
	err := s.inner.Refund(ctx, key, quota, amount, now)
	s.in.record(ctx, span, "Refund", start, err)
	return err
}
