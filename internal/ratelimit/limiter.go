// Package ratelimit admits or rejects requests with a token bucket per key.
// Quotas are resolved from subject tiers and endpoint classes, and bucket
// state lives behind a Store that can be local memory or Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"apicore/internal/apierror"
)

// Key identifies the subject of a quota. It is derived per request.
type Key struct {
	Tier    string
	Class   string
	Subject string
}

func (k Key) String() string {
	return k.Tier + ":" + k.Class + ":" + k.Subject
}

// Quota is the bucket size and refill speed applied to a key.
type Quota struct {
	Capacity        int     `yaml:"capacity" json:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second" json:"refill_per_second"`
}

// Validate checks that the quota can back a bucket.
func (q Quota) Validate() error {
	if q.Capacity < 1 {
		return errors.New("capacity must be at least 1")
	}
	if q.RefillPerSecond <= 0 {
		return errors.New("refill rate must be positive")
	}
	return nil
}

// Bucket is the state of one key as observed after a store operation.
// 0 <= Tokens <= Capacity always holds.
type Bucket struct {
	Tokens          float64
	Capacity        int
	RefillPerSecond float64
	LastRefill      time.Time
}

//go:generate mockgen -source=limiter.go -destination=../mock/store_mock.go -package=mock

// Store holds bucket state. Take must refill and consume as a single atomic
// step per key: it adds the tokens accrued since the last refill (capped at
// capacity), then subtracts cost only if enough tokens are available.
type Store interface {
	Take(ctx context.Context, key string, quota Quota, cost int, now time.Time) (Bucket, bool, error)
	// Refund returns up to amount tokens to the bucket, capped at capacity.
	Refund(ctx context.Context, key string, quota Quota, amount int, now time.Time) error
}

// Result is the admission decision with the values needed for response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
	// RetryAfter is in whole seconds and only meaningful when not allowed.
	RetryAfter int
	// Degraded is set when the store failed and the fail-open policy admitted the request.
	Degraded bool
}

// FailurePolicy decides what happens when the store cannot be reached.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "closed"
	FailOpen   FailurePolicy = "open"
)

// Recorder observes admission decisions.
type Recorder interface {
	RecordAdmission(key Key, allowed bool, degraded bool)
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithFailurePolicy(p FailurePolicy) Option {
	return func(l *Limiter) { l.policy = p }
}

// WithRetries sets how many times a failed store call is retried, waiting
// backoff times the attempt number between tries.
func WithRetries(retries int, backoff time.Duration) Option {
	return func(l *Limiter) {
		l.retries = retries
		l.backoff = backoff
	}
}

// WithStoreTimeout bounds every individual store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(l *Limiter) { l.recorder = r }
}

// Limiter applies tiered quotas on top of a Store.
type Limiter struct {
	store    Store
	tiers    *Tiers
	policy   FailurePolicy
	retries  int
	backoff  time.Duration
	timeout  time.Duration
	now      func() time.Time
	recorder Recorder
}

func NewLimiter(store Store, tiers *Tiers, opts ...Option) *Limiter {
	l := &Limiter{
		store:   store,
		tiers:   tiers,
		policy:  FailClosed,
		retries: 2,
		backoff: 25 * time.Millisecond,
		timeout: 250 * time.Millisecond,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit consumes cost tokens from the bucket of key. A cost below one counts
// as one. A cost above the bucket capacity can never be satisfied and is
// rejected without touching the bucket.
//
// An error is returned only when the store failed under the fail-closed
// policy or ctx was cancelled; it is an *apierror.Error of kind
// UpstreamUnavailable in the former case.
func (l *Limiter) Admit(ctx context.Context, key Key, cost int) (Result, error) {
	if cost < 1 {
		cost = 1
	}
	quota := l.tiers.Resolve(key.Tier, key.Class)
	now := l.now()

	if cost > quota.Capacity {
		res := Result{
			Limit:      quota.Capacity,
			ResetAt:    now,
			RetryAfter: secondsFor(float64(quota.Capacity), quota.RefillPerSecond),
		}
		l.record(key, res)
		return res, nil
	}

	bucket, allowed, now, err := l.take(ctx, key.String(), quota, cost, now)
	if err != nil {
		return l.storeFailed(ctx, key, quota, now, err)
	}

	tokens := math.Max(0, math.Min(bucket.Tokens, float64(quota.Capacity)))
	res := Result{
		Allowed:   allowed,
		Limit:     quota.Capacity,
		Remaining: int(math.Floor(tokens)),
		ResetAt:   now.Add(durationFor(float64(quota.Capacity)-tokens, quota.RefillPerSecond)),
	}
	if !allowed {
		res.RetryAfter = secondsFor(float64(cost)-tokens, quota.RefillPerSecond)
	}
	l.record(key, res)
	return res, nil
}

// Refund gives back tokens consumed by an earlier Admit. Concurrent requests
// for the same key may already have observed the lower count, so this is a
// best-effort compensation rather than an exact undo.
func (l *Limiter) Refund(ctx context.Context, key Key, cost int) error {
	if cost < 1 {
		cost = 1
	}
	quota := l.tiers.Resolve(key.Tier, key.Class)
	if cost > quota.Capacity {
		return nil
	}
	callCtx, cancel := l.callContext(ctx)
	defer cancel()
	if err := l.store.Refund(callCtx, key.String(), quota, cost, l.now()); err != nil {
		return fmt.Errorf("refund %s: %w", key, err)
	}
	return nil
}

// Quota returns the quota that applies to key.
func (l *Limiter) Quota(key Key) Quota {
	return l.tiers.Resolve(key.Tier, key.Class)
}

// take calls the store, retrying transient failures. Every attempt reads
// the clock again so a retried call never presents a stale timestamp; the
// time of the last attempt is returned.
func (l *Limiter) take(ctx context.Context, key string, quota Quota, cost int, now time.Time) (Bucket, bool, time.Time, error) {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Bucket{}, false, now, ctx.Err()
			case <-time.After(l.backoff * time.Duration(attempt)):
			}
			now = l.now()
		}

		callCtx, cancel := l.callContext(ctx)
		bucket, allowed, err := l.store.Take(callCtx, key, quota, cost, now)
		cancel()
		if err == nil {
			return bucket, allowed, now, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Bucket{}, false, now, ctx.Err()
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("key", key).Int("attempt", attempt+1).Msg("Rate limit store call failed")
	}
	return Bucket{}, false, now, lastErr
}

func (l *Limiter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

func (l *Limiter) storeFailed(ctx context.Context, key Key, quota Quota, now time.Time, err error) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	log := zerolog.Ctx(ctx)
	if l.policy == FailOpen {
		log.Warn().Err(err).Str("key", key.String()).Msg("Rate limit store unavailable, admitting request")
		res := Result{
			Allowed:   true,
			Limit:     quota.Capacity,
			Remaining: quota.Capacity,
			ResetAt:   now,
			Degraded:  true,
		}
		l.record(key, res)
		return res, nil
	}

	log.Error().Err(err).Str("key", key.String()).Msg("Rate limit store unavailable, rejecting request")
	res := Result{Limit: quota.Capacity, ResetAt: now, Degraded: true}
	l.record(key, res)

	cause := apierror.UpstreamUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		cause = apierror.UpstreamTimeout
	}
	return res, apierror.NewUpstream(cause, "rate limit store unavailable", err)
}

func (l *Limiter) record(key Key, res Result) {
	if l.recorder != nil {
		l.recorder.RecordAdmission(key, res.Allowed, res.Degraded)
	}
}

// secondsFor is the whole number of seconds needed to accrue tokens.
func secondsFor(tokens, perSecond float64) int {
	if tokens <= 0 {
		return 0
	}
	return int(math.Ceil(tokens / perSecond))
}

func durationFor(tokens, perSecond float64) time.Duration {
	if tokens <= 0 {
		return 0
	}
	return time.Duration(tokens / perSecond * float64(time.Second))
}
