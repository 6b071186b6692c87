package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry holds the bucket of one key. mu guards the refill and consume step
// so concurrent requests for the same key never interleave.
type entry struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	quota   Quota
	// lastRefill is the latest timestamp applied to limiter. Guarded by mu.
	lastRefill time.Time
	lastSeen   time.Time
}

// MemoryStore keeps buckets in process, one golang.org/x/time/rate limiter
// per key. A background goroutine evicts keys that have been idle longer
// than idleTTL; a recreated key starts again at full capacity.
type MemoryStore struct {
	idleTTL         time.Duration
	cleanupInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	done    chan struct{}
	closed  bool
}

// NewMemoryStore creates the store and starts its eviction goroutine. A
// non-positive cleanupInterval checks once a minute.
func NewMemoryStore(idleTTL, cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	m := &MemoryStore{
		idleTTL:         idleTTL,
		cleanupInterval: cleanupInterval,
		entries:         make(map[string]*entry),
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

func (m *MemoryStore) Take(ctx context.Context, key string, quota Quota, cost int, now time.Time) (Bucket, bool, error) {
	if err := ctx.Err(); err != nil {
		return Bucket{}, false, err
	}
	e := m.lookup(key, quota)

	e.mu.Lock()
	defer e.mu.Unlock()
	now = e.advance(now)
	e.apply(quota, now)

	allowed := e.limiter.AllowN(now, cost)
	return e.bucket(now), allowed, nil
}

func (m *MemoryStore) Refund(ctx context.Context, key string, quota Quota, amount int, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := m.lookup(key, quota)

	e.mu.Lock()
	defer e.mu.Unlock()
	now = e.advance(now)
	e.apply(quota, now)

	tokens := math.Min(float64(quota.Capacity), e.limiter.TokensAt(now)+float64(amount))
	e.limiter = filledTo(quota, tokens, now)
	return nil
}

// Ping always succeeds; it lets the store stand in wherever a health check is expected.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len reports how many keys currently hold state.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the background cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryStore) lookup(key string, quota Quota) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(quota.RefillPerSecond), quota.Capacity),
			quota:   quota,
		}
		m.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e
}

// advance returns now, or the last applied timestamp when now is older.
// The limiter must never be handed an earlier time than it has seen; it
// would rewind and credit the same interval twice.
func (e *entry) advance(now time.Time) time.Time {
	if now.Before(e.lastRefill) {
		return e.lastRefill
	}
	e.lastRefill = now
	return now
}

// apply updates the limiter when the quota for the key changed since the
// bucket was created, keeping the tokens already accrued.
func (e *entry) apply(quota Quota, now time.Time) {
	if e.quota == quota {
		return
	}
	e.limiter.SetLimitAt(now, rate.Limit(quota.RefillPerSecond))
	e.limiter.SetBurstAt(now, quota.Capacity)
	e.quota = quota
}

func (e *entry) bucket(now time.Time) Bucket {
	tokens := math.Max(0, math.Min(e.limiter.TokensAt(now), float64(e.quota.Capacity)))
	return Bucket{
		Tokens:          tokens,
		Capacity:        e.quota.Capacity,
		RefillPerSecond: e.quota.RefillPerSecond,
		LastRefill:      now,
	}
}

// filledTo returns a limiter holding exactly tokens at now. rate.Limiter has
// no setter for its token count, so the bucket is drained at the instant
// from which refilling reaches the target by now.
func filledTo(quota Quota, tokens float64, now time.Time) *rate.Limiter {
	lim := rate.NewLimiter(rate.Limit(quota.RefillPerSecond), quota.Capacity)
	drainedAt := now.Add(-durationFor(tokens, quota.RefillPerSecond))
	lim.AllowN(drainedAt, quota.Capacity)
	return lim
}

// cleanup periodically evicts idle entries.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryStore) evictStale() {
	cutoff := time.Now().Add(-m.idleTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
