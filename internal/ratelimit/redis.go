package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucketScript refills and consumes in one server-side step. A negative
// cost refunds tokens. Token counts are returned as strings because Redis
// truncates Lua numbers to integers. Timestamps are milliseconds so they
// survive Lua's 14 significant digit number formatting.
//
// KEYS[1] bucket hash
// ARGV    capacity, refill per second, cost, now (unix millis), ttl (ms)
var bucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) / 1000 * rate)
  ts = now
end
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
if cost < 0 then
  tokens = math.min(capacity, tokens - cost)
  allowed = 1
elseif cost <= tokens then
  tokens = tokens - cost
  allowed = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return {allowed, tostring(tokens), tostring(ts)}
`)

// RedisStore keeps buckets in Redis so several instances share a quota.
// Idle keys expire after idleTTL.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, idleTTL time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		idleTTL: idleTTL,
	}
}

func (s *RedisStore) Take(ctx context.Context, key string, quota Quota, cost int, now time.Time) (Bucket, bool, error) {
	return s.run(ctx, key, quota, cost, now)
}

func (s *RedisStore) Refund(ctx context.Context, key string, quota Quota, amount int, now time.Time) error {
	_, _, err := s.run(ctx, key, quota, -amount, now)
	return err
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) run(ctx context.Context, key string, quota Quota, cost int, now time.Time) (Bucket, bool, error) {
	values, err := bucketScript.Run(ctx, s.client, []string{s.prefix + key},
		quota.Capacity,
		strconv.FormatFloat(quota.RefillPerSecond, 'f', -1, 64),
		cost,
		now.UnixMilli(),
		s.idleTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return Bucket{}, false, fmt.Errorf("bucket script: %w", err)
	}
	return parseScriptResult(values, quota)
}

func parseScriptResult(values []any, quota Quota) (Bucket, bool, error) {
	if len(values) != 3 {
		return Bucket{}, false, fmt.Errorf("bucket script returned %d values", len(values))
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return Bucket{}, false, fmt.Errorf("bucket script: unexpected allowed value %T", values[0])
	}
	tokensRaw, _ := values[1].(string)
	tokens, err := strconv.ParseFloat(tokensRaw, 64)
	if err != nil {
		return Bucket{}, false, fmt.Errorf("bucket script: tokens: %w", err)
	}
	tsRaw, _ := values[2].(string)
	ts, err := strconv.ParseFloat(tsRaw, 64)
	if err != nil {
		return Bucket{}, false, fmt.Errorf("bucket script: timestamp: %w", err)
	}
	return Bucket{
		Tokens:          tokens,
		Capacity:        quota.Capacity,
		RefillPerSecond: quota.RefillPerSecond,
		LastRefill:      time.UnixMilli(int64(ts)),
	}, allowed == 1, nil
}
