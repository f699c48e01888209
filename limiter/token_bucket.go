package limiter

import (
	"context"
	"math"
	"time"

	"github.com/admitkit/admit/script"
	"github.com/admitkit/admit/store"
)

// tokenBucketSrc refills the bucket from elapsed time, then test-and-
// decrements one token. The first request on a fresh key starts from full
// capacity and leaves max-1 tokens behind.
//
// KEYS[1] state key; ARGV: capacity, rate (tokens/ms), now (ms), ttl (ms).
// Reply: {allowed, remaining, retry_after_ms}.
const tokenBucketSrc = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = now - ts
if elapsed < 0 then elapsed = 0 end
tokens = tokens + elapsed * rate
if tokens > capacity then tokens = capacity end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
elseif rate > 0 then
  retry = math.ceil((1 - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens), retry}
`

type tokenBucket struct {
	scripts *script.Manager
	store   store.Store
	window  time.Duration
	max     int
}

// rate is the refill rate in tokens per millisecond: max / window.
func (s *tokenBucket) rate() float64 {
	return float64(s.max) / float64(s.window.Milliseconds())
}

func (s *tokenBucket) decide(ctx context.Context, key string, now time.Time) (verdict, error) {
	res, err := s.scripts.Run(ctx, tokenBucketSrc, []string{key},
		s.max, s.rate(), now.UnixMilli(), s.window.Milliseconds())
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(res)
}

func (s *tokenBucket) peek(ctx context.Context, key string, now time.Time) (int, error) {
	fields, err := s.store.HGetAll(ctx, key)
	if err != nil {
		return 0, err
	}
	tokens, ts, ok := bucketState(fields)
	if !ok {
		return s.max, nil
	}
	elapsed := float64(now.UnixMilli() - ts)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens += elapsed * s.rate()
	if tokens > float64(s.max) {
		tokens = float64(s.max)
	}
	return int(math.Floor(tokens)), nil
}
