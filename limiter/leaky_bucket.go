package limiter

import (
	"context"
	"math"
	"time"

	"github.com/admitkit/admit/script"
	"github.com/admitkit/admit/store"
)

// leakyBucketSrc leaks capacity back at max/window per millisecond, then
// decrements one token unconditionally. The decremented balance is persisted
// even when negative, so the remaining value reports how far over the limit
// a client is and rejected bursts delay recovery accordingly.
//
// KEYS[1] state key; ARGV: capacity, rate (tokens/ms), now (ms), ttl (ms).
// Reply: {allowed, remaining, retry_after_ms}.
const leakyBucketSrc = `
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
tokens = tokens - 1

local allowed = 0
local retry = 0
if tokens >= 0 then
  allowed = 1
elseif rate > 0 then
  retry = math.ceil(-tokens / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(tokens), retry}
`

type leakyBucket struct {
	scripts *script.Manager
	store   store.Store
	window  time.Duration
	max     int
}

// rate is the leak rate in tokens per millisecond: max / window.
func (s *leakyBucket) rate() float64 {
	return float64(s.max) / float64(s.window.Milliseconds())
}

func (s *leakyBucket) decide(ctx context.Context, key string, now time.Time) (verdict, error) {
	res, err := s.scripts.Run(ctx, leakyBucketSrc, []string{key},
		s.max, s.rate(), now.UnixMilli(), s.window.Milliseconds())
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(res)
}

func (s *leakyBucket) peek(ctx context.Context, key string, now time.Time) (int, error) {
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
