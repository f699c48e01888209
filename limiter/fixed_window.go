package limiter

import (
	"context"
	"time"

	"github.com/admitkit/admit/script"
	"github.com/admitkit/admit/store"
)

// fixedWindowSrc counts requests in absolute windows anchored at the first
// request. The counter increments on every request, admitted or not, so the
// remaining value goes negative when a client is over the limit. Window
// boundaries are absolute, not rolling: two full quotas can pass at a window
// seam. That is the documented behavior of this algorithm, not a defect.
//
// KEYS[1] state key; ARGV: max, window (ms), now (ms).
// Reply: {allowed, remaining, retry_after_ms}.
const fixedWindowSrc = `
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "count", "start")
local count = tonumber(state[1])
local start = tonumber(state[2])
if count == nil or now > start + window then
  count = 0
  start = now
end
count = count + 1

redis.call("HSET", KEYS[1], "count", count, "start", start)
local ttl = start + window - now
if ttl < 1 then ttl = 1 end
redis.call("PEXPIRE", KEYS[1], ttl)

local allowed = 0
local retry = 0
if count <= max then
  allowed = 1
else
  retry = start + window - now
  if retry < 0 then retry = 0 end
end
return {allowed, max - count, retry}
`

type fixedWindow struct {
	scripts *script.Manager
	store   store.Store
	window  time.Duration
	max     int
}

func (s *fixedWindow) decide(ctx context.Context, key string, now time.Time) (verdict, error) {
	res, err := s.scripts.Run(ctx, fixedWindowSrc, []string{key},
		s.max, s.window.Milliseconds(), now.UnixMilli())
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(res)
}

func (s *fixedWindow) peek(ctx context.Context, key string, now time.Time) (int, error) {
	fields, err := s.store.HGetAll(ctx, key)
	if err != nil {
		return 0, err
	}
	count, ok1 := fieldInt(fields, "count")
	start, ok2 := fieldInt(fields, "start")
	if !ok1 || !ok2 || now.UnixMilli() > start+s.window.Milliseconds() {
		return s.max, nil
	}
	return s.max - int(count), nil
}
