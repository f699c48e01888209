package limiter

import (
	"context"
	"time"

	"github.com/admitkit/admit/script"
	"github.com/admitkit/admit/store"
)

// slidingWindowSrc keeps an ordered set of request timestamps, prunes
// everything older than the window, and admits while the count stays below
// max. Count and insert happen in one script invocation; splitting them
// would admit two concurrent requests against the last remaining slot.
//
// KEYS[1] state key; ARGV: max, window (ms), now (ms), member.
// Reply: {allowed, remaining, retry_after_ms}.
const slidingWindowSrc = `
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])

local allowed = 0
local retry = 0
if count < max then
  allowed = 1
  redis.call("ZADD", KEYS[1], now, member)
  count = count + 1
  redis.call("PEXPIRE", KEYS[1], window)
else
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
    if retry < 0 then retry = 0 end
  end
end
return {allowed, max - count, retry}
`

type slidingWindow struct {
	scripts *script.Manager
	store   store.Store
	window  time.Duration
	max     int
}

func (s *slidingWindow) decide(ctx context.Context, key string, now time.Time) (verdict, error) {
	res, err := s.scripts.Run(ctx, slidingWindowSrc, []string{key},
		s.max, s.window.Milliseconds(), now.UnixMilli(), setMember(now))
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(res)
}

func (s *slidingWindow) peek(ctx context.Context, key string, now time.Time) (int, error) {
	return windowPeek(ctx, s.store, key, now, s.window, s.max)
}
