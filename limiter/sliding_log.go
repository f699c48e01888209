package limiter

import (
	"context"
	"time"

	"github.com/admitkit/admit/script"
	"github.com/admitkit/admit/store"
)

// slidingLogSrc counts logged timestamps inside the window and records the
// request only when admitted. Unlike the sliding window it prunes
// opportunistically, on the deny path only; idle keys are reclaimed by TTL.
// Both algorithms size the recency window to the configured window length.
//
// KEYS[1] state key; ARGV: max, window (ms), now (ms), member.
// Reply: {allowed, remaining, retry_after_ms}.
const slidingLogSrc = `
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local member = ARGV[4]

local count = redis.call("ZCOUNT", KEYS[1], now - window, now)

local allowed = 0
local retry = 0
if count < max then
  allowed = 1
  redis.call("ZADD", KEYS[1], now, member)
  count = count + 1
  redis.call("PEXPIRE", KEYS[1], window)
else
  redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
  local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
  if oldest[2] then
    retry = tonumber(oldest[2]) + window - now
    if retry < 0 then retry = 0 end
  end
end
return {allowed, max - count, retry}
`

type slidingLog struct {
	scripts *script.Manager
	store   store.Store
	window  time.Duration
	max     int
}

func (s *slidingLog) decide(ctx context.Context, key string, now time.Time) (verdict, error) {
	res, err := s.scripts.Run(ctx, slidingLogSrc, []string{key},
		s.max, s.window.Milliseconds(), now.UnixMilli(), setMember(now))
	if err != nil {
		return verdict{}, err
	}
	return parseVerdict(res)
}

func (s *slidingLog) peek(ctx context.Context, key string, now time.Time) (int, error) {
	return windowPeek(ctx, s.store, key, now, s.window, s.max)
}
