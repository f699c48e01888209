package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/admitkit/admit/store"
)

// strategy is one admission-control policy. Implementations perform their
// entire read-check-update sequence as a single atomic script invocation;
// issuing the commands sequentially would let two concurrent requests read
// the same counter before either writes back, over-admitting past the limit.
type strategy interface {
	// decide maps a client key and the current time to a verdict, updating
	// the key's state in the store.
	decide(ctx context.Context, key string, now time.Time) (verdict, error)
	// peek estimates the quota left for a key without consuming any.
	peek(ctx context.Context, key string, now time.Time) (int, error)
}

// verdict is the raw strategy outcome before the dispatcher attaches the
// configured limit, window, and message.
type verdict struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// Every algorithm script replies with {allowed, remaining, retry_after_ms}.
func parseVerdict(res any) (verdict, error) {
	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return verdict{}, &store.Error{Op: "script reply", Err: fmt.Errorf("unexpected shape %T", res)}
	}
	allowed, ok1 := replyInt(vals[0])
	remaining, ok2 := replyInt(vals[1])
	retryMs, ok3 := replyInt(vals[2])
	if !ok1 || !ok2 || !ok3 {
		return verdict{}, &store.Error{Op: "script reply", Err: fmt.Errorf("non-numeric fields in %v", vals)}
	}
	return verdict{
		allowed:    allowed == 1,
		remaining:  int(remaining),
		retryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}

func replyInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// setMember builds a unique ordered-set member for one request. Concurrent
// requests can land on the same millisecond; the random suffix keeps their
// entries distinct so none is silently swallowed by the set.
func setMember(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}

// bucketState decodes the {tokens, ts} hash shared by the bucket strategies.
// The store returns an empty map for a missing key.
func bucketState(fields map[string]string) (tokens float64, ts int64, ok bool) {
	rawTokens, hasTokens := fields["tokens"]
	rawTs, hasTs := fields["ts"]
	if !hasTokens || !hasTs {
		return 0, 0, false
	}
	tokens, err := strconv.ParseFloat(rawTokens, 64)
	if err != nil {
		return 0, 0, false
	}
	tsf, err := strconv.ParseFloat(rawTs, 64)
	if err != nil {
		return 0, 0, false
	}
	return tokens, int64(tsf), true
}

func fieldInt(fields map[string]string, name string) (int64, bool) {
	raw, ok := fields[name]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// windowPeek estimates remaining quota for the timestamp-set strategies by
// counting members inside the window, without touching state.
func windowPeek(ctx context.Context, st store.Store, key string, now time.Time, window time.Duration, max int) (int, error) {
	lo := strconv.FormatInt(now.UnixMilli()-window.Milliseconds(), 10)
	hi := strconv.FormatInt(now.UnixMilli(), 10)
	n, err := st.ZCount(ctx, key, lo, hi)
	if err != nil {
		return 0, err
	}
	return max - int(n), nil
}
