// Package limiter decides, per request, whether a client may proceed. Five
// admission algorithms are supported, all backed by a shared external
// counter store so the decision is consistent across a fleet of processes.
//
// Each algorithm runs its entire read-check-update sequence as one atomic
// server-side script, which is what keeps concurrent requests on the same
// key from over-admitting past the configured limit.
//
// Store failures propagate to the caller as *store.Error and are never
// mapped to an admission verdict; the surrounding framework decides whether
// to fail open or fail closed (the middleware package makes that choice an
// explicit option).
package limiter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/admitkit/admit/script"
)

// Limiter dispatches requests to the algorithm selected at construction.
type Limiter struct {
	cfg     Config
	strat   strategy
	scripts *script.Manager
	exempt  map[string]struct{}

	now func() time.Time // swapped in tests
}

// New validates cfg and builds a Limiter. It fails fast with a *ConfigError
// on invalid configuration; nothing is checked lazily per request.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mgr := script.NewManager(cfg.Store)

	l := &Limiter{
		cfg:     cfg,
		scripts: mgr,
		exempt:  make(map[string]struct{}, len(cfg.WhiteList)),
		now:     time.Now,
	}
	for _, key := range cfg.WhiteList {
		l.exempt[key] = struct{}{}
	}

	switch cfg.Algorithm {
	case TokenBucket:
		l.strat = &tokenBucket{scripts: mgr, store: cfg.Store, window: cfg.Window, max: cfg.Max}
	case FixedWindow:
		l.strat = &fixedWindow{scripts: mgr, store: cfg.Store, window: cfg.Window, max: cfg.Max}
	case SlidingWindow:
		l.strat = &slidingWindow{scripts: mgr, store: cfg.Store, window: cfg.Window, max: cfg.Max}
	case LeakyBucket:
		l.strat = &leakyBucket{scripts: mgr, store: cfg.Store, window: cfg.Window, max: cfg.Max}
	case SlidingLog:
		l.strat = &slidingLog{scripts: mgr, store: cfg.Store, window: cfg.Window, max: cfg.Max}
	}

	log.Debug().
		Str("algorithm", cfg.Algorithm).
		Dur("window", cfg.Window).
		Int("max", cfg.Max).
		Msg("limiter created")
	return l, nil
}

// Allow resolves the client key from ctx and checks admission. A request
// whose key cannot be resolved is admitted unchecked with full quota.
func (l *Limiter) Allow(ctx context.Context) (Decision, error) {
	key := l.cfg.KeyFunc(ctx)
	if key == "" {
		log.Debug().Msg("client key missing, admitting unchecked")
		return l.fullQuota(), nil
	}
	return l.AllowKey(ctx, key)
}

// AllowKey checks admission for an explicit client key. Whitelisted keys are
// admitted before any strategy dispatch. Store failures are returned as-is;
// the caller chooses fail-open or fail-closed.
func (l *Limiter) AllowKey(ctx context.Context, key string) (Decision, error) {
	if _, ok := l.exempt[key]; ok {
		log.Debug().Str("key", key).Msg("key whitelisted, admitting")
		return l.fullQuota(), nil
	}

	v, err := l.strat.decide(ctx, l.storeKey(key), l.now())
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("admission check failed")
		return Decision{}, err
	}

	d := Decision{
		Allowed:    v.allowed,
		Limit:      l.cfg.Max,
		Remaining:  v.remaining,
		Window:     l.cfg.Window,
		RetryAfter: v.retryAfter,
	}
	if !d.Allowed {
		d.Message = l.cfg.Message
		log.Warn().
			Str("key", key).
			Int("remaining", d.Remaining).
			Dur("retry_after", d.RetryAfter).
			Msg("request rejected")
	} else {
		log.Debug().Str("key", key).Int("remaining", d.Remaining).Msg("request admitted")
	}
	return d, nil
}

// Peek estimates the quota left for a key without consuming any. The
// estimate is computed locally from the stored state and may lag a
// concurrent decision by one request.
func (l *Limiter) Peek(ctx context.Context, key string) (Decision, error) {
	remaining, err := l.strat.peek(ctx, l.storeKey(key), l.now())
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   remaining > 0,
		Limit:     l.cfg.Max,
		Remaining: remaining,
		Window:    l.cfg.Window,
	}, nil
}

// Reset atomically deletes the state for a key. The next request on that key
// behaves exactly like the first request on a fresh key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.scripts.ResetKey(ctx, l.storeKey(key))
}

func (l *Limiter) storeKey(key string) string {
	return l.cfg.Prefix + l.cfg.Algorithm + ":" + key
}

func (l *Limiter) fullQuota() Decision {
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.Max,
		Remaining: l.cfg.Max,
		Window:    l.cfg.Window,
	}
}
