// Package store adapts the external counter store behind a narrow interface.
// The engine only consumes a handful of verbs: script registration and
// invocation, hash reads, ordered-set counting, and key TTL inspection. All
// mutation happens inside server-side scripts, so the adapter stays small.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the command surface the admission engine requires from the
// external counter store. Implementations must execute each call atomically
// on the store side; atomicity across calls is provided by scripts only.
type Store interface {
	// ScriptLoad registers a script body and returns its content-derived handle.
	ScriptLoad(ctx context.Context, src string) (string, error)
	// EvalSha invokes a previously registered script by handle.
	EvalSha(ctx context.Context, sha string, keys []string, args ...any) (any, error)
	// HGetAll reads all fields of a hash-shaped value. A missing key yields
	// an empty map, not an error.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// ZCount counts ordered-set members with scores in [min, max].
	ZCount(ctx context.Context, key, min, max string) (int64, error)
	// PTTL reports the remaining time-to-live of a key.
	PTTL(ctx context.Context, key string) (time.Duration, error)
}

// Error wraps a transport or protocol failure from the store. It is the
// per-request failure class: callers decide fail-open vs fail-closed, the
// engine never converts an Error into an admission verdict.
type Error struct {
	Op  string // store verb that failed, e.g. "evalsha"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNoScript reports whether err is the store telling us it no longer knows
// a script handle (e.g. the server restarted and purged its script cache).
func IsNoScript(err error) bool {
	return redis.HasErrorPrefix(err, "NOSCRIPT")
}

const defaultTimeout = 5 * time.Second

// Redis implements Store over a go-redis client. It accepts redis.Cmdable so
// single-node, sentinel, and cluster clients all work.
type Redis struct {
	client  redis.Cmdable
	timeout time.Duration
}

// Option configures a Redis store adapter.
type Option func(*Redis)

// WithTimeout bounds every store call. A non-positive value keeps the
// default of 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRedis creates a Store backed by the given client.
func NewRedis(client redis.Cmdable, opts ...Option) *Redis {
	r := &Redis{
		client:  client,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// opCtx derives a bounded context for one store call. The caller's deadline
// still applies if it is tighter.
func (r *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Redis) wrap(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	return &Error{Op: op, Err: err}
}

func (r *Redis) ScriptLoad(ctx context.Context, src string) (string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	sha, err := r.client.ScriptLoad(ctx, src).Result()
	if err != nil {
		return "", r.wrap("script load", err)
	}
	return sha, nil
}

func (r *Redis) EvalSha(ctx context.Context, sha string, keys []string, args ...any) (any, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.client.EvalSha(ctx, sha, keys, args...).Result()
	if err != nil {
		return nil, r.wrap("evalsha", err)
	}
	return res, nil
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, r.wrap("hgetall", err)
	}
	return fields, nil
}

func (r *Redis) ZCount(ctx context.Context, key, min, max string) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	n, err := r.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		return 0, r.wrap("zcount", err)
	}
	return n, nil
}

func (r *Redis) PTTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, r.wrap("pttl", err)
	}
	return ttl, nil
}
