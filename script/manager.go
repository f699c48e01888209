// Package script manages server-side scripts for the admission engine. A
// script is registered with the store once per process and invoked by its
// content-derived handle afterwards; the handle cache lives for the process
// lifetime. If the store forgets a handle (a restart purges its script
// cache), Run re-registers the script and retries once.
package script

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/admitkit/admit/store"
)

// resetSrc deletes a key's state atomically. Reset goes through the same
// script path as decisions so it cannot interleave with a concurrent
// read-modify-write on the same key.
const resetSrc = `return redis.call("DEL", KEYS[1])`

// Manager caches script handles per process and executes scripts against the
// store. The cache is insert-if-absent and never invalidated locally; only a
// store-side cache miss triggers re-registration.
type Manager struct {
	store store.Store

	mu      sync.Mutex
	handles map[string]string // script source -> store handle
}

// NewManager creates a Manager bound to a store.
func NewManager(st store.Store) *Manager {
	return &Manager{
		store:   st,
		handles: make(map[string]string),
	}
}

// Load returns the store handle for src, registering the script on first use.
// Repeat calls for the same source never contact the store. Concurrent first
// loads may both register; the store derives the handle from content, so the
// outcome is identical.
func (m *Manager) Load(ctx context.Context, src string) (string, error) {
	m.mu.Lock()
	sha, ok := m.handles[src]
	m.mu.Unlock()
	if ok {
		return sha, nil
	}
	return m.register(ctx, src)
}

// register loads src into the store and caches the returned handle,
// overwriting any stale entry.
func (m *Manager) register(ctx context.Context, src string) (string, error) {
	sha, err := m.store.ScriptLoad(ctx, src)
	if err != nil {
		log.Error().Err(err).Msg("script registration failed")
		return "", err
	}

	m.mu.Lock()
	m.handles[src] = sha
	m.mu.Unlock()

	log.Debug().Str("sha", sha).Msg("script registered")
	return sha, nil
}

// Run executes src atomically against the store, registering it on first use.
// On a store-side cache miss the script is re-registered and the invocation
// retried exactly once; any other failure propagates as a *store.Error.
func (m *Manager) Run(ctx context.Context, src string, keys []string, args ...any) (any, error) {
	sha, err := m.Load(ctx, src)
	if err != nil {
		return nil, err
	}

	res, err := m.store.EvalSha(ctx, sha, keys, args...)
	if err == nil {
		return res, nil
	}
	if !store.IsNoScript(err) {
		return nil, err
	}

	log.Warn().Str("sha", sha).Msg("store no longer knows script handle, re-registering")
	sha, err = m.register(ctx, src)
	if err != nil {
		return nil, err
	}
	return m.store.EvalSha(ctx, sha, keys, args...)
}

// ResetKey atomically deletes the state stored under key. A request issued
// right after ResetKey behaves exactly like the first request on a fresh key.
func (m *Manager) ResetKey(ctx context.Context, key string) error {
	_, err := m.Run(ctx, resetSrc, []string{key})
	if err != nil {
		return err
	}
	log.Debug().Str("key", key).Msg("key state reset")
	return nil
}
