package limiter

import (
	"context"
	"time"

	"github.com/admitkit/admit/store"
)

// KeyFunc derives the client key for a request from its context. An empty
// result means the request cannot be attributed and is admitted unchecked.
type KeyFunc func(ctx context.Context) string

// Valid algorithm identifiers.
var validAlgorithms = map[string]bool{
	TokenBucket:   true,
	FixedWindow:   true,
	SlidingWindow: true,
	LeakyBucket:   true,
	SlidingLog:    true,
}

// Config describes one limiter. Window and Max together define the quota:
// at most Max requests (or tokens) per Window.
type Config struct {
	Algorithm string        // one of the five algorithm identifiers
	Window    time.Duration // quota window length, must be positive
	Max       int           // quota per window, must be positive
	KeyFunc   KeyFunc       // derives the client key from the request context
	Store     store.Store   // external counter store
	Message   string        // rejection text, DefaultMessage when empty
	Prefix    string        // store key namespace, DefaultPrefix when empty
	WhiteList []string      // client keys exempt from limiting
}

// validate checks the config and fills defaults in place.
func (c *Config) validate() error {
	if c.Window <= 0 {
		return &ConfigError{Field: "Window", Reason: "must be a positive duration"}
	}
	if c.Max <= 0 {
		return &ConfigError{Field: "Max", Reason: "must be positive"}
	}
	if c.KeyFunc == nil {
		return &ConfigError{Field: "KeyFunc", Reason: "is required"}
	}
	if c.Store == nil {
		return &ConfigError{Field: "Store", Reason: "is required"}
	}
	if c.Algorithm == "" {
		return &ConfigError{Field: "Algorithm", Reason: "is required"}
	}
	if !validAlgorithms[c.Algorithm] {
		return &ConfigError{Field: "Algorithm", Reason: "unrecognized identifier: " + c.Algorithm}
	}
	if c.Message == "" {
		c.Message = DefaultMessage
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	return nil
}
