package limiter

import "time"

// Decision is the outcome of one admission check. The quota metadata is
// populated on every decision, admitted or not, so callers can surface it
// (for example as rate-limit response headers).
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the configured maximum for the window.
	Limit int

	// Remaining is a best-effort estimate of quota left after this
	// decision. It may be negative when the client is over the limit,
	// signaling how far over.
	Remaining int

	// Window is the configured window length.
	Window time.Duration

	// RetryAfter estimates how long until the next request would be
	// admitted. Zero when the request was allowed or no estimate exists.
	RetryAfter time.Duration

	// Message carries the configured rejection text on denied decisions.
	Message string
}

// DurationSeconds is the window length in whole seconds, the unit used for
// the duration value exposed to clients.
func (d Decision) DurationSeconds() int {
	return int(d.Window / time.Second)
}
