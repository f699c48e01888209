// Package middleware applies a limiter's verdicts at the transport edge: an
// http.Handler wrapper and a gRPC unary server interceptor. Both set the
// three quota values (limit, remaining, window duration in seconds) on every
// processed response and both require an explicit failure policy: the engine
// never converts a store failure into a verdict, so the edge must say
// whether to fail open or fail closed.
package middleware

import "errors"

// Policy says what to do with a request when the counter store is
// unreachable. There is no default; the zero value is rejected at
// construction so the choice is always deliberate.
type Policy int

const (
	// FailClosed rejects requests when the store is unreachable,
	// protecting the backend at the cost of availability.
	FailClosed Policy = iota + 1
	// FailOpen admits requests when the store is unreachable, preferring
	// availability over enforcement.
	FailOpen
)

// ErrNoPolicy is returned when a middleware is constructed without choosing
// a failure policy.
var ErrNoPolicy = errors.New("middleware: a failure policy (FailOpen or FailClosed) is required")

func (p Policy) valid() bool {
	return p == FailClosed || p == FailOpen
}

type options struct {
	routeScope bool
}

// Option configures a middleware.
type Option func(*options)

// WithRouteScope scopes the client key by route (URL path or gRPC method),
// giving each route its own quota per client.
func WithRouteScope() Option {
	return func(o *options) {
		o.routeScope = true
	}
}
