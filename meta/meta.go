// Package meta carries request-scoped identity through a context.Context so
// transport adapters (HTTP handlers, gRPC interceptors) can hand the
// admission engine what it needs to derive a client key without the engine
// depending on any transport type.
package meta

import "context"

// infoKey is the private context key. A private type prevents collisions
// with other packages' context values.
type infoKey struct{}

// Info identifies the client behind one request.
type Info struct {
	// ClientIP is the network address of the caller, without port.
	ClientIP string
	// Route is the logical route being requested (URL path, gRPC full
	// method). Optional; scopes the limit per route when set.
	Route string
}

// WithInfo returns a context carrying info.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// FromContext extracts the request Info, reporting whether any was set.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoKey{}).(Info)
	return info, ok
}

// ClientKey derives the limiter key from the Info in ctx: the client address,
// scoped by route when one is set. It returns "" when no Info is present,
// which the limiter treats as an unattributable request.
func ClientKey(ctx context.Context) string {
	info, ok := FromContext(ctx)
	if !ok || info.ClientIP == "" {
		return ""
	}
	if info.Route == "" {
		return info.ClientIP
	}
	return info.ClientIP + "|" + info.Route
}
