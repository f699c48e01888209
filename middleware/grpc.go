package middleware

import (
	"context"
	"net"
	"strconv"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/admitkit/admit/limiter"
	"github.com/admitkit/admit/meta"
)

// UnaryServerInterceptor applies admission control to unary RPCs. Rejected
// calls fail with ResourceExhausted; the quota metadata travels back as
// response headers. The policy decides what happens when the store is
// unreachable: admit (FailOpen) or fail with Unavailable (FailClosed).
func UnaryServerInterceptor(l *limiter.Limiter, policy Policy, opts ...Option) (grpc.UnaryServerInterceptor, error) {
	if !policy.valid() {
		return nil, ErrNoPolicy
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqInfo := meta.Info{ClientIP: peerIP(ctx)}
		if o.routeScope {
			reqInfo.Route = info.FullMethod
		}
		ctx = meta.WithInfo(ctx, reqInfo)

		d, err := l.Allow(ctx)
		if err != nil {
			log.Error().Err(err).Str("method", info.FullMethod).Msg("admission check failed")
			if policy == FailOpen {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unavailable, "admission check unavailable")
		}

		// Best effort: SetHeader only fails when the ctx does not belong
		// to an RPC, which cannot happen inside an interceptor.
		_ = grpc.SetHeader(ctx, metadata.Pairs(
			HeaderLimit, strconv.Itoa(d.Limit),
			HeaderRemaining, strconv.Itoa(d.Remaining),
			HeaderDuration, strconv.Itoa(d.DurationSeconds()),
		))

		if !d.Allowed {
			return nil, status.Error(codes.ResourceExhausted, d.Message)
		}
		return handler(ctx, req)
	}, nil
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
