package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/admitkit/admit/limiter"
	"github.com/admitkit/admit/meta"
)

// Response headers carrying the quota metadata.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderDuration  = "X-RateLimit-Duration"
)

// HTTP wraps handlers with admission control. Rejected requests get a 429
// with the limiter's configured message; when the store is unreachable the
// given policy decides between admitting and returning a 503.
func HTTP(l *limiter.Limiter, policy Policy, opts ...Option) (func(http.Handler) http.Handler, error) {
	if !policy.valid() {
		return nil, ErrNoPolicy
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := meta.Info{ClientIP: clientIP(r)}
			if o.routeScope {
				info.Route = r.URL.Path
			}
			ctx := meta.WithInfo(r.Context(), info)
			r = r.WithContext(ctx)

			d, err := l.Allow(ctx)
			if err != nil {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("admission check failed")
				if policy == FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			setQuotaHeaders(w.Header(), d)
			if !d.Allowed {
				if d.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d)))
				}
				http.Error(w, d.Message, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

func setQuotaHeaders(h http.Header, d limiter.Decision) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderDuration, strconv.Itoa(d.DurationSeconds()))
}

// retryAfterSeconds rounds the retry hint up to whole seconds, never below 1.
func retryAfterSeconds(d limiter.Decision) int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// clientIP strips the port from the peer address. Key extraction stays
// caller-replaceable through limiter.Config.KeyFunc; this is only the
// default for requests reaching this middleware directly.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
