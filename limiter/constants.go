package limiter

// Algorithm identifiers accepted by Config.Algorithm.
const (
	TokenBucket   = "token-bucket"
	FixedWindow   = "fixed-window"
	SlidingWindow = "sliding-window"
	LeakyBucket   = "leaky-bucket"
	SlidingLog    = "sliding-log"
)

// DefaultPrefix namespaces limiter keys in the store.
const DefaultPrefix = "admit:"

// DefaultMessage is returned with rejections when Config.Message is empty.
const DefaultMessage = "rate limit exceeded, try again later"
