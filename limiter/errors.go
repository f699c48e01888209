package limiter

import "fmt"

// ConfigError reports an invalid Config at construction time. It is the only
// failure New returns; nothing in this class can surface per request.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("limiter: invalid config: %s: %s", e.Field, e.Reason)
}
