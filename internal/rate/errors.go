package rate

import "errors"

// ErrRedisUnavailable wraps Redis transport and timeout failures.
var ErrRedisUnavailable = errors.New("redis unavailable")
