package auth

import (
	"time"

	"github.com/org/geocrypt/internal/kvstore"
)

// Limiter is a per-key sliding-window rate limiter backed by the key-value
// store. Each call records an attempt; an attempt over the limit still
// counts, so hammering a locked key extends the lockout.
type Limiter struct {
	kv     kvstore.Store
	max    int
	window time.Duration
}

// NewLimiter allows max attempts per key within window.
func NewLimiter(kv kvstore.Store, max int, window time.Duration) *Limiter {
	return &Limiter{kv: kv, max: max, window: window}
}

// Allow records an attempt for key and reports whether it is within the
// limit.
func (l *Limiter) Allow(key string) bool {
	return l.kv.Window("ratelimit:"+key, time.Now(), l.window) <= l.max
}

// Reset clears the window for key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.kv.Delete("ratelimit:" + key)
}
