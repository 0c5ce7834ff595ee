package ratelimit

import (
	"context"
	"errors"
	"time"
)

// DefaultWindow is applied when a policy does not specify one.
const DefaultWindow = time.Minute

// ErrInvalidKey indicates an empty or malformed counter key.
var ErrInvalidKey = errors.New("ratelimit: invalid key")

// Counter reports the state of a fixed window immediately after an increment.
type Counter struct {
	Count       int64
	ResetTime   time.Time
	IsNewWindow bool
}

// Store persists fixed-window request counters keyed by client identity and
// endpoint pattern. Implementations must make Increment atomic per key.
type Store interface {
	// Increment bumps the counter for key, starting a fresh window when none
	// exists or the previous one has expired.
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error)
	// Decrement undoes a previous increment within the current window. It is a
	// no-op for unknown keys or empty windows.
	Decrement(ctx context.Context, key string) error
	// CleanupExpired removes counters whose window ended before now, up to
	// limit entries, and reports how many were removed.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}
