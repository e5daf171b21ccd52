// Package counter provides process-wide keyed counters with an optional
// expiry window. Backends: in-memory, Redis and the SQL counters table.
package counter

import (
	"context"
	"time"
)

// Well-known counter keys
const (
	KeyLoginFailed = "login:failed"
	KeyVisits      = "stats:visits"
)

// Store is a keyed counter. Increment starts a new window with ttl when the
// key is absent or expired; ttl <= 0 means the counter never expires.
// Get returns 0 for absent or expired keys.
type Store interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}
