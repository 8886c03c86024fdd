package cache

import (
	"context"
	"time"
)

// Store is the boundary to the external edge key-value cache.
// Implemented by the memory backend (dev/tests) and Redis (prod).
// Both are best-effort: callers treat Get errors as misses and must
// never let a Set failure reach the client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
