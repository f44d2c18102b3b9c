package cache

import (
	"context"
	"time"
)

// Cache is the keyed table behind the search record store. A ttl of zero
// means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	Close() error
}
