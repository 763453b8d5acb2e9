// Package cache stores JSON encoded values with a TTL, in process memory or in Redis.
package cache

import (
	"context"
	"math/rand/v2"
	"time"
)

type Cache interface {
	// Get decodes the value stored at key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores v at key. A non-positive ttl keeps the value until deleted.
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// withJitter adds up to 10% to ttl to spread expirations.
func withJitter(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}

	return ttl + time.Duration(rand.Int64N(int64(ttl)/10+1))
}
