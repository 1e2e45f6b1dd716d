// Package cache provides the key/value fast path used by the metering core.
// The cache is advisory: it accelerates allowance lookups within the day
// window but is never the source of truth. When the distributed backend is
// unreachable the adapter degrades to an in-process store and callers see a
// possibly-cold cache, never an error.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by a Backend when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// NoExpiry is reported by TTL for keys that exist without an expiration.
const NoExpiry = time.Duration(-1)

// Backend is a key/value store with per-key TTL. Values written with a
// positive TTL self-expire; reads past expiry behave identically to absence.
type Backend interface {
	// Exists reports whether a key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the value for a key, or ErrMiss.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// TTL returns the remaining lifetime of a key, NoExpiry for keys
	// without an expiration, or ErrMiss for absent keys.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
