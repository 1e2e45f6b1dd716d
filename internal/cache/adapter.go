package cache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// DefaultOpTimeout bounds individual cache operations so a slow backend can
// never stall a metered request.
const DefaultOpTimeout = 250 * time.Millisecond

// Adapter fronts the current cache backend and absorbs its failures. On the
// first infrastructure error it switches to the in-process fallback for the
// rest of the process lifetime (a restart reconnects to Redis). The switch is
// guarded by the adapter's single backend handle; callers go through the
// adapter on every call and never hold a stale backend reference.
//
// None of the adapter's methods return errors: a failed cache operation is
// indistinguishable from a cold cache, and the durable store remains
// authoritative.
type Adapter struct {
	opTimeout time.Duration
	fallback  *MemoryBackend

	mu      sync.RWMutex
	backend Backend
}

// NewAdapter creates an adapter over the given backend. A zero opTimeout
// selects DefaultOpTimeout.
func NewAdapter(backend Backend, opTimeout time.Duration) *Adapter {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Adapter{
		opTimeout: opTimeout,
		fallback:  NewMemoryBackend(),
		backend:   backend,
	}
}

// NewAdapterFromURL connects to Redis at redisURL. When the connection cannot
// be established the adapter starts directly on the in-process store.
func NewAdapterFromURL(redisURL string, opTimeout time.Duration) *Adapter {
	backend, err := NewRedisBackend(redisURL)
	if err != nil {
		log.Printf("[cache] redis unavailable, starting on in-process store: %v", err)
		return NewAdapter(NewMemoryBackend(), opTimeout)
	}
	return NewAdapter(backend, opTimeout)
}

// backendRef returns the active backend.
func (a *Adapter) backendRef() Backend {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.backend
}

// degrade swaps the active backend for the in-process fallback. Concurrent
// calls are safe: only the first swap logs, later ones find the fallback
// already installed.
func (a *Adapter) degrade(cause error) Backend {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend != Backend(a.fallback) {
		log.Printf("[cache] backend unavailable, switching to in-process store: %v", cause)
		a.backend = a.fallback
	}
	return a.backend
}

// run executes op against the active backend with the adapter's op timeout,
// retrying once against the fallback on infrastructure errors. ErrMiss is a
// normal outcome, not a failure.
func (a *Adapter) run(ctx context.Context, op func(ctx context.Context, b Backend) error) error {
	opCtx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	err := op(opCtx, a.backendRef())
	if err == nil || errors.Is(err, ErrMiss) {
		return err
	}

	// A caller abort is not a backend failure: abandon the call and leave
	// the backend handle alone. Only errors attributable to the backend
	// itself (connection errors, the op timeout firing) trigger the swap.
	if ctx.Err() != nil {
		return err
	}

	// The fallback is in-process; reuse the caller's context directly.
	return op(ctx, a.degrade(err))
}

// Exists reports whether a key is present. Backend failures read as absent.
func (a *Adapter) Exists(ctx context.Context, key string) bool {
	var found bool
	err := a.run(ctx, func(ctx context.Context, b Backend) error {
		var err error
		found, err = b.Exists(ctx, key)
		return err
	})
	return err == nil && found
}

// Get returns a value and whether it was present.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool) {
	var value string
	err := a.run(ctx, func(ctx context.Context, b Backend) error {
		var err error
		value, err = b.Get(ctx, key)
		return err
	})
	if err != nil {
		return "", false
	}
	return value, true
}

// Set stores a value with optional expiration. A failed write is dropped;
// the next read falls through to the durable store.
func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) {
	err := a.run(ctx, func(ctx context.Context, b Backend) error {
		return b.Set(ctx, key, value, ttl)
	})
	if err != nil {
		log.Printf("[cache] dropped write for %s: %v", key, err)
	}
}

// TTL returns the remaining lifetime of a key and whether the key exists.
func (a *Adapter) TTL(ctx context.Context, key string) (time.Duration, bool) {
	var d time.Duration
	err := a.run(ctx, func(ctx context.Context, b Backend) error {
		var err error
		d, err = b.TTL(ctx, key)
		return err
	})
	if err != nil {
		return 0, false
	}
	return d, true
}

// Degraded reports whether the adapter has switched to the in-process store.
func (a *Adapter) Degraded() bool {
	return a.backendRef() == Backend(a.fallback)
}

// Health pings the active backend. Used by readiness probes; a degraded
// adapter is reported unhealthy even though metering keeps working.
func (a *Adapter) Health(ctx context.Context) error {
	if a.Degraded() {
		return errors.New("cache: running on in-process fallback")
	}
	return a.backendRef().Ping(ctx)
}
