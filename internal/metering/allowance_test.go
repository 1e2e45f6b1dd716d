package metering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clydra/backend/internal/cache"
	"github.com/clydra/backend/internal/models"
)

// unreachableBackend simulates a cache whose reads and writes always fail.
type unreachableBackend struct{}

var errCacheDown = errors.New("connection refused")

func (unreachableBackend) Exists(context.Context, string) (bool, error) { return false, errCacheDown }
func (unreachableBackend) Get(context.Context, string) (string, error)  { return "", errCacheDown }
func (unreachableBackend) Set(context.Context, string, string, time.Duration) error {
	return errCacheDown
}
func (unreachableBackend) TTL(context.Context, string) (time.Duration, error) {
	return 0, errCacheDown
}
func (unreachableBackend) Ping(context.Context) error { return errCacheDown }

func newTestManager(t *testing.T) (*AllowanceManager, *MemoryAllowanceStore) {
	t.Helper()
	store := NewMemoryAllowanceStore()
	m := NewAllowanceManager(store, cache.NewAdapter(cache.NewMemoryBackend(), 0), nil)
	return m, store
}

func TestGetOrCreateGrantsFullAllowance(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.GetOrCreate(ctx, "u1", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), a.Granted)
	assert.Equal(t, int64(40000), a.Remaining)

	b, err := m.GetOrCreate(ctx, "u2", models.TierPro)
	require.NoError(t, err)
	assert.Equal(t, int64(80000), b.Granted)
}

func TestGetOrCreateUnknownTierFallsBackToFree(t *testing.T) {
	m, _ := newTestManager(t)

	a, err := m.GetOrCreate(context.Background(), "u1", "platinum")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), a.Granted)
}

func TestTryConsumeDebitsAndFailsClosed(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// 25000 of 40000 fits.
	res, err := m.TryConsume(ctx, "u1", models.TierFree, 25000)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(15000), res.Remaining)

	// 20000 > 15000: denial, no partial debit.
	res, err = m.TryConsume(ctx, "u1", models.TierFree, 20000)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, int64(15000), res.Remaining)

	// The denial must not have mutated the durable row.
	a, err := m.GetOrCreate(ctx, "u1", models.TierFree)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), a.Remaining)
}

func TestTryConsumeZeroAlwaysSucceeds(t *testing.T) {
	m, _ := newTestManager(t)

	res, err := m.TryConsume(context.Background(), "u1", models.TierFree, 0)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(40000), res.Remaining)
}

func TestTryConsumeNegativeAmountRejected(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.TryConsume(context.Background(), "u1", models.TierFree, -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTryConsumeConcurrentNoOverConsumption(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// 40000 granted, 100 goroutines asking 1000 each: at most 40 succeed.
	const workers = 100
	const amount = 1000

	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.TryConsume(ctx, "u1", models.TierFree, amount)
			if err == nil && res.Granted {
				mu.Lock()
				granted += amount
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(40000), granted)

	a, err := store.Get(ctx, "u1", m.today())
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.Remaining)
}

func TestConcurrentFirstAccessSingleGrant(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.GetOrCreate(ctx, "u1", models.TierFree)
		}()
	}
	wg.Wait()

	a, err := store.Get(ctx, "u1", m.today())
	require.NoError(t, err)
	assert.Equal(t, int64(40000), a.Remaining, "concurrent first-accesses must converge to one grant")
}

func TestDayRolloverGetsFreshAllowance(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	// Exhaust Jan 1 completely.
	res, err := m.TryConsume(ctx, "u1", models.TierFree, 40000)
	require.NoError(t, err)
	require.True(t, res.Granted)
	assert.Equal(t, int64(0), res.Remaining)

	// A request past midnight uses the new day's key: fresh grant, no
	// carry-over from the exhausted row.
	now = time.Date(2024, 1, 2, 0, 5, 0, 0, time.UTC)

	res, err = m.TryConsume(ctx, "u1", models.TierFree, 10000)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(30000), res.Remaining)

	// The prior day's row is superseded, not mutated.
	old, err := store.Get(ctx, "u1", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), old.Remaining)
}

func TestTryConsumeWithUnavailableCache(t *testing.T) {
	store := NewMemoryAllowanceStore()
	m := NewAllowanceManager(store, cache.NewAdapter(unreachableBackend{}, 0), nil)
	ctx := context.Background()

	// Correctness must not depend on cache availability.
	res, err := m.TryConsume(ctx, "u1", models.TierFree, 25000)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(15000), res.Remaining)

	res, err = m.TryConsume(ctx, "u1", models.TierFree, 20000)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, int64(15000), res.Remaining)
}

func TestStaleCacheHintDoesNotDeny(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// Seed the row, then poison the cache with a stale remaining value
	// lower than the durable truth.
	_, err := m.GetOrCreate(ctx, "u1", models.TierFree)
	require.NoError(t, err)

	day := m.today()
	m.cacheRemaining(ctx, "u1", day, 10)

	// The conditional decrement runs against the durable row, so the
	// stale hint cannot cause a false denial.
	res, err := m.TryConsume(ctx, "u1", models.TierFree, 20000)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, int64(20000), res.Remaining)

	a, err := store.Get(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(20000), a.Remaining)
}

func TestTTLToMidnight(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, ttlToMidnight(now))
}
