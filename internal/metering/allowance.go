package metering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/clydra/backend/internal/cache"
	"github.com/clydra/backend/internal/models"
)

// DefaultDailyLimits is the free-tier token grant per plan tier.
var DefaultDailyLimits = map[string]int64{
	models.TierFree: 40000,
	models.TierPro:  80000,
}

// AllowanceResult is the outcome of a TryConsume call.
type AllowanceResult struct {
	Granted   bool  `json:"granted"`
	Remaining int64 `json:"remaining"`
}

// AllowanceManager grants and decrements the per-user daily token allowance.
// "Today" is always computed in UTC so allowance resets do not drift across
// deployment regions. The cache mirrors the durable row as a hint; every
// decrement goes through the store's conditional update.
type AllowanceManager struct {
	store  AllowanceStore
	cache  *cache.Adapter
	limits map[string]int64
	now    func() time.Time
}

// NewAllowanceManager creates an allowance manager. A nil limits map selects
// DefaultDailyLimits.
func NewAllowanceManager(store AllowanceStore, c *cache.Adapter, limits map[string]int64) *AllowanceManager {
	if limits == nil {
		limits = DefaultDailyLimits
	}
	return &AllowanceManager{
		store:  store,
		cache:  c,
		limits: limits,
		now:    time.Now,
	}
}

// Grant returns the daily token grant for a plan tier. Unknown tiers fall
// back to the free plan.
func (m *AllowanceManager) Grant(tier string) int64 {
	return m.limits[models.NormalizeTier(tier)]
}

// today returns the current UTC calendar date.
func (m *AllowanceManager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

// allowanceKey builds the cache key mirroring one allowance row.
func allowanceKey(userID, day string) string {
	return fmt.Sprintf("allowance:%s:%s", userID, day)
}

// ttlToMidnight returns the duration until the next UTC midnight, when the
// cached row stops being meaningful.
func ttlToMidnight(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(now)
}

// cacheRemaining mirrors the durable remaining value into the cache.
func (m *AllowanceManager) cacheRemaining(ctx context.Context, userID, day string, remaining int64) {
	m.cache.Set(ctx, allowanceKey(userID, day), strconv.FormatInt(remaining, 10), ttlToMidnight(m.now()))
}

// GetOrCreate returns today's allowance for a user, creating the durable row
// lazily on first access. The cache answers the common repeat lookup without
// a durable round trip.
func (m *AllowanceManager) GetOrCreate(ctx context.Context, userID, tier string) (models.DailyAllowance, error) {
	day := m.today()
	granted := m.Grant(tier)

	if v, ok := m.cache.Get(ctx, allowanceKey(userID, day)); ok {
		if remaining, err := strconv.ParseInt(v, 10, 64); err == nil {
			return models.DailyAllowance{
				UserID:    userID,
				Day:       day,
				Granted:   granted,
				Remaining: remaining,
			}, nil
		}
	}

	allowance, err := m.store.GetOrCreate(ctx, userID, day, granted)
	if err != nil {
		return models.DailyAllowance{}, fmt.Errorf("get or create allowance: %w", err)
	}

	m.cacheRemaining(ctx, userID, day, allowance.Remaining)
	return allowance, nil
}

// TryConsume attempts to debit amount from today's allowance. It fails
// closed: when amount exceeds the remaining allowance nothing is debited.
// The decrement is a single durable conditional update; on a precondition
// failure the row is re-read and the decrement retried once, so a stale read
// never produces a false denial.
func (m *AllowanceManager) TryConsume(ctx context.Context, userID, tier string, amount int64) (AllowanceResult, error) {
	if amount < 0 {
		return AllowanceResult{}, ErrInvalidAmount
	}

	allowance, err := m.GetOrCreate(ctx, userID, tier)
	if err != nil {
		return AllowanceResult{}, err
	}

	day := allowance.Day
	if amount == 0 {
		return AllowanceResult{Granted: true, Remaining: allowance.Remaining}, nil
	}

	remaining, err := m.store.Decrement(ctx, userID, day, amount)
	if err == nil {
		m.cacheRemaining(ctx, userID, day, remaining)
		return AllowanceResult{Granted: true, Remaining: remaining}, nil
	}
	if !errors.Is(err, ErrInsufficientAllowance) && !errors.Is(err, ErrAllowanceNotFound) {
		return AllowanceResult{}, fmt.Errorf("decrement allowance: %w", err)
	}

	// The cache may have answered GetOrCreate with a stale value, or the
	// row for a new day may not have existed yet. Re-read the durable row
	// and retry the conditional decrement once.
	fresh, err := m.store.GetOrCreate(ctx, userID, day, m.Grant(tier))
	if err != nil {
		return AllowanceResult{}, fmt.Errorf("re-read allowance: %w", err)
	}

	if fresh.Remaining >= amount {
		remaining, err = m.store.Decrement(ctx, userID, day, amount)
		if err == nil {
			m.cacheRemaining(ctx, userID, day, remaining)
			return AllowanceResult{Granted: true, Remaining: remaining}, nil
		}
		if !errors.Is(err, ErrInsufficientAllowance) && !errors.Is(err, ErrAllowanceNotFound) {
			return AllowanceResult{}, fmt.Errorf("decrement allowance: %w", err)
		}
		// A concurrent consumer won the race; deny with its view.
		fresh, err = m.store.Get(ctx, userID, day)
		if err != nil {
			return AllowanceResult{}, fmt.Errorf("re-read allowance: %w", err)
		}
	}

	m.cacheRemaining(ctx, userID, day, fresh.Remaining)
	return AllowanceResult{Granted: false, Remaining: fresh.Remaining}, nil
}
