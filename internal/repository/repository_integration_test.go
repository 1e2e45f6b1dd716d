//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clydra/backend/internal/database"
	"github.com/clydra/backend/internal/metering"
	"github.com/clydra/backend/internal/models"
)

// Run with: go test -tags integration ./internal/repository/
// Requires TEST_DATABASE_URL pointing at a disposable database.

func setupDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, database.DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, EnsureSchema(ctx, db))

	_, err = db.Exec(ctx, `TRUNCATE daily_allowances, credit_accounts, credit_transactions`)
	require.NoError(t, err)

	return db
}

func TestAllowanceGetOrCreateIdempotent(t *testing.T) {
	db := setupDB(t)
	repo := NewAllowanceRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, "u1", "2024-06-01", 40000)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), first.Granted)
	assert.Equal(t, int64(40000), first.Remaining)

	_, err = repo.Decrement(ctx, "u1", "2024-06-01", 1000)
	require.NoError(t, err)

	// A second create attempt must not reset the consumed row, even with a
	// different grant.
	again, err := repo.GetOrCreate(ctx, "u1", "2024-06-01", 99999)
	require.NoError(t, err)
	assert.Equal(t, int64(40000), again.Granted)
	assert.Equal(t, int64(39000), again.Remaining)
}

func TestAllowanceGetOrCreateConcurrent(t *testing.T) {
	db := setupDB(t)
	repo := NewAllowanceRepository(db)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	results := make([]models.DailyAllowance, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.GetOrCreate(ctx, "u-race", "2024-06-01", 40000)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(40000), results[i].Granted)
	}
}

func TestAllowanceDecrementConditional(t *testing.T) {
	db := setupDB(t)
	repo := NewAllowanceRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, "u1", "2024-06-01", 100)
	require.NoError(t, err)

	remaining, err := repo.Decrement(ctx, "u1", "2024-06-01", 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), remaining)

	_, err = repo.Decrement(ctx, "u1", "2024-06-01", 60)
	assert.ErrorIs(t, err, metering.ErrInsufficientAllowance)

	// The failed attempt must not have mutated the row.
	row, err := repo.Get(ctx, "u1", "2024-06-01")
	require.NoError(t, err)
	assert.Equal(t, int64(40), row.Remaining)
}

func TestAllowanceDecrementUnknownRow(t *testing.T) {
	db := setupDB(t)
	repo := NewAllowanceRepository(db)

	_, err := repo.Decrement(context.Background(), "ghost", "2024-06-01", 10)
	assert.ErrorIs(t, err, metering.ErrAllowanceNotFound)
}

func TestPurchaseThenConsume(t *testing.T) {
	db := setupDB(t)
	credits := NewCreditRepository(db)
	packages := NewPackageRepository(db)
	ctx := context.Background()

	pkg, err := packages.Package(ctx, "starter")
	require.NoError(t, err)

	txn, balance, err := credits.Purchase(ctx, "u1", pkg, "stripe:pi_123")
	require.NoError(t, err)
	assert.Equal(t, pkg.TotalCredits(), balance)
	assert.Equal(t, models.KindPurchase, txn.Kind)
	assert.Equal(t, "stripe:pi_123", txn.Evidence)

	balance, err = credits.Consume(ctx, "u1", 20000)
	require.NoError(t, err)
	assert.Equal(t, pkg.TotalCredits()-20000, balance)

	// Balance equals the sum of the transaction log.
	var sum int64
	err = db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`,
		"u1").Scan(&sum)
	require.NoError(t, err)
	assert.Equal(t, balance, sum)
}

func TestConsumeInsufficientMutatesNothing(t *testing.T) {
	db := setupDB(t)
	credits := NewCreditRepository(db)
	ctx := context.Background()

	pkg := models.CreditPackage{ID: "starter", Credits: 500}
	_, _, err := credits.Purchase(ctx, "u1", pkg, "")
	require.NoError(t, err)

	_, err = credits.Consume(ctx, "u1", 501)
	assert.ErrorIs(t, err, metering.ErrInsufficientBalance)

	balance, err := credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	// No consumption row was recorded for the denied attempt.
	txns, err := credits.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, models.KindPurchase, txns[0].Kind)
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	db := setupDB(t)
	credits := NewCreditRepository(db)
	ctx := context.Background()

	pkg := models.CreditPackage{ID: "starter", Credits: 1000}
	_, _, err := credits.Purchase(ctx, "u1", pkg, "")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)

	// All workers want the full balance; exactly one may get it.
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = credits.Consume(ctx, "u1", 1000)
		}(i)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, metering.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, won)

	balance, err := credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestBalanceRecomputedFromLog(t *testing.T) {
	db := setupDB(t)
	credits := NewCreditRepository(db)
	ctx := context.Background()

	// Transaction rows without an account row, as a crash between writes
	// would have left before mutations became atomic.
	for i, amount := range []int64{300, -100} {
		kind := models.KindPurchase
		if amount < 0 {
			kind = models.KindConsumption
		}
		_, err := db.Exec(ctx, `
			INSERT INTO credit_transactions (id, user_id, amount, kind, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i), "orphan", amount, kind,
			time.Now().UTC())
		require.NoError(t, err)
	}

	balance, err := credits.Balance(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance)
}

func TestTransactionsNewestFirst(t *testing.T) {
	db := setupDB(t)
	credits := NewCreditRepository(db)
	ctx := context.Background()

	pkg := models.CreditPackage{ID: "starter", Credits: 1000}
	_, _, err := credits.Purchase(ctx, "u1", pkg, "")
	require.NoError(t, err)
	_, err = credits.Consume(ctx, "u1", 100)
	require.NoError(t, err)

	txns, err := credits.Transactions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, models.KindConsumption, txns[0].Kind)
	assert.False(t, txns[0].CreatedAt.Before(txns[1].CreatedAt))
}

func TestActivePackagesSeeded(t *testing.T) {
	db := setupDB(t)
	packages := NewPackageRepository(db)

	list, err := packages.ActivePackages(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, list)
	for _, pkg := range list {
		assert.True(t, pkg.IsActive)
	}

	_, err = packages.Package(context.Background(), "no-such-package")
	assert.ErrorIs(t, err, metering.ErrPackageNotFound)
}
