// Package metering implements the usage-metering and quota-enforcement core:
// daily free-tier allowances, the paid credit ledger, and the enforcement
// facade request handlers call before a metered action.
//
// The durable store is abstracted behind two narrow contracts. Both are built
// on exactly two storage primitives: an idempotent upsert keyed by a
// composite key, and an atomic conditional update that only applies while the
// precondition (sufficient remaining/balance) holds at write time.
package metering

import (
	"context"

	"github.com/clydra/backend/internal/models"
)

// AllowanceStore persists per-user, per-day allowance rows.
type AllowanceStore interface {
	// GetOrCreate returns the allowance row for (userID, day), creating it
	// with remaining = granted if absent. Creation is idempotent: N
	// concurrent first-accesses converge to one logical grant.
	GetOrCreate(ctx context.Context, userID, day string, granted int64) (models.DailyAllowance, error)

	// Get returns the allowance row for (userID, day), or
	// ErrAllowanceNotFound.
	Get(ctx context.Context, userID, day string) (models.DailyAllowance, error)

	// Decrement atomically subtracts amount while remaining >= amount and
	// returns the new remaining. Returns ErrInsufficientAllowance when the
	// precondition fails with no mutation, or ErrAllowanceNotFound when no
	// row exists.
	Decrement(ctx context.Context, userID, day string, amount int64) (int64, error)
}

// LedgerStore persists credit transactions and the derived account balance.
// Every mutation writes the transaction row and the balance in one atomic
// unit; balance reads recompute from the transaction log when the derived
// row is missing.
type LedgerStore interface {
	// Purchase appends a purchase transaction for the package's total
	// credits and credits the balance. Returns the transaction and the new
	// balance.
	Purchase(ctx context.Context, userID string, pkg models.CreditPackage, evidence string) (models.CreditTransaction, int64, error)

	// Consume appends a negative consumption transaction while
	// balance >= amount and returns the new balance. Returns
	// ErrInsufficientBalance when the precondition fails with no mutation.
	Consume(ctx context.Context, userID string, amount int64) (int64, error)

	// Balance returns the current credit balance; zero for unknown users.
	Balance(ctx context.Context, userID string) (int64, error)

	// Transactions returns the user's ledger entries newest first, bounded
	// by limit.
	Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error)
}

// PackageStore reads the credit package catalog.
type PackageStore interface {
	// Package returns a catalog entry by id, or ErrPackageNotFound.
	Package(ctx context.Context, id string) (models.CreditPackage, error)

	// ActivePackages returns the purchasable catalog.
	ActivePackages(ctx context.Context) ([]models.CreditPackage, error)
}
