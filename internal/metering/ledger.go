package metering

import (
	"context"
	"errors"
	"fmt"

	"github.com/clydra/backend/internal/models"
)

// Transaction list bounds
const (
	DefaultTransactionLimit = 20
	MaxTransactionLimit     = 100
)

// PurchaseResult is the outcome of a successful purchase.
type PurchaseResult struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
}

// ConsumeResult is the outcome of a credit consumption attempt.
type ConsumeResult struct {
	Granted bool  `json:"granted"`
	Balance int64 `json:"balance"`
}

// Ledger owns the consistency of credit accounts and their append-only
// transaction log. Purchases re-read the package catalog server-side; a
// client-supplied price is never trusted. Transient write conflicts are
// retried once before surfacing.
type Ledger struct {
	store    LedgerStore
	packages PackageStore
}

// NewLedger creates a credit ledger over the given stores.
func NewLedger(store LedgerStore, packages PackageStore) *Ledger {
	return &Ledger{store: store, packages: packages}
}

// Purchase credits a user with the package's credits plus bonus and records
// the purchase transaction atomically. The payment evidence is an opaque
// record the caller has already validated with the payment provider.
func (l *Ledger) Purchase(ctx context.Context, userID, packageID, evidence string) (PurchaseResult, error) {
	pkg, err := l.packages.Package(ctx, packageID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !pkg.IsActive {
		return PurchaseResult{}, ErrPackageInactive
	}

	txn, balance, err := l.store.Purchase(ctx, userID, pkg, evidence)
	if errors.Is(err, ErrPersistenceConflict) {
		txn, balance, err = l.store.Purchase(ctx, userID, pkg, evidence)
	}
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("record purchase: %w", err)
	}

	return PurchaseResult{TransactionID: txn.ID, NewBalance: balance}, nil
}

// Consume debits amount from the user's credit balance. It fails closed:
// an insufficient balance is a soft denial that mutates nothing, reported in
// the result rather than as an error.
func (l *Ledger) Consume(ctx context.Context, userID string, amount int64) (ConsumeResult, error) {
	if amount < 0 {
		return ConsumeResult{}, ErrInvalidAmount
	}

	if amount == 0 {
		balance, err := l.store.Balance(ctx, userID)
		if err != nil {
			return ConsumeResult{}, fmt.Errorf("read balance: %w", err)
		}
		return ConsumeResult{Granted: true, Balance: balance}, nil
	}

	balance, err := l.store.Consume(ctx, userID, amount)
	if errors.Is(err, ErrPersistenceConflict) {
		balance, err = l.store.Consume(ctx, userID, amount)
	}
	if errors.Is(err, ErrInsufficientBalance) {
		current, berr := l.store.Balance(ctx, userID)
		if berr != nil {
			return ConsumeResult{}, fmt.Errorf("read balance: %w", berr)
		}
		return ConsumeResult{Granted: false, Balance: current}, nil
	}
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("record consumption: %w", err)
	}

	return ConsumeResult{Granted: true, Balance: balance}, nil
}

// Balance returns the user's current credit balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.store.Balance(ctx, userID)
}

// ListTransactions returns the user's ledger entries newest first. A
// non-positive limit selects the default; limits are capped.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = DefaultTransactionLimit
	}
	if limit > MaxTransactionLimit {
		limit = MaxTransactionLimit
	}
	return l.store.Transactions(ctx, userID, limit)
}

// Packages returns the purchasable package catalog.
func (l *Ledger) Packages(ctx context.Context) ([]models.CreditPackage, error) {
	return l.packages.ActivePackages(ctx)
}
