package metering

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clydra/backend/internal/models"
)

// MemoryAllowanceStore is an in-memory AllowanceStore. It mirrors the
// durable layer's primitives (idempotent create, conditional decrement)
// under a single mutex. Intended for tests and single-node development; the
// production store is PostgreSQL.
type MemoryAllowanceStore struct {
	mu   sync.Mutex
	rows map[string]*models.DailyAllowance
}

var _ AllowanceStore = (*MemoryAllowanceStore)(nil)

// NewMemoryAllowanceStore creates an empty in-memory allowance store.
func NewMemoryAllowanceStore() *MemoryAllowanceStore {
	return &MemoryAllowanceStore{rows: make(map[string]*models.DailyAllowance)}
}

func allowanceRowKey(userID, day string) string {
	return userID + "|" + day
}

// GetOrCreate returns the row for (userID, day), creating it if absent.
func (s *MemoryAllowanceStore) GetOrCreate(_ context.Context, userID, day string, granted int64) (models.DailyAllowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := allowanceRowKey(userID, day)
	if row, ok := s.rows[key]; ok {
		return *row, nil
	}

	now := time.Now().UTC()
	row := &models.DailyAllowance{
		UserID:    userID,
		Day:       day,
		Granted:   granted,
		Remaining: granted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.rows[key] = row
	return *row, nil
}

// Get returns the row for (userID, day) or ErrAllowanceNotFound.
func (s *MemoryAllowanceStore) Get(_ context.Context, userID, day string) (models.DailyAllowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[allowanceRowKey(userID, day)]
	if !ok {
		return models.DailyAllowance{}, ErrAllowanceNotFound
	}
	return *row, nil
}

// Decrement applies the conditional decrement under the store mutex.
func (s *MemoryAllowanceStore) Decrement(_ context.Context, userID, day string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[allowanceRowKey(userID, day)]
	if !ok {
		return 0, ErrAllowanceNotFound
	}
	if row.Remaining < amount {
		return 0, ErrInsufficientAllowance
	}
	row.Remaining -= amount
	row.UpdatedAt = time.Now().UTC()
	return row.Remaining, nil
}

// MemoryLedgerStore is an in-memory LedgerStore holding the append-only
// transaction log and derived balances under one mutex.
type MemoryLedgerStore struct {
	mu           sync.Mutex
	balances     map[string]int64
	transactions []models.CreditTransaction
}

var _ LedgerStore = (*MemoryLedgerStore)(nil)

// NewMemoryLedgerStore creates an empty in-memory ledger store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{balances: make(map[string]int64)}
}

// Purchase appends a purchase transaction and credits the balance.
func (s *MemoryLedgerStore) Purchase(_ context.Context, userID string, pkg models.CreditPackage, evidence string) (models.CreditTransaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkgID := pkg.ID
	txn := models.CreditTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    pkg.TotalCredits(),
		Kind:      models.KindPurchase,
		PackageID: &pkgID,
		Evidence:  evidence,
		CreatedAt: time.Now().UTC(),
	}
	s.transactions = append(s.transactions, txn)
	s.balances[userID] += txn.Amount
	return txn, s.balances[userID], nil
}

// Consume appends a negative consumption transaction while the balance
// covers it.
func (s *MemoryLedgerStore) Consume(_ context.Context, userID string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[userID] < amount {
		return 0, ErrInsufficientBalance
	}

	s.transactions = append(s.transactions, models.CreditTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    -amount,
		Kind:      models.KindConsumption,
		CreatedAt: time.Now().UTC(),
	})
	s.balances[userID] -= amount
	return s.balances[userID], nil
}

// Balance returns the derived balance; zero for unknown users.
func (s *MemoryLedgerStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// Transactions returns the user's entries newest first, bounded by limit.
func (s *MemoryLedgerStore) Transactions(_ context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.CreditTransaction, 0, limit)
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.transactions[i].UserID == userID {
			out = append(out, s.transactions[i])
		}
	}
	return out, nil
}

// LedgerSum recomputes a user's balance from the transaction log. Tests use
// it to check the balance/log consistency invariant.
func (s *MemoryLedgerStore) LedgerSum(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum int64
	for _, txn := range s.transactions {
		if txn.UserID == userID {
			sum += txn.Amount
		}
	}
	return sum
}

// MemoryPackageStore is an in-memory PackageStore.
type MemoryPackageStore struct {
	mu       sync.RWMutex
	packages map[string]models.CreditPackage
}

var _ PackageStore = (*MemoryPackageStore)(nil)

// NewMemoryPackageStore creates a package store with the given catalog.
func NewMemoryPackageStore(packages ...models.CreditPackage) *MemoryPackageStore {
	s := &MemoryPackageStore{packages: make(map[string]models.CreditPackage)}
	for _, p := range packages {
		s.packages[p.ID] = p
	}
	return s
}

// Package returns a catalog entry by id or ErrPackageNotFound.
func (s *MemoryPackageStore) Package(_ context.Context, id string) (models.CreditPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[id]
	if !ok {
		return models.CreditPackage{}, ErrPackageNotFound
	}
	return pkg, nil
}

// ActivePackages returns the purchasable catalog.
func (s *MemoryPackageStore) ActivePackages(_ context.Context) ([]models.CreditPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CreditPackage, 0, len(s.packages))
	for _, p := range s.packages {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}
