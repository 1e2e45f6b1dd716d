package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clydra/backend/internal/database"
	"github.com/clydra/backend/internal/metering"
	"github.com/clydra/backend/internal/models"
)

// CreditRepository persists the credit ledger in PostgreSQL. Each mutation
// writes the append-only transaction row and the derived balance inside one
// database transaction, so the two can never partially apply. If they ever
// disagree anyway (a legacy crash, manual surgery), Balance falls back to
// recomputing from the transaction log.
type CreditRepository struct {
	db *database.DB
}

var _ metering.LedgerStore = (*CreditRepository)(nil)

// NewCreditRepository creates a new credit repository
func NewCreditRepository(db *database.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Purchase appends a purchase transaction for the package's total credits
// and credits the account balance atomically.
func (r *CreditRepository) Purchase(ctx context.Context, userID string, pkg models.CreditPackage, evidence string) (models.CreditTransaction, int64, error) {
	now := time.Now().UTC()
	pkgID := pkg.ID
	txn := models.CreditTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    pkg.TotalCredits(),
		Kind:      models.KindPurchase,
		PackageID: &pkgID,
		Evidence:  evidence,
		CreatedAt: now,
	}

	var balance int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO credit_transactions (id, user_id, amount, kind, package_id, evidence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, txn.ID, txn.UserID, txn.Amount, txn.Kind, txn.PackageID, txn.Evidence, txn.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO credit_accounts (user_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
				SET balance = credit_accounts.balance + EXCLUDED.balance,
				    updated_at = EXCLUDED.updated_at
			RETURNING balance
		`, userID, txn.Amount, now).Scan(&balance)
		if err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}
		return nil
	})
	if err != nil {
		if isSerializationFailure(err) || isUniqueViolation(err) {
			return models.CreditTransaction{}, 0, metering.ErrPersistenceConflict
		}
		return models.CreditTransaction{}, 0, err
	}

	return txn, balance, nil
}

// Consume debits amount from the balance while it covers the debit and
// appends the matching negative consumption transaction. The conditional
// UPDATE is the race arbiter: of two concurrent consumers competing for the
// last credits, exactly one sees a row updated.
func (r *CreditRepository) Consume(ctx context.Context, userID string, amount int64) (int64, error) {
	now := time.Now().UTC()

	var balance int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE credit_accounts
			SET balance = balance - $2, updated_at = $3
			WHERE user_id = $1 AND balance >= $2
			RETURNING balance
		`, userID, amount, now).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return metering.ErrInsufficientBalance
		}
		if err != nil {
			return fmt.Errorf("failed to decrement balance: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO credit_transactions (id, user_id, amount, kind, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New().String(), userID, -amount, models.KindConsumption, now)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, metering.ErrInsufficientBalance) {
			return 0, metering.ErrInsufficientBalance
		}
		if isSerializationFailure(err) {
			return 0, metering.ErrPersistenceConflict
		}
		return 0, err
	}

	return balance, nil
}

// Balance returns the derived balance for a user, recomputed from the
// transaction log when no account row exists yet.
func (r *CreditRepository) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx,
		`SELECT balance FROM credit_accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`,
		userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute balance: %w", err)
	}
	return balance, nil
}

// Transactions returns the user's ledger entries newest first, bounded by
// limit. Purely informational, no side effects.
func (r *CreditRepository) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, amount, kind, package_id, evidence, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]models.CreditTransaction, 0, limit)
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Kind, &t.PackageID, &t.Evidence, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return transactions, nil
}
