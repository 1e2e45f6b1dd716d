package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/clydra/backend/internal/database"
	"github.com/clydra/backend/internal/metering"
	"github.com/clydra/backend/internal/models"
)

// AllowanceRepository persists daily allowance rows in PostgreSQL. Creation
// is an insert-or-ignore upsert on (user_id, day); consumption is a single
// conditional UPDATE, so concurrent consumers can never jointly overdraw a
// row.
type AllowanceRepository struct {
	db *database.DB
}

var _ metering.AllowanceStore = (*AllowanceRepository)(nil)

// NewAllowanceRepository creates a new allowance repository
func NewAllowanceRepository(db *database.DB) *AllowanceRepository {
	return &AllowanceRepository{db: db}
}

// GetOrCreate returns the allowance row for (userID, day), creating it with
// remaining = granted when absent. Races between concurrent first-accesses
// resolve at the database: only one insert wins, everyone reads that row.
func (r *AllowanceRepository) GetOrCreate(ctx context.Context, userID, day string, granted int64) (models.DailyAllowance, error) {
	now := time.Now().UTC()

	insert := `
		INSERT INTO daily_allowances (user_id, day, granted, remaining, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $4, $4)
		ON CONFLICT (user_id, day) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, insert, userID, day, granted, now); err != nil {
		return models.DailyAllowance{}, fmt.Errorf("failed to create allowance: %w", err)
	}

	return r.Get(ctx, userID, day)
}

// Get retrieves the allowance row for (userID, day)
func (r *AllowanceRepository) Get(ctx context.Context, userID, day string) (models.DailyAllowance, error) {
	query := `
		SELECT user_id, day::text, granted, remaining, created_at, updated_at
		FROM daily_allowances
		WHERE user_id = $1 AND day = $2
	`
	var a models.DailyAllowance
	err := r.db.QueryRow(ctx, query, userID, day).Scan(
		&a.UserID, &a.Day, &a.Granted, &a.Remaining, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyAllowance{}, metering.ErrAllowanceNotFound
		}
		return models.DailyAllowance{}, fmt.Errorf("failed to get allowance: %w", err)
	}

	return a, nil
}

// Decrement atomically subtracts amount from the row's remaining while the
// precondition holds. Zero rows affected means the condition failed; the
// row is then probed to distinguish exhaustion from absence.
func (r *AllowanceRepository) Decrement(ctx context.Context, userID, day string, amount int64) (int64, error) {
	query := `
		UPDATE daily_allowances
		SET remaining = remaining - $3, updated_at = $4
		WHERE user_id = $1 AND day = $2 AND remaining >= $3
		RETURNING remaining
	`
	var remaining int64
	err := r.db.QueryRow(ctx, query, userID, day, amount, time.Now().UTC()).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isSerializationFailure(err) {
			return 0, metering.ErrPersistenceConflict
		}
		return 0, fmt.Errorf("failed to decrement allowance: %w", err)
	}

	if _, err := r.Get(ctx, userID, day); err != nil {
		return 0, err
	}
	return 0, metering.ErrInsufficientAllowance
}
