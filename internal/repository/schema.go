package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/clydra/backend/internal/database"
)

// schema is the metering core's durable state. daily_allowances and
// credit_accounts enforce the non-negativity invariants at the database
// level; credit_transactions is append-only by convention, never updated or
// deleted by application code.
const schema = `
CREATE TABLE IF NOT EXISTS daily_allowances (
	user_id    TEXT NOT NULL,
	day        DATE NOT NULL,
	granted    BIGINT NOT NULL,
	remaining  BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, day),
	CHECK (remaining >= 0 AND remaining <= granted)
);

CREATE TABLE IF NOT EXISTS credit_accounts (
	user_id    TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	amount     BIGINT NOT NULL,
	kind       TEXT NOT NULL CHECK (kind IN ('purchase', 'consumption', 'bonus', 'adjustment')),
	package_id TEXT,
	evidence   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created
	ON credit_transactions (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS credit_packages (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	price_cents   BIGINT NOT NULL,
	credits       BIGINT NOT NULL,
	bonus_credits BIGINT NOT NULL DEFAULT 0,
	is_active     BOOLEAN NOT NULL DEFAULT true,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// seedPackages is the default catalog, inserted only when absent so
// operator-edited rows are preserved.
const seedPackages = `
INSERT INTO credit_packages (id, name, price_cents, credits, bonus_credits, is_active) VALUES
	('starter', 'Starter', 500, 50000, 0, true),
	('plus', 'Plus', 2000, 250000, 25000, true),
	('max', 'Max', 5000, 750000, 150000, true)
ON CONFLICT (id) DO NOTHING;
`

// EnsureSchema creates the metering tables if they don't exist and seeds the
// default package catalog.
func EnsureSchema(ctx context.Context, db *database.DB) error {
	for _, stmt := range []string{schema, seedPackages} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation checks if an error is a unique constraint violation
func isUniqueViolation(err error) bool {
	// PostgreSQL unique violation error code is 23505
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "23505")
}

// isSerializationFailure checks if an error is a concurrent-write conflict
// the caller may retry (serialization failure 40001 or deadlock 40P01).
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "40001") || strings.Contains(errMsg, "40P01")
}
