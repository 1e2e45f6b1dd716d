package models

import (
	"time"
)

// DailyAllowance is the free-tier token budget for one user on one UTC day.
// At most one row exists per (user_id, day); remaining only moves down after
// the creation event and never exceeds granted.
type DailyAllowance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Day       string    `json:"day" db:"day"` // YYYY-MM-DD in UTC
	Granted   int64     `json:"granted" db:"granted"`
	Remaining int64     `json:"remaining" db:"remaining"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CreditAccount is the derived paid-credit balance for a user. The balance
// always equals the sum of the user's committed transaction amounts; the
// transaction log is the source of truth when the two disagree.
type CreditAccount struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction kinds
const (
	KindPurchase    = "purchase"
	KindConsumption = "consumption"
	KindBonus       = "bonus"
	KindAdjustment  = "adjustment"
)

// IsValidKind checks if a transaction kind is valid
func IsValidKind(kind string) bool {
	switch kind {
	case KindPurchase, KindConsumption, KindBonus, KindAdjustment:
		return true
	default:
		return false
	}
}

// CreditTransaction is one append-only ledger entry. Amounts are signed:
// positive for purchases/bonuses, negative for consumption. Rows are never
// updated or deleted.
type CreditTransaction struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Amount    int64     `json:"amount" db:"amount"`
	Kind      string    `json:"kind" db:"kind"`
	PackageID *string   `json:"package_id,omitempty" db:"package_id"`
	Evidence  string    `json:"evidence,omitempty" db:"evidence"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreditPackage is a read-only catalog entry. Purchases always re-read the
// package server-side; client-supplied prices are never trusted.
type CreditPackage struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	PriceCents   int64     `json:"price_cents" db:"price_cents"`
	Credits      int64     `json:"credits" db:"credits"`
	BonusCredits int64     `json:"bonus_credits" db:"bonus_credits"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TotalCredits returns the credits granted by a purchase of this package.
func (p *CreditPackage) TotalCredits() int64 {
	return p.Credits + p.BonusCredits
}
