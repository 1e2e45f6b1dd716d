package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clydra/backend/internal/database"
	"github.com/clydra/backend/internal/metering"
	"github.com/clydra/backend/internal/models"
)

// PackageRepository reads the credit package catalog. The catalog is
// read-only from the application's point of view; rows are managed by
// operators.
type PackageRepository struct {
	db *database.DB
}

var _ metering.PackageStore = (*PackageRepository)(nil)

// NewPackageRepository creates a new package repository
func NewPackageRepository(db *database.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

// Package retrieves a catalog entry by id
func (r *PackageRepository) Package(ctx context.Context, id string) (models.CreditPackage, error) {
	query := `
		SELECT id, name, price_cents, credits, bonus_credits, is_active, created_at
		FROM credit_packages
		WHERE id = $1
	`
	var p models.CreditPackage
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.PriceCents, &p.Credits, &p.BonusCredits, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CreditPackage{}, metering.ErrPackageNotFound
		}
		return models.CreditPackage{}, fmt.Errorf("failed to get package: %w", err)
	}

	return p, nil
}

// ActivePackages returns the purchasable catalog ordered by price
func (r *PackageRepository) ActivePackages(ctx context.Context) ([]models.CreditPackage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, price_cents, credits, bonus_credits, is_active, created_at
		FROM credit_packages
		WHERE is_active = true
		ORDER BY price_cents ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	packages := make([]models.CreditPackage, 0)
	for rows.Next() {
		var p models.CreditPackage
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Credits, &p.BonusCredits, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read packages: %w", err)
	}

	return packages, nil
}
