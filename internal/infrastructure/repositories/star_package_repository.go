package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// StarPackageRepository reads package and coupon definitions
type StarPackageRepository struct {
	db *sqlx.DB
}

// NewStarPackageRepository creates a new star package repository
func NewStarPackageRepository(db *sqlx.DB) *StarPackageRepository {
	return &StarPackageRepository{db: db}
}

// FindPackage resolves the active package for a deposit denomination
func (r *StarPackageRepository) FindPackage(ctx context.Context, chain entities.Chain, token entities.Token, amount decimal.Decimal) (*entities.StarPackage, error) {
	query := `
		SELECT id, chain, token, amount, base_stars, bundle_bonus, active, created_at
		FROM star_packages
		WHERE chain = $1 AND token = $2 AND amount = $3 AND active = TRUE`

	var pkg entities.StarPackage
	err := r.db.GetContext(ctx, &pkg, query, chain, token, amount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find star package: %w", err)
	}

	return &pkg, nil
}

// GetCoupon retrieves a coupon by id
func (r *StarPackageRepository) GetCoupon(ctx context.Context, id uuid.UUID) (*entities.Coupon, error) {
	query := `
		SELECT id, code, kind, value, active, starts_at, ends_at, applies_to, created_at
		FROM coupons
		WHERE id = $1`

	var coupon entities.Coupon
	err := r.db.GetContext(ctx, &coupon, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	return &coupon, nil
}
