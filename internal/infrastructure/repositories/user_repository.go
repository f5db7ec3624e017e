package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// UserRepository reads the minimal user record the credit engine needs
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	query := `SELECT id, referrer_id, stars_balance, created_at FROM users WHERE id = $1`

	var user entities.User
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// AddStars mutates a user's balance inside the given transaction context
func (r *UserRepository) AddStars(ctx context.Context, ext sqlx.ExtContext, userID uuid.UUID, stars int64) error {
	query := `UPDATE users SET stars_balance = stars_balance + $2 WHERE id = $1`

	result, err := ext.ExecContext(ctx, query, userID, stars)
	if err != nil {
		return fmt.Errorf("failed to add stars: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}

	return nil
}
