package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// LedgerRepository persists star transactions. Write paths accept an
// sqlx.ExtContext so the credit engine can run them inside its transaction;
// the UNIQUE(deposit_id, type) constraint is the correctness backstop.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// GetByDepositAndType looks up an existing entry for (deposit, type)
func (r *LedgerRepository) GetByDepositAndType(ctx context.Context, ext sqlx.ExtContext, depositID uuid.UUID, entryType entities.LedgerEntryType) (*entities.LedgerEntry, error) {
	query := `
		SELECT id, user_id, deposit_id, type, stars, source_kind, source_id, created_at
		FROM ledger_entries
		WHERE deposit_id = $1 AND type = $2`

	var entry entities.LedgerEntry
	err := sqlx.GetContext(ctx, ext, &entry, query, depositID, entryType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}

	return &entry, nil
}

// Insert writes a star transaction row
func (r *LedgerRepository) Insert(ctx context.Context, ext sqlx.ExtContext, entry *entities.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, user_id, deposit_id, type, stars, source_kind, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := ext.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.DepositID,
		entry.Type,
		entry.Stars,
		entry.SourceKind,
		entry.SourceID,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

// ReferralExists reports whether a referral payout was already made for
// (sourceKind, sourceID).
func (r *LedgerRepository) ReferralExists(ctx context.Context, ext sqlx.ExtContext, sourceKind, sourceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries
			WHERE type = 'REFERRAL_BONUS' AND source_kind = $1 AND source_id = $2
		)`

	var exists bool
	err := sqlx.GetContext(ctx, ext, &exists, query, sourceKind, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to check referral entry: %w", err)
	}

	return exists, nil
}

// SumStarsByUserSince totals a user's credited stars from a point in time.
// Used as the authoritative fallback behind the redis risk counters.
func (r *LedgerRepository) SumStarsByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(stars), 0)
		FROM ledger_entries
		WHERE user_id = $1 AND created_at >= $2`

	var total int64
	if err := r.db.GetContext(ctx, &total, query, userID, since); err != nil {
		return 0, fmt.Errorf("failed to sum stars: %w", err)
	}
	return total, nil
}

// ListByDeposit returns all star transactions for a deposit
func (r *LedgerRepository) ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.LedgerEntry, error) {
	query := `
		SELECT id, user_id, deposit_id, type, stars, source_kind, source_id, created_at
		FROM ledger_entries
		WHERE deposit_id = $1
		ORDER BY created_at ASC`

	var entries []*entities.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, depositID); err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
