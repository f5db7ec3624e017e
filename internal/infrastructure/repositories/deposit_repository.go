package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

const depositColumns = `
	id, user_id, chain, token, custodial_address, expected_amount, actual_amount,
	tx_hash, memo, provider, status, failure_reason, coupon_id,
	created_at, updated_at, credited_at`

// DepositRepository persists deposit intents
type DepositRepository struct {
	db *sqlx.DB
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

// Create creates a new deposit
func (r *DepositRepository) Create(ctx context.Context, deposit *entities.Deposit) error {
	query := `
		INSERT INTO deposits (` + depositColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		deposit.ID,
		deposit.UserID,
		deposit.Chain,
		deposit.Token,
		deposit.CustodialAddress,
		deposit.ExpectedAmount,
		deposit.ActualAmount,
		deposit.TxHash,
		deposit.Memo,
		deposit.Provider,
		deposit.Status,
		deposit.FailureReason,
		deposit.CouponID,
		deposit.CreatedAt,
		deposit.UpdatedAt,
		deposit.CreditedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deposit: %w", err)
	}

	return nil
}

// GetByID retrieves a deposit by ID
func (r *DepositRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("deposit not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}

	return &deposit, nil
}

// GetByTxHash retrieves a deposit by transaction hash
func (r *DepositRepository) GetByTxHash(ctx context.Context, txHash string) (*entities.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE tx_hash = $1`

	var deposit entities.Deposit
	err := r.db.GetContext(ctx, &deposit, query, txHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get deposit by tx hash: %w", err)
	}

	return &deposit, nil
}

// FindMatchCandidates returns matchable deposits sharing (custodial address,
// token) created within the lookback window, oldest first.
func (r *DepositRepository) FindMatchCandidates(ctx context.Context, address string, token entities.Token, since time.Time) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE custodial_address = $1
		  AND token = $2
		  AND status IN ('CREATED', 'SUBMITTED', 'OBSERVED', 'UNMATCHED')
		  AND created_at >= $3
		ORDER BY created_at ASC`

	var deposits []*entities.Deposit
	err := r.db.SelectContext(ctx, &deposits, query, address, token, since)
	if err != nil {
		return nil, fmt.Errorf("failed to find match candidates: %w", err)
	}

	return deposits, nil
}

// AttachObservation writes the observed tx hash and amount and moves the
// deposit to OBSERVED. Non-destructive: an existing tx hash or amount is
// kept unless empty.
func (r *DepositRepository) AttachObservation(ctx context.Context, id uuid.UUID, txHash string, amount decimal.Decimal, provider entities.Provider) error {
	query := `
		UPDATE deposits
		SET tx_hash = COALESCE(tx_hash, $2),
			actual_amount = COALESCE(actual_amount, $3),
			provider = COALESCE(provider, $4),
			status = CASE WHEN status IN ('CREATED', 'SUBMITTED', 'UNMATCHED') THEN 'OBSERVED' ELSE status END,
			updated_at = NOW()
		WHERE id = $1`

	var amountArg interface{}
	if amount.IsPositive() {
		amountArg = amount
	}

	_, err := r.db.ExecContext(ctx, query, id, txHash, amountArg, string(provider))
	if err != nil {
		return fmt.Errorf("failed to attach observation: %w", err)
	}

	return nil
}

// UpdateStatus transitions a deposit, enforcing the state machine in SQL so
// concurrent writers cannot regress a terminal state.
func (r *DepositRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to entities.DepositStatus, reason *string) error {
	if err := from.ValidateTransition(to); err != nil {
		return err
	}

	query := `
		UPDATE deposits
		SET status = $3, failure_reason = COALESCE($4, failure_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, from, to, reason)
	if err != nil {
		return fmt.Errorf("failed to update deposit status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deposit %s not in status %s", id, from)
	}

	return nil
}

// MarkCredited moves a CONFIRMED deposit to its terminal CREDITED state.
// Runs on the caller's transaction so the status flip commits atomically
// with the ledger writes.
func (r *DepositRepository) MarkCredited(ctx context.Context, ext sqlx.ExtContext, id uuid.UUID) error {
	query := `
		UPDATE deposits
		SET status = 'CREDITED', credited_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'CONFIRMED'`

	result, err := ext.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark deposit credited: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deposit %s is not confirmed", id)
	}
	return nil
}

// SetActualAmount stores the independently verified amount
func (r *DepositRepository) SetActualAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	query := `UPDATE deposits SET actual_amount = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, amount); err != nil {
		return fmt.Errorf("failed to set actual amount: %w", err)
	}
	return nil
}

// AssignUser binds an UNMATCHED deposit to a user for manual resolution
func (r *DepositRepository) AssignUser(ctx context.Context, id, userID uuid.UUID) error {
	query := `
		UPDATE deposits
		SET user_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'UNMATCHED'`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to assign user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deposit %s is not unmatched", id)
	}
	return nil
}

// ListStale returns deposits stuck mid-pipeline past the cutoff. CONFIRMED
// is included because a crash between confirmation and crediting leaves the
// deposit there with no pending job to finish it.
func (r *DepositRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE status IN ('SUBMITTED', 'OBSERVED', 'CONFIRMED')
		  AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	var deposits []*entities.Deposit
	err := r.db.SelectContext(ctx, &deposits, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale deposits: %w", err)
	}

	return deposits, nil
}

// ListPendingByChain returns deposits a watcher should scan custodial
// addresses for, grouped client-side.
func (r *DepositRepository) ListPendingByChain(ctx context.Context, chain entities.Chain, token entities.Token, since time.Time) ([]*entities.Deposit, error) {
	query := `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE chain = $1
		  AND token = $2
		  AND status IN ('CREATED', 'SUBMITTED')
		  AND created_at >= $3
		ORDER BY created_at ASC`

	var deposits []*entities.Deposit
	err := r.db.SelectContext(ctx, &deposits, query, chain, token, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deposits: %w", err)
	}

	return deposits, nil
}

// DuplicateTxHash describes a tx hash shared by multiple deposits
type DuplicateTxHash struct {
	TxHash string `db:"tx_hash"`
	Count  int    `db:"count"`
}

// FindDuplicateTxHashes returns tx hashes attached to two or more deposits
// created within the window.
func (r *DepositRepository) FindDuplicateTxHashes(ctx context.Context, since time.Time) ([]DuplicateTxHash, error) {
	query := `
		SELECT tx_hash, COUNT(*) as count
		FROM deposits
		WHERE tx_hash IS NOT NULL
		  AND created_at >= $1
		GROUP BY tx_hash
		HAVING COUNT(*) >= 2`

	var dups []DuplicateTxHash
	err := r.db.SelectContext(ctx, &dups, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate tx hashes: %w", err)
	}

	return dups, nil
}

// CountByStatusSince counts deposits entering a status within the window
func (r *DepositRepository) CountByStatusSince(ctx context.Context, status entities.DepositStatus, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM deposits WHERE status = $1 AND updated_at >= $2`

	var count int
	if err := r.db.GetContext(ctx, &count, query, status, since); err != nil {
		return 0, fmt.Errorf("failed to count deposits by status: %w", err)
	}
	return count, nil
}
