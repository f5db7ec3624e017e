package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// CursorRepository persists chain watcher polling positions
type CursorRepository struct {
	db *sqlx.DB
}

// NewCursorRepository creates a new cursor repository
func NewCursorRepository(db *sqlx.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

// Get retrieves the cursor for (chain, token, purpose); nil when never set
func (r *CursorRepository) Get(ctx context.Context, chain entities.Chain, token entities.Token, purpose entities.CursorPurpose) (*entities.ChainWatcherCursor, error) {
	query := `
		SELECT chain, token, purpose, position, heartbeat_at
		FROM chain_watcher_cursors
		WHERE chain = $1 AND token = $2 AND purpose = $3`

	var cursor entities.ChainWatcherCursor
	err := r.db.GetContext(ctx, &cursor, query, chain, token, purpose)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watcher cursor: %w", err)
	}

	return &cursor, nil
}

// Save upserts the cursor position together with a fresh heartbeat
func (r *CursorRepository) Save(ctx context.Context, chain entities.Chain, token entities.Token, purpose entities.CursorPurpose, position string) error {
	query := `
		INSERT INTO chain_watcher_cursors (chain, token, purpose, position, heartbeat_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (chain, token, purpose)
		DO UPDATE SET position = EXCLUDED.position, heartbeat_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, chain, token, purpose, position); err != nil {
		return fmt.Errorf("failed to save watcher cursor: %w", err)
	}
	return nil
}

// Heartbeat refreshes the heartbeat without moving the position, so an empty
// scan still proves the watcher is alive.
func (r *CursorRepository) Heartbeat(ctx context.Context, chain entities.Chain, token entities.Token, purpose entities.CursorPurpose) error {
	query := `
		INSERT INTO chain_watcher_cursors (chain, token, purpose, position, heartbeat_at)
		VALUES ($1, $2, $3, '', NOW())
		ON CONFLICT (chain, token, purpose)
		DO UPDATE SET heartbeat_at = NOW()`

	if _, err := r.db.ExecContext(ctx, query, chain, token, purpose); err != nil {
		return fmt.Errorf("failed to heartbeat watcher cursor: %w", err)
	}
	return nil
}

// ListStaleHeartbeats returns cursors whose heartbeat is older than the
// cutoff, used by the dead-man check.
func (r *CursorRepository) ListStaleHeartbeats(ctx context.Context, cutoff time.Time) ([]*entities.ChainWatcherCursor, error) {
	query := `
		SELECT chain, token, purpose, position, heartbeat_at
		FROM chain_watcher_cursors
		WHERE heartbeat_at < $1`

	var cursors []*entities.ChainWatcherCursor
	err := r.db.SelectContext(ctx, &cursors, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale heartbeats: %w", err)
	}

	return cursors, nil
}
