package entities

import "time"

// CursorPurpose distinguishes multiple polling positions on the same
// (chain, token) pair
type CursorPurpose string

const (
	CursorPurposeDeposits CursorPurpose = "deposits"
)

// ChainWatcherCursor is a persisted polling position (block height or last tx
// id) plus a heartbeat, enabling resumable and dead-man-detectable polling.
// Keyed by (chain, token, purpose).
type ChainWatcherCursor struct {
	Chain       Chain         `db:"chain" json:"chain"`
	Token       Token         `db:"token" json:"token"`
	Purpose     CursorPurpose `db:"purpose" json:"purpose"`
	Position    string        `db:"position" json:"position"`
	HeartbeatAt time.Time     `db:"heartbeat_at" json:"heartbeat_at"`
}
