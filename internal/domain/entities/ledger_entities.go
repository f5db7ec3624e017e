package entities

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntryType classifies star credit components. At most one entry ever
// exists per (deposit, type) pair; that uniqueness is the idempotency
// backbone of the credit engine.
type LedgerEntryType string

const (
	LedgerEntryTopup         LedgerEntryType = "TOPUP"
	LedgerEntryBundleBonus   LedgerEntryType = "BUNDLE_BONUS"
	LedgerEntryCouponBonus   LedgerEntryType = "COUPON_BONUS"
	LedgerEntryReferralBonus LedgerEntryType = "REFERRAL_BONUS"
)

// ReferralSourceKind tags the origin of a referral payout for deduplication
const ReferralSourceDeposit = "deposit"

// LedgerEntry is one immutable star transaction row
type LedgerEntry struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	UserID     uuid.UUID       `db:"user_id" json:"user_id"`
	DepositID  uuid.UUID       `db:"deposit_id" json:"deposit_id"`
	Type       LedgerEntryType `db:"type" json:"type"`
	Stars      int64           `db:"stars" json:"stars"`
	SourceKind *string         `db:"source_kind" json:"source_kind,omitempty"`
	SourceID   *string         `db:"source_id" json:"source_id,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// NewLedgerEntry creates a star transaction for a deposit component
func NewLedgerEntry(userID, depositID uuid.UUID, entryType LedgerEntryType, stars int64) *LedgerEntry {
	return &LedgerEntry{
		ID:        uuid.New(),
		UserID:    userID,
		DepositID: depositID,
		Type:      entryType,
		Stars:     stars,
		CreatedAt: time.Now().UTC(),
	}
}
