package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StarPackage maps a deposit denomination to its star value. BundleBonus is
// the extra stars granted for buying the bundle tier.
type StarPackage struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Chain       Chain           `db:"chain" json:"chain"`
	Token       Token           `db:"token" json:"token"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	BaseStars   int64           `db:"base_stars" json:"base_stars"`
	BundleBonus int64           `db:"bundle_bonus" json:"bundle_bonus"`
	Active      bool            `db:"active" json:"active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// CouponKind selects how a coupon value applies
type CouponKind string

const (
	CouponKindPercent CouponKind = "PERCENT"
	CouponKindFlat    CouponKind = "FLAT"
)

// Coupon grants bonus stars on top of a package when valid at credit time
type Coupon struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Code      string     `db:"code" json:"code"`
	Kind      CouponKind `db:"kind" json:"kind"`
	Value     int64      `db:"value" json:"value"`
	Active    bool       `db:"active" json:"active"`
	StartsAt  *time.Time `db:"starts_at" json:"starts_at,omitempty"`
	EndsAt    *time.Time `db:"ends_at" json:"ends_at,omitempty"`
	AppliesTo *Token     `db:"applies_to" json:"applies_to,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// IsValidFor reports whether the coupon applies to a deposit of the given
// token at the given time.
func (c *Coupon) IsValidFor(token Token, at time.Time) bool {
	if !c.Active {
		return false
	}
	if c.StartsAt != nil && at.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && at.After(*c.EndsAt) {
		return false
	}
	if c.AppliesTo != nil && *c.AppliesTo != token {
		return false
	}
	return true
}

// BonusStars computes the coupon component for a base star amount
func (c *Coupon) BonusStars(baseStars int64) int64 {
	switch c.Kind {
	case CouponKindPercent:
		return baseStars * c.Value / 100
	case CouponKindFlat:
		return c.Value
	}
	return 0
}

// User carries the minimum the credit engine needs: the stars balance and an
// optional referrer. Profile data lives with the external collaborators.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	ReferrerID   *uuid.UUID `db:"referrer_id" json:"referrer_id,omitempty"`
	StarsBalance int64      `db:"stars_balance" json:"stars_balance"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}
