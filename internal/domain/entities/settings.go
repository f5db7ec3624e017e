package entities

import "time"

// PlatformSettings is the single mutable configuration record consulted by
// the engine, read through a short-lived cache.
type PlatformSettings struct {
	ID                int                  `db:"id" json:"id"`
	StrictMode        bool                 `db:"strict_mode" json:"strict_mode"`
	ToleranceBps      int64                `db:"tolerance_bps" json:"tolerance_bps"`
	StaleMinutes      int                  `db:"stale_minutes" json:"stale_minutes"`
	ReferralEnabled   bool                 `db:"referral_enabled" json:"referral_enabled"`
	ReferralPercent   int                  `db:"referral_percent" json:"referral_percent"`
	ProviderAllowlist map[Chain][]Provider `db:"-" json:"provider_allowlist"`
	AllowlistRaw      []byte               `db:"provider_allowlist" json:"-"`
	UpdatedAt         time.Time            `db:"updated_at" json:"updated_at"`
}

// ProviderAllowed reports whether a provider may deliver webhooks for a chain.
// An absent chain entry allows everything; strict mode denies instead.
func (s *PlatformSettings) ProviderAllowed(chain Chain, provider Provider) bool {
	allowed, ok := s.ProviderAllowlist[chain]
	if !ok {
		return !s.StrictMode
	}
	for _, p := range allowed {
		if p == provider {
			return true
		}
	}
	return false
}

// EffectiveReferralPercent clamps the configured referral share to 0-20%
func (s *PlatformSettings) EffectiveReferralPercent() int {
	if !s.ReferralEnabled {
		return 0
	}
	if s.ReferralPercent < 0 {
		return 0
	}
	if s.ReferralPercent > 20 {
		return 20
	}
	return s.ReferralPercent
}

// DefaultPlatformSettings returns the values used until the record loads
func DefaultPlatformSettings() *PlatformSettings {
	return &PlatformSettings{
		ID:              1,
		ToleranceBps:    50,
		StaleMinutes:    30,
		ReferralEnabled: true,
		ReferralPercent: 10,
	}
}
