package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/starpay-service/starpay_service/internal/domain/entities"
)

// SettingsRepository reads the single mutable platform settings record
type SettingsRepository struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlx.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get loads the settings record; a missing row yields defaults
func (r *SettingsRepository) Get(ctx context.Context) (*entities.PlatformSettings, error) {
	query := `
		SELECT id, strict_mode, tolerance_bps, stale_minutes, referral_enabled,
		       referral_percent, provider_allowlist, updated_at
		FROM platform_settings
		WHERE id = 1`

	var settings entities.PlatformSettings
	err := r.db.GetContext(ctx, &settings, query)
	if err == sql.ErrNoRows {
		return entities.DefaultPlatformSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get platform settings: %w", err)
	}

	if len(settings.AllowlistRaw) > 0 {
		if err := json.Unmarshal(settings.AllowlistRaw, &settings.ProviderAllowlist); err != nil {
			return nil, fmt.Errorf("failed to parse provider allowlist: %w", err)
		}
	}

	return &settings, nil
}
