package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

// BlocklistRepository manages the per-device site and app blocklists.
// Replace* swaps the whole list in one transaction; the dashboard always
// submits the full list.
type BlocklistRepository interface {
	FindSitesByDeviceID(ctx context.Context, deviceID string) ([]model.BlockedSite, error)
	FindAppsByDeviceID(ctx context.Context, deviceID string) ([]model.BlockedApp, error)
	ReplaceSites(ctx context.Context, tx *sqlx.Tx, deviceID, accountID string, patterns []string) error
	ReplaceApps(ctx context.Context, tx *sqlx.Tx, deviceID, accountID string, names []string) error
}

type blocklistRepo struct {
	db *sqlx.DB
}

func NewBlocklistRepository(db *sqlx.DB) BlocklistRepository {
	return &blocklistRepo{db: db}
}

func (r *blocklistRepo) FindSitesByDeviceID(ctx context.Context, deviceID string) ([]model.BlockedSite, error) {
	var sites []model.BlockedSite
	err := r.db.SelectContext(ctx, &sites, `
		SELECT * FROM blocked_sites
		WHERE device_id = $1
		ORDER BY pattern ASC
	`, deviceID)
	return sites, err
}

func (r *blocklistRepo) FindAppsByDeviceID(ctx context.Context, deviceID string) ([]model.BlockedApp, error) {
	var apps []model.BlockedApp
	err := r.db.SelectContext(ctx, &apps, `
		SELECT * FROM blocked_apps
		WHERE device_id = $1
		ORDER BY name ASC
	`, deviceID)
	return apps, err
}

func (r *blocklistRepo) ReplaceSites(ctx context.Context, tx *sqlx.Tx, deviceID, accountID string, patterns []string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM blocked_sites WHERE device_id = $1
	`, deviceID); err != nil {
		return fmt.Errorf("clear blocked sites: %w", err)
	}
	for _, pattern := range patterns {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blocked_sites (account_id, device_id, pattern)
			VALUES ($1, $2, $3)
		`, accountID, deviceID, pattern); err != nil {
			return fmt.Errorf("insert blocked site %q: %w", pattern, err)
		}
	}
	return nil
}

func (r *blocklistRepo) ReplaceApps(ctx context.Context, tx *sqlx.Tx, deviceID, accountID string, names []string) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM blocked_apps WHERE device_id = $1
	`, deviceID); err != nil {
		return fmt.Errorf("clear blocked apps: %w", err)
	}
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO blocked_apps (account_id, device_id, name)
			VALUES ($1, $2, $3)
		`, accountID, deviceID, name); err != nil {
			return fmt.Errorf("insert blocked app %q: %w", name, err)
		}
	}
	return nil
}
