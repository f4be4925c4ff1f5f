package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type DeviceSettingsRepository interface {
	FindByDeviceID(ctx context.Context, deviceID string) (*model.DeviceSettings, error)
	CreateDefaults(ctx context.Context, deviceID, accountID string) (*model.DeviceSettings, error)
	Update(ctx context.Context, deviceID string, params model.UpdateDeviceSettingsParams) (*model.DeviceSettings, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DeviceSettingsRepository
}

type deviceSettingsRepo struct {
	db sqlxDB
}

func NewDeviceSettingsRepository(db *sqlx.DB) DeviceSettingsRepository {
	return &deviceSettingsRepo{db: db}
}

func (r *deviceSettingsRepo) WithTx(tx *sqlx.Tx) DeviceSettingsRepository {
	return &deviceSettingsRepo{db: tx}
}

func (r *deviceSettingsRepo) FindByDeviceID(ctx context.Context, deviceID string) (*model.DeviceSettings, error) {
	var settings model.DeviceSettings
	err := r.db.GetContext(ctx, &settings, `
		SELECT * FROM device_settings WHERE device_id = $1
	`, deviceID)
	return HandleNotFound(&settings, err)
}

func (r *deviceSettingsRepo) CreateDefaults(ctx context.Context, deviceID, accountID string) (*model.DeviceSettings, error) {
	var settings model.DeviceSettings
	err := r.db.GetContext(ctx, &settings, `
		INSERT INTO device_settings (device_id, account_id)
		VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING *
	`, deviceID, accountID)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *deviceSettingsRepo) Update(ctx context.Context, deviceID string, params model.UpdateDeviceSettingsParams) (*model.DeviceSettings, error) {
	var settings model.DeviceSettings
	err := r.db.GetContext(ctx, &settings, `
		UPDATE device_settings SET
			daily_limit_minutes = COALESCE($2, daily_limit_minutes),
			strike_penalty_minutes = COALESCE($3, strike_penalty_minutes),
			schedule = COALESCE($4, schedule),
			password_hash = COALESCE($5, password_hash),
			updated_at = $6
		WHERE device_id = $1
		RETURNING *
	`, deviceID, params.DailyLimitMinutes, params.StrikePenaltyMinutes,
		params.Schedule, params.PasswordHash, time.Now())
	return HandleNotFound(&settings, err)
}
