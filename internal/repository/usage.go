package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type UsageRepository interface {
	FindDailyByDeviceID(ctx context.Context, deviceID string, since time.Time) ([]model.DailyUsage, error)
	UpsertDaily(ctx context.Context, params model.UpsertDailyUsageParams) (*model.DailyUsage, error)
	FindActivityByDeviceID(ctx context.Context, deviceID string, since time.Time) ([]model.ActivitySample, error)
	CreateActivitySample(ctx context.Context, params model.CreateActivitySampleParams) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) UsageRepository
}

type usageRepo struct {
	db sqlxDB
}

func NewUsageRepository(db *sqlx.DB) UsageRepository {
	return &usageRepo{db: db}
}

func (r *usageRepo) WithTx(tx *sqlx.Tx) UsageRepository {
	return &usageRepo{db: tx}
}

func (r *usageRepo) FindDailyByDeviceID(ctx context.Context, deviceID string, since time.Time) ([]model.DailyUsage, error) {
	var usage []model.DailyUsage
	err := r.db.SelectContext(ctx, &usage, `
		SELECT * FROM daily_usage
		WHERE device_id = $1 AND date >= $2
		ORDER BY date ASC
	`, deviceID, since)
	return usage, err
}

func (r *usageRepo) UpsertDaily(ctx context.Context, params model.UpsertDailyUsageParams) (*model.DailyUsage, error) {
	var usage model.DailyUsage
	err := r.db.GetContext(ctx, &usage, `
		INSERT INTO daily_usage (account_id, device_id, date, used_minutes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, date) DO UPDATE SET
			used_minutes = EXCLUDED.used_minutes,
			updated_at = $5
		RETURNING *
	`, params.AccountID, params.DeviceID, params.Date, params.UsedMinutes, time.Now())
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *usageRepo) FindActivityByDeviceID(ctx context.Context, deviceID string, since time.Time) ([]model.ActivitySample, error) {
	var samples []model.ActivitySample
	err := r.db.SelectContext(ctx, &samples, `
		SELECT * FROM activity_samples
		WHERE device_id = $1 AND sampled_at >= $2
		ORDER BY sampled_at DESC
	`, deviceID, since)
	return samples, err
}

func (r *usageRepo) CreateActivitySample(ctx context.Context, params model.CreateActivitySampleParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_samples (account_id, device_id, app, title, minutes, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, params.AccountID, params.DeviceID, params.App, params.Title, params.Minutes, params.SampledAt)
	return err
}
