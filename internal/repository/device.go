package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type DeviceRepository interface {
	FindByID(ctx context.Context, id string) (*model.Device, error)
	FindByIDForAccount(ctx context.Context, id, accountID string) (*model.Device, error)
	FindBySyncTokenHash(ctx context.Context, tokenHash string) (*model.Device, error)
	FindAllByAccountID(ctx context.Context, accountID string) ([]model.Device, error)
	CountByAccountID(ctx context.Context, accountID string) (int, error)
	Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error)
	Update(ctx context.Context, id, accountID string, params model.UpdateDeviceParams) (*model.Device, error)
	// TransferOwnership re-pairs an existing device to an account and
	// stamps the liveness flags.
	TransferOwnership(ctx context.Context, id, accountID string, pairedAt time.Time) (*model.Device, error)
	SetSyncToken(ctx context.Context, id, accountID, tokenHash string, expiresAt time.Time) error
	Heartbeat(ctx context.Context, id string, isOnline, appRunning bool) error
	MarkStaleOffline(ctx context.Context, staleAfter time.Duration) (int64, error)
	SoftDelete(ctx context.Context, id, accountID string) (bool, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db sqlxDB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) FindByIDForAccount(ctx context.Context, id, accountID string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL
	`, id, accountID)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) FindBySyncTokenHash(ctx context.Context, tokenHash string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices
		WHERE sync_token_hash = $1 AND deleted_at IS NULL
	`, tokenHash)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) FindAllByAccountID(ctx context.Context, accountID string) ([]model.Device, error) {
	var devices []model.Device
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices
		WHERE account_id = $1 AND deleted_at IS NULL
		ORDER BY paired_at DESC NULLS LAST
	`, accountID)
	return devices, err
}

func (r *deviceRepo) CountByAccountID(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM devices
		WHERE account_id = $1 AND deleted_at IS NULL
	`, accountID)
	return count, err
}

func (r *deviceRepo) Create(ctx context.Context, params model.CreateDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO devices (account_id, name, platform, is_online, app_running, paired_at)
		VALUES ($1, $2, $3, true, true, $4)
		RETURNING *
	`, params.AccountID, params.Name, params.Platform, params.PairedAt)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) Update(ctx context.Context, id, accountID string, params model.UpdateDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		UPDATE devices SET
			name = COALESCE($3, name),
			updated_at = $4
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL
		RETURNING *
	`, id, accountID, params.Name, time.Now())
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) TransferOwnership(ctx context.Context, id, accountID string, pairedAt time.Time) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		UPDATE devices SET
			account_id = $2,
			is_online = true,
			app_running = true,
			paired_at = $3,
			updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING *
	`, id, accountID, pairedAt)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) SetSyncToken(ctx context.Context, id, accountID, tokenHash string, expiresAt time.Time) error {
	// Liveness flags are reset so the dashboard's pairing poll does not
	// false-positive on stale data.
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			sync_token_hash = $3,
			sync_token_expires_at = $4,
			is_online = false,
			app_running = false,
			updated_at = $5
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL
	`, id, accountID, tokenHash, expiresAt, time.Now())
	return err
}

func (r *deviceRepo) Heartbeat(ctx context.Context, id string, isOnline, appRunning bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			is_online = $2,
			app_running = $3,
			last_seen_at = $4,
			updated_at = $4
		WHERE id = $1 AND deleted_at IS NULL
	`, id, isOnline, appRunning, time.Now())
	return err
}

func (r *deviceRepo) MarkStaleOffline(ctx context.Context, staleAfter time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			is_online = false,
			app_running = false
		WHERE is_online = true
		AND deleted_at IS NULL
		AND (last_seen_at IS NULL OR last_seen_at < $1)
	`, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *deviceRepo) SoftDelete(ctx context.Context, id, accountID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			deleted_at = $3,
			updated_at = $3
		WHERE id = $1 AND account_id = $2 AND deleted_at IS NULL
	`, id, accountID, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
