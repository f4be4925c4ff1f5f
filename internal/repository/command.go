package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type CommandRepository interface {
	FindByDeviceID(ctx context.Context, deviceID string, limit, offset int) ([]model.Command, error)
	FindPendingByDeviceID(ctx context.Context, deviceID string) ([]model.Command, error)
	Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error)
	// Ack is conditional on the command still being pending so a device
	// retrying an ack is a no-op.
	Ack(ctx context.Context, id, deviceID string) (bool, error)
	DeleteAcked(ctx context.Context, olderThan time.Duration) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) CommandRepository
}

type commandRepo struct {
	db sqlxDB
}

func NewCommandRepository(db *sqlx.DB) CommandRepository {
	return &commandRepo{db: db}
}

func (r *commandRepo) WithTx(tx *sqlx.Tx) CommandRepository {
	return &commandRepo{db: tx}
}

func (r *commandRepo) FindByDeviceID(ctx context.Context, deviceID string, limit, offset int) ([]model.Command, error) {
	var commands []model.Command
	err := r.db.SelectContext(ctx, &commands, `
		SELECT * FROM commands
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, deviceID, limit, offset)
	return commands, err
}

func (r *commandRepo) FindPendingByDeviceID(ctx context.Context, deviceID string) ([]model.Command, error) {
	var commands []model.Command
	err := r.db.SelectContext(ctx, &commands, `
		SELECT * FROM commands
		WHERE device_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`, deviceID)
	return commands, err
}

func (r *commandRepo) Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	var command model.Command
	err := r.db.GetContext(ctx, &command, `
		INSERT INTO commands (account_id, device_id, command, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.AccountID, params.DeviceID, params.Command, params.Payload)
	if err != nil {
		return nil, err
	}
	return &command, nil
}

func (r *commandRepo) Ack(ctx context.Context, id, deviceID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE commands SET
			status = 'acked',
			acked_at = $3
		WHERE id = $1 AND device_id = $2 AND status = 'pending'
	`, id, deviceID, time.Now())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *commandRepo) DeleteAcked(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM commands
		WHERE status = 'acked' AND acked_at < $1
	`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
