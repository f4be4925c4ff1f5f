package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type EventRepository interface {
	FindByDeviceID(ctx context.Context, deviceID, eventType string, limit, offset int) ([]model.Event, error)
	CountByDeviceID(ctx context.Context, deviceID, eventType string) (int, error)
	Create(ctx context.Context, params model.CreateEventParams) (*model.Event, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) EventRepository
}

type eventRepo struct {
	db sqlxDB
}

func NewEventRepository(db *sqlx.DB) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) WithTx(tx *sqlx.Tx) EventRepository {
	return &eventRepo{db: tx}
}

func (r *eventRepo) FindByDeviceID(ctx context.Context, deviceID, eventType string, limit, offset int) ([]model.Event, error) {
	var events []model.Event
	if eventType != "" {
		err := r.db.SelectContext(ctx, &events, `
			SELECT * FROM events
			WHERE device_id = $1 AND type = $2
			ORDER BY timestamp DESC
			LIMIT $3 OFFSET $4
		`, deviceID, eventType, limit, offset)
		return events, err
	}
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM events
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`, deviceID, limit, offset)
	return events, err
}

func (r *eventRepo) CountByDeviceID(ctx context.Context, deviceID, eventType string) (int, error) {
	var count int
	if eventType != "" {
		err := r.db.GetContext(ctx, &count, `
			SELECT COUNT(*) FROM events WHERE device_id = $1 AND type = $2
		`, deviceID, eventType)
		return count, err
	}
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM events WHERE device_id = $1
	`, deviceID)
	return count, err
}

func (r *eventRepo) Create(ctx context.Context, params model.CreateEventParams) (*model.Event, error) {
	var event model.Event
	err := r.db.GetContext(ctx, &event, `
		INSERT INTO events (account_id, device_id, type, payload, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, params.AccountID, params.DeviceID, params.Type, params.Payload, params.Timestamp)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
