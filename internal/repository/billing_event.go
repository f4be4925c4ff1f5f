package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

// BillingEventRepository is an append-only audit trail of provider
// notifications; nothing reads it on the hot path.
type BillingEventRepository interface {
	Append(ctx context.Context, accountID *string, provider, eventType string, payload []byte) error
	FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.BillingEvent, error)
}

type billingEventRepo struct {
	db sqlxDB
}

func NewBillingEventRepository(db *sqlx.DB) BillingEventRepository {
	return &billingEventRepo{db: db}
}

func (r *billingEventRepo) Append(ctx context.Context, accountID *string, provider, eventType string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO billing_events (account_id, provider, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, accountID, provider, eventType, payload)
	return err
}

func (r *billingEventRepo) FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.BillingEvent, error) {
	var events []model.BillingEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM billing_events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	return events, err
}
