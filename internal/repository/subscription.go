package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kidspc/kidspc-server/internal/model"
)

type SubscriptionRepository interface {
	FindByAccountID(ctx context.Context, accountID string) (*model.Subscription, error)
	FindByProviderSubID(ctx context.Context, providerSubID string) (*model.Subscription, error)
	// Upsert writes provider-sourced state; nil fields on params keep the
	// stored value. Webhooks and checkout both funnel through here.
	Upsert(ctx context.Context, accountID string, params model.UpsertSubscriptionParams) (*model.Subscription, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SubscriptionRepository
}

type subscriptionRepo struct {
	db sqlxDB
}

func NewSubscriptionRepository(db *sqlx.DB) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

func (r *subscriptionRepo) WithTx(tx *sqlx.Tx) SubscriptionRepository {
	return &subscriptionRepo{db: tx}
}

func (r *subscriptionRepo) FindByAccountID(ctx context.Context, accountID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT * FROM subscriptions WHERE account_id = $1
	`, accountID)
	return HandleNotFound(&sub, err)
}

func (r *subscriptionRepo) FindByProviderSubID(ctx context.Context, providerSubID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT * FROM subscriptions WHERE provider_subscription_id = $1
	`, providerSubID)
	return HandleNotFound(&sub, err)
}

func (r *subscriptionRepo) Upsert(ctx context.Context, accountID string, params model.UpsertSubscriptionParams) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.GetContext(ctx, &sub, `
		INSERT INTO subscriptions (
			account_id, provider, provider_subscription_id, provider_payer_id,
			plan, status, max_devices, current_period_start, current_period_end,
			cancel_at_period_end
		)
		VALUES ($1, $2, $3, $4, COALESCE($5, 'monthly'), COALESCE($6, 'pending'),
			COALESCE($7, 2), $8, $9, COALESCE($10, false))
		ON CONFLICT (account_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			provider_subscription_id = COALESCE(EXCLUDED.provider_subscription_id, subscriptions.provider_subscription_id),
			provider_payer_id = COALESCE(EXCLUDED.provider_payer_id, subscriptions.provider_payer_id),
			plan = COALESCE($5, subscriptions.plan),
			status = COALESCE($6, subscriptions.status),
			max_devices = COALESCE($7, subscriptions.max_devices),
			current_period_start = COALESCE($8, subscriptions.current_period_start),
			current_period_end = COALESCE($9, subscriptions.current_period_end),
			cancel_at_period_end = COALESCE($10, subscriptions.cancel_at_period_end),
			updated_at = $11
		RETURNING *
	`, accountID, params.Provider, params.ProviderSubID, params.ProviderPayerID,
		params.Plan, params.Status, params.MaxDevices,
		params.CurrentPeriodStart, params.CurrentPeriodEnd,
		params.CancelAtPeriodEnd, time.Now())
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
