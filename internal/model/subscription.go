package model

import (
	"time"
)

type Subscription struct {
	ID                 string             `db:"id" json:"id"`
	AccountID          string             `db:"account_id" json:"accountId"`
	Provider           BillingProvider    `db:"provider" json:"provider"`
	ProviderSubID      *string            `db:"provider_subscription_id" json:"providerSubscriptionId,omitempty"`
	ProviderPayerID    *string            `db:"provider_payer_id" json:"providerPayerId,omitempty"`
	Plan               string             `db:"plan" json:"plan"`
	Status             SubscriptionStatus `db:"status" json:"status"`
	MaxDevices         int                `db:"max_devices" json:"maxDevices"`
	CurrentPeriodStart *time.Time         `db:"current_period_start" json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time         `db:"current_period_end" json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd  bool               `db:"cancel_at_period_end" json:"cancelAtPeriodEnd"`
	CreatedAt          time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updatedAt"`
}

// UpsertSubscriptionParams carries provider-sourced subscription state.
// Nil pointer fields leave the stored value untouched.
type UpsertSubscriptionParams struct {
	Provider           BillingProvider
	ProviderSubID      *string
	ProviderPayerID    *string
	Plan               *string
	Status             *SubscriptionStatus
	MaxDevices         *int
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  *bool
}

type BillingEvent struct {
	ID        string    `db:"id" json:"id"`
	AccountID *string   `db:"account_id" json:"accountId,omitempty"`
	Provider  string    `db:"provider" json:"provider"`
	EventType string    `db:"event_type" json:"eventType"`
	Payload   []byte    `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
