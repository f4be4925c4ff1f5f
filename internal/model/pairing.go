package model

import (
	"time"
)

// PairingToken is a single-use credential exchanged during device pairing.
// Two kinds share the table: human-typable codes and 128-bit sync tokens.
// Once consumed, the bound identifiers and issued JWT are stored on the row
// so repeated reads return the same binding.
type PairingToken struct {
	ID             string     `db:"id" json:"id"`
	Value          string     `db:"value" json:"value"`
	Kind           TokenKind  `db:"kind" json:"kind"`
	Platform       string     `db:"platform" json:"platform"`
	DeviceID       *string    `db:"device_id" json:"deviceId,omitempty"`
	AccountID      *string    `db:"account_id" json:"accountId,omitempty"`
	ExpiresAt      time.Time  `db:"expires_at" json:"expiresAt"`
	UsedAt         *time.Time `db:"used_at" json:"usedAt,omitempty"`
	BoundAccountID *string    `db:"bound_account_id" json:"boundAccountId,omitempty"`
	BoundDeviceID  *string    `db:"bound_device_id" json:"boundDeviceId,omitempty"`
	DeviceJWT      *string    `db:"device_jwt" json:"-"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
}

// Consumed reports whether the token has been claimed.
func (t *PairingToken) Consumed() bool {
	return t.UsedAt != nil
}

// ExpiredAt reports whether the token's window had closed at the given time.
// Expiry is computed lazily at read time; there is no background sweep that
// transitions tokens.
func (t *PairingToken) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

type CreatePairingTokenParams struct {
	Value     string
	Kind      TokenKind
	Platform  string
	DeviceID  *string
	AccountID *string
	ExpiresAt time.Time
}

// TokenBinding is the durable result of a confirmed pairing.
type TokenBinding struct {
	AccountID string
	DeviceID  string
	DeviceJWT string
}
