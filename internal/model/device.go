package model

import (
	"time"
)

type Device struct {
	ID                 string     `db:"id" json:"id"`
	AccountID          *string    `db:"account_id" json:"accountId,omitempty"`
	Name               string     `db:"name" json:"name"`
	Platform           string     `db:"platform" json:"platform"`
	IsOnline           bool       `db:"is_online" json:"isOnline"`
	AppRunning         bool       `db:"app_running" json:"appRunning"`
	PairedAt           *time.Time `db:"paired_at" json:"pairedAt,omitempty"`
	LastSeenAt         *time.Time `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	SyncTokenHash      *string    `db:"sync_token_hash" json:"-"`
	SyncTokenExpiresAt *time.Time `db:"sync_token_expires_at" json:"-"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
	DeletedAt          *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
}

type CreateDeviceParams struct {
	AccountID string
	Name      string
	Platform  string
	PairedAt  time.Time
}

type UpdateDeviceParams struct {
	Name *string
}
