package model

import (
	"time"
)

type BlockedSite struct {
	ID        string    `db:"id" json:"id"`
	AccountID string    `db:"account_id" json:"accountId"`
	DeviceID  string    `db:"device_id" json:"deviceId"`
	Pattern   string    `db:"pattern" json:"pattern"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type BlockedApp struct {
	ID        string    `db:"id" json:"id"`
	AccountID string    `db:"account_id" json:"accountId"`
	DeviceID  string    `db:"device_id" json:"deviceId"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
