package model

import (
	"encoding/json"
	"time"
)

type Event struct {
	ID        string          `db:"id" json:"id"`
	AccountID string          `db:"account_id" json:"accountId"`
	DeviceID  string          `db:"device_id" json:"deviceId"`
	Type      string          `db:"type" json:"type"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	Timestamp time.Time       `db:"timestamp" json:"timestamp"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

type CreateEventParams struct {
	AccountID string
	DeviceID  string
	Type      string
	Payload   json.RawMessage
	Timestamp time.Time
}
