package model

import (
	"encoding/json"
	"time"
)

type Command struct {
	ID        string          `db:"id" json:"id"`
	AccountID string          `db:"account_id" json:"accountId"`
	DeviceID  string          `db:"device_id" json:"deviceId"`
	Command   string          `db:"command" json:"command"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	Status    CommandStatus   `db:"status" json:"status"`
	AckedAt   *time.Time      `db:"acked_at" json:"ackedAt,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

type CreateCommandParams struct {
	AccountID string
	DeviceID  string
	Command   string
	Payload   json.RawMessage
}
