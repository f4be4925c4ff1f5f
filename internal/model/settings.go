package model

import (
	"encoding/json"
	"time"
)

type DeviceSettings struct {
	ID                   string          `db:"id" json:"id"`
	DeviceID             string          `db:"device_id" json:"deviceId"`
	AccountID            string          `db:"account_id" json:"accountId"`
	DailyLimitMinutes    int             `db:"daily_limit_minutes" json:"dailyLimitMinutes"`
	StrikePenaltyMinutes int             `db:"strike_penalty_minutes" json:"strikePenaltyMinutes"`
	Schedule             json.RawMessage `db:"schedule" json:"schedule,omitempty"`
	PasswordHash         *string         `db:"password_hash" json:"-"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updatedAt"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
}

// UpdateDeviceSettingsParams applies partial updates; nil fields are kept.
type UpdateDeviceSettingsParams struct {
	DailyLimitMinutes    *int
	StrikePenaltyMinutes *int
	Schedule             *json.RawMessage
	PasswordHash         *string
}
