package model

import (
	"time"
)

// DailyUsage is one row per device per calendar day, upserted by the
// device's usage sync.
type DailyUsage struct {
	ID          string    `db:"id" json:"id"`
	AccountID   string    `db:"account_id" json:"accountId"`
	DeviceID    string    `db:"device_id" json:"deviceId"`
	Date        time.Time `db:"date" json:"date"`
	UsedMinutes int       `db:"used_minutes" json:"usedMinutes"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

type UpsertDailyUsageParams struct {
	AccountID   string
	DeviceID    string
	Date        time.Time
	UsedMinutes int
}

// ActivitySample records which app/site was in the foreground during a
// sampling interval.
type ActivitySample struct {
	ID        string    `db:"id" json:"id"`
	AccountID string    `db:"account_id" json:"accountId"`
	DeviceID  string    `db:"device_id" json:"deviceId"`
	App       string    `db:"app" json:"app"`
	Title     string    `db:"title" json:"title"`
	Minutes   int       `db:"minutes" json:"minutes"`
	SampledAt time.Time `db:"sampled_at" json:"sampledAt"`
}

type CreateActivitySampleParams struct {
	AccountID string
	DeviceID  string
	App       string
	Title     string
	Minutes   int
	SampledAt time.Time
}
