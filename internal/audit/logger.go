package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventPairingConfirmed    EventType = "pairing_confirmed"
	EventDeviceClaimed       EventType = "device_claimed"
	EventSyncTokenIssued     EventType = "sync_token_issued"
	EventDeviceDeleted       EventType = "device_deleted"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionCancel  EventType = "subscription_canceled"
	EventWebhookRejected     EventType = "webhook_rejected"
	EventRateLimitExceed     EventType = "rate_limit_exceeded"
	EventAuthFailure         EventType = "auth_failure"
)

type Event struct {
	Type      EventType
	AccountID string
	DeviceID  string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}
	if event.DeviceID != "" {
		logger = logger.With().Str("device_id", event.DeviceID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func PairingConfirmed(accountID, deviceID string, isRepair bool) {
	Log(context.Background(), Event{
		Type:      EventPairingConfirmed,
		AccountID: accountID,
		DeviceID:  deviceID,
		Details:   map[string]interface{}{"is_repair": isRepair},
	})
}

func DeviceClaimed(accountID, deviceID string, isRepair bool) {
	Log(context.Background(), Event{
		Type:      EventDeviceClaimed,
		AccountID: accountID,
		DeviceID:  deviceID,
		Details:   map[string]interface{}{"is_repair": isRepair},
	})
}

func DeviceDeleted(accountID, deviceID string) {
	Log(context.Background(), Event{
		Type:      EventDeviceDeleted,
		AccountID: accountID,
		DeviceID:  deviceID,
	})
}

func SubscriptionUpdated(accountID, provider, status string) {
	Log(context.Background(), Event{
		Type:      EventSubscriptionUpdated,
		AccountID: accountID,
		Details:   map[string]interface{}{"provider": provider, "status": status},
	})
}
