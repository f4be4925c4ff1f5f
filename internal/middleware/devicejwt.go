package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/audit"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
	"github.com/kidspc/kidspc-server/internal/util"
)

const DeviceContextKey contextKey = "device"

func GetDevice(ctx context.Context) *model.Device {
	if device, ok := ctx.Value(DeviceContextKey).(*model.Device); ok {
		return device
	}
	return nil
}

// DeviceJWTMiddleware authenticates the desktop agent. The JWT binds a
// device to an account; the row is loaded on every request so a deleted
// or re-paired device is rejected even while its token is still valid.
type DeviceJWTMiddleware struct {
	deviceRepo repository.DeviceRepository
	secret     string
}

func NewDeviceJWTMiddleware(deviceRepo repository.DeviceRepository, secret string) *DeviceJWTMiddleware {
	return &DeviceJWTMiddleware{deviceRepo: deviceRepo, secret: secret}
}

func (m *DeviceJWTMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing device credential",
			})
			return
		}

		claims, err := util.ParseDeviceJWT(m.secret, token)
		if err != nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"credential": "device_jwt"},
			})
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid device credential",
			})
			return
		}

		device, err := m.deviceRepo.FindByID(r.Context(), claims.DeviceID)
		if err != nil {
			log.Error().Err(err).Msg("device auth middleware: database error")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if device == nil || device.AccountID == nil || *device.AccountID != claims.AccountID {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Device credential no longer valid",
			})
			return
		}

		ctx := context.WithValue(r.Context(), DeviceContextKey, device)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
