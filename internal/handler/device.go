package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/middleware"
	"github.com/kidspc/kidspc-server/internal/service"
)

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 90
)

type DeviceHandler struct {
	deviceService  *service.DeviceService
	pairingService *service.PairingService
	billingService *service.BillingService
}

func NewDeviceHandler(
	deviceService *service.DeviceService,
	pairingService *service.PairingService,
	billingService *service.BillingService,
) *DeviceHandler {
	return &DeviceHandler{
		deviceService:  deviceService,
		pairingService: pairingService,
		billingService: billingService,
	}
}

func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/upgrade", h.Upgrade)

	r.Route("/{deviceID}", func(r chi.Router) {
		r.Use(requireUUIDParam("deviceID", "device"))
		r.Get("/", h.Get)
		r.Patch("/", h.Rename)
		r.Delete("/", h.Delete)
		r.Post("/token", h.IssueSyncToken)
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Get("/commands", h.ListCommands)
		r.Post("/commands", h.SendCommand)
		r.Get("/events", h.ListEvents)
		r.Get("/history", h.UsageHistory)
		r.Get("/activity", h.Activity)
		r.Get("/blocked-sites", h.ListBlockedSites)
		r.Put("/blocked-sites", h.ReplaceBlockedSites)
		r.Get("/blocked-apps", h.ListBlockedApps)
		r.Put("/blocked-apps", h.ReplaceBlockedApps)
	})

	return r
}

func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return "", false
	}
	return account.ID, true
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	devices, err := h.deviceService.List(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"total":   len(devices),
	})
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	device, err := h.deviceService.Get(r.Context(), accountID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name" validate:"required,min=1,max=100"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	device, err := h.deviceService.Rename(r.Context(), accountID, chi.URLParam(r, "deviceID"), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	if err := h.deviceService.Delete(r.Context(), accountID, chi.URLParam(r, "deviceID")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/devices/{id}/token
func (h *DeviceHandler) IssueSyncToken(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	token, value, err := h.pairingService.IssueSyncToken(r.Context(), accountID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sync_token": value,
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})
}

// POST /api/devices/upgrade
func (h *DeviceHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	sub, err := h.billingService.Upgrade(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"max_devices": sub.MaxDevices,
	})
}

func (h *DeviceHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	settings, err := h.deviceService.GetSettings(r.Context(), accountID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (h *DeviceHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req service.UpdateSettingsInput
	if !decodeAndValidate(w, r, &req) {
		return
	}

	settings, err := h.deviceService.UpdateSettings(r.Context(), accountID, chi.URLParam(r, "deviceID"), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (h *DeviceHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	page := parsePage(r)
	commands, err := h.deviceService.ListCommands(r.Context(), accountID, chi.URLParam(r, "deviceID"),
		page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"total":    len(commands),
	})
}

func (h *DeviceHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Command string          `json:"command" validate:"required,max=32"`
		Payload json.RawMessage `json:"payload"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cmd, err := h.deviceService.SendCommand(r.Context(), accountID, chi.URLParam(r, "deviceID"),
		req.Command, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}

func (h *DeviceHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	page := parsePage(r)
	eventType := r.URL.Query().Get("type")

	events, total, err := h.deviceService.ListEvents(r.Context(), accountID, chi.URLParam(r, "deviceID"),
		eventType, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (h *DeviceHandler) UsageHistory(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 || days > maxHistoryDays {
		days = defaultHistoryDays
	}

	usage, err := h.deviceService.UsageHistory(r.Context(), accountID, chi.URLParam(r, "deviceID"), days)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": usage,
		"days":    days,
	})
}

func (h *DeviceHandler) Activity(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	// Either a specific date or a trailing day window.
	since := time.Now().AddDate(0, 0, -1)
	if date := r.URL.Query().Get("date"); date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			writeError(w, apperrors.ValidationError("invalid date format, expected YYYY-MM-DD"))
			return
		}
		since = parsed
	} else if days, _ := strconv.Atoi(r.URL.Query().Get("days")); days > 0 && days <= maxHistoryDays {
		since = time.Now().AddDate(0, 0, -days)
	}

	samples, err := h.deviceService.Activity(r.Context(), accountID, chi.URLParam(r, "deviceID"), since)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"activity": samples,
		"total":    len(samples),
	})
}

func (h *DeviceHandler) ListBlockedSites(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	sites, err := h.deviceService.ListBlockedSites(r.Context(), accountID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sites": sites})
}

func (h *DeviceHandler) ReplaceBlockedSites(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Patterns []string `json:"patterns" validate:"required,max=500,dive,min=1,max=255"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.deviceService.ReplaceBlockedSites(r.Context(), accountID, chi.URLParam(r, "deviceID"), req.Patterns); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(req.Patterns)})
}

func (h *DeviceHandler) ListBlockedApps(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	apps, err := h.deviceService.ListBlockedApps(r.Context(), accountID, chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"apps": apps})
}

func (h *DeviceHandler) ReplaceBlockedApps(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req struct {
		Names []string `json:"names" validate:"required,max=500,dive,min=1,max=255"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.deviceService.ReplaceBlockedApps(r.Context(), accountID, chi.URLParam(r, "deviceID"), req.Names); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(req.Names)})
}
