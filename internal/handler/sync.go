package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/middleware"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/service"
)

// SyncHandler is the desktop agent's API, mounted behind the device JWT
// middleware.
type SyncHandler struct {
	syncService *service.SyncService
}

func NewSyncHandler(syncService *service.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

func (h *SyncHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/usage", h.ReportUsage)
	r.Post("/events", h.ReportEvents)
	r.Get("/commands/pending", h.PendingCommands)
	r.With(requireUUIDParam("commandID", "pending command")).
		Post("/commands/{commandID}/ack", h.AckCommand)
	r.Get("/settings", h.Settings)

	return r
}

func requireDevice(w http.ResponseWriter, r *http.Request) (*model.Device, bool) {
	device := middleware.GetDevice(r.Context())
	if device == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return nil, false
	}
	return device, true
}

// POST /api/sync/heartbeat
func (h *SyncHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	device, ok := requireDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		AppRunning *bool `json:"app_running"`
	}
	// An empty body counts as a plain liveness ping.
	decodeJSONLenient(r, &req)

	appRunning := true
	if req.AppRunning != nil {
		appRunning = *req.AppRunning
	}

	result, err := h.syncService.Heartbeat(r.Context(), device, appRunning)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /api/sync/usage
func (h *SyncHandler) ReportUsage(w http.ResponseWriter, r *http.Request) {
	device, ok := requireDevice(w, r)
	if !ok {
		return
	}

	var req service.UsageReport
	if !decodeAndValidate(w, r, &req) {
		return
	}

	usage, err := h.syncService.ReportUsage(r.Context(), device, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, usage)
}

// POST /api/sync/events
func (h *SyncHandler) ReportEvents(w http.ResponseWriter, r *http.Request) {
	device, ok := requireDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		Events []service.EventReport `json:"events" validate:"required,min=1,max=200,dive"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	stored, err := h.syncService.ReportEvents(r.Context(), device, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stored":    stored,
		"requested": len(req.Events),
	})
}

// GET /api/sync/commands/pending
func (h *SyncHandler) PendingCommands(w http.ResponseWriter, r *http.Request) {
	device, ok := requireDevice(w, r)
	if !ok {
		return
	}

	commands, err := h.syncService.PendingCommands(r.Context(), device)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": commands,
		"total":    len(commands),
	})
}

// POST /api/sync/commands/{commandID}/ack
func (h *SyncHandler) AckCommand(w http.ResponseWriter, r *http.Request) {
	device, ok := requireDevice(w, r)
	if !ok {
		return
	}

	if err := h.syncService.AckCommand(r.Context(), device, chi.URLParam(r, "commandID")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// GET /api/sync/settings
func (h *SyncHandler) Settings(w http.ResponseWriter, r *http.Request) {
	device, ok := requireDevice(w, r)
	if !ok {
		return
	}

	bundle, err := h.syncService.FetchSettings(r.Context(), device)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bundle)
}
