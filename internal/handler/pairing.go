package handler

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/middleware"
	"github.com/kidspc/kidspc-server/internal/service"
)

// PairingHandler exposes both halves of the pairing surface: the
// unauthenticated endpoints the desktop client calls before it has any
// credential, and the parent-authenticated code generation and confirm.
type PairingHandler struct {
	pairingService *service.PairingService
}

func NewPairingHandler(pairingService *service.PairingService) *PairingHandler {
	return &PairingHandler{pairingService: pairingService}
}

// POST /api/pairing/request
// Desktop client asks for a code to show on screen.
func (h *PairingHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform string  `json:"platform" validate:"omitempty,max=32"`
		PCID     *string `json:"pc_id" validate:"omitempty,uuid"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.pairingService.RequestCode(r.Context(), req.Platform, req.PCID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":       token.Value,
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})
}

// GET /api/pairing/check?code=
// Polling read; always 200 with a status field so the client can branch
// without parsing error bodies.
func (h *PairingHandler) CheckCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperrors.MissingRequired("code"))
		return
	}

	result, err := h.pairingService.Check(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /api/pairing
// Parent generates a code to type into the desktop client.
func (h *PairingHandler) GenerateWebCode(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	token, err := h.pairingService.GenerateWebCode(r.Context(), account.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"code":       token.Value,
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})
}

// POST /api/pairing/confirm
// Parent submits the code shown on the child's screen.
func (h *PairingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r.Context())
	if account == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req struct {
		Code string `json:"code" validate:"required,min=6,max=16"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.pairingService.Confirm(r.Context(), account.ID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().
		Str("accountId", account.ID).
		Str("deviceId", result.DeviceID).
		Bool("isRepair", result.IsRepair).
		Msg("pairing confirmed")

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"pc_id":       result.DeviceID,
		"device_name": result.DeviceName,
		"is_repair":   result.IsRepair,
	})
}

// ClaimHandler owns the unauthenticated token exchange that turns a sync
// token into a device credential.
type ClaimHandler struct {
	pairingService *service.PairingService
}

func NewClaimHandler(pairingService *service.PairingService) *ClaimHandler {
	return &ClaimHandler{pairingService: pairingService}
}

// POST /api/devices/claim
func (h *ClaimHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token" validate:"required,min=6,max=64"`
		Platform string `json:"platform" validate:"omitempty,max=32"`
		Name     string `json:"name" validate:"omitempty,max=100"`
	}
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.pairingService.Claim(r.Context(), req.Token, req.Platform, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pc_id":      result.DeviceID,
		"user_id":    result.AccountID,
		"device_jwt": result.DeviceJWT,
		"is_repair":  result.IsRepair,
	})
}
