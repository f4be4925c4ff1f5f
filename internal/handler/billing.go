package handler

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/service"
)

type BillingHandler struct {
	billingService *service.BillingService
}

func NewBillingHandler(billingService *service.BillingService) *BillingHandler {
	return &BillingHandler{billingService: billingService}
}

func (h *BillingHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	status, err := h.billingService.Status(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req service.CheckoutInput
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.billingService.Checkout(r.Context(), accountID, req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *BillingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	sub, err := h.billingService.Cancel(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"subscription": sub,
	})
}

func (h *BillingHandler) Sync(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	sub, err := h.billingService.Sync(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
}

func (h *BillingHandler) Payments(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	payments, err := h.billingService.Payments(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payments": payments,
		"total":    len(payments),
	})
}

// POST /api/billing/webhook
// MercadoPago sends the resource id as either query params or a JSON
// body depending on notification age; accept both.
func (h *BillingHandler) MercadoPagoWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperrors.ValidationError("failed to read body"))
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = r.URL.Query().Get("type")
	}
	resourceID := r.URL.Query().Get("id")
	if resourceID == "" {
		resourceID = r.URL.Query().Get("data.id")
	}

	if topic == "" || resourceID == "" {
		var body struct {
			Type   string `json:"type"`
			Action string `json:"action"`
			Data   struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		if parseJSON(payload, &body) {
			if topic == "" {
				topic = body.Type
			}
			if resourceID == "" {
				resourceID = body.Data.ID
			}
		}
	}

	if err := h.billingService.HandleMercadoPagoWebhook(r.Context(), topic, resourceID, payload); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("mercadopago webhook processing failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// POST /api/billing/stripe/webhook
func (h *BillingHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperrors.ValidationError("failed to read body"))
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := h.billingService.HandleStripeWebhook(r.Context(), payload, signature); err != nil {
		log.Error().Err(err).Msg("stripe webhook processing failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}
