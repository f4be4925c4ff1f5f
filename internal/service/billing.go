package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/kidspc/kidspc-server/internal/audit"
	"github.com/kidspc/kidspc-server/internal/billing"
	"github.com/kidspc/kidspc-server/internal/config"
	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
)

const premiumPlan = "premium"

// BillingService owns subscription state. MercadoPago is the live
// provider; Stripe support remains for accounts that subscribed before
// the migration and is read-only except for webhooks.
type BillingService struct {
	subRepo     repository.SubscriptionRepository
	deviceRepo  repository.DeviceRepository
	accountRepo repository.AccountRepository
	eventRepo   repository.BillingEventRepository
	mercadopago *billing.MercadoPagoClient
	stripe      *billing.StripeClient
	appBaseURL  string
}

func NewBillingService(
	subRepo repository.SubscriptionRepository,
	deviceRepo repository.DeviceRepository,
	accountRepo repository.AccountRepository,
	eventRepo repository.BillingEventRepository,
	mercadopago *billing.MercadoPagoClient,
	stripe *billing.StripeClient,
	appBaseURL string,
) *BillingService {
	return &BillingService{
		subRepo:     subRepo,
		deviceRepo:  deviceRepo,
		accountRepo: accountRepo,
		eventRepo:   eventRepo,
		mercadopago: mercadopago,
		stripe:      stripe,
		appBaseURL:  appBaseURL,
	}
}

type BillingStatus struct {
	Subscription *model.Subscription `json:"subscription"`
	DeviceCount  int                 `json:"device_count"`
	MaxDevices   int                 `json:"max_devices"`
	CanPair      bool                `json:"can_pair"`
}

func (s *BillingService) Status(ctx context.Context, accountID string) (*BillingStatus, error) {
	sub, err := s.subRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	deviceCount, err := s.deviceRepo.CountByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	status := &BillingStatus{
		Subscription: sub,
		DeviceCount:  deviceCount,
		MaxDevices:   config.BaseMaxDevices,
	}
	if sub != nil {
		if sub.MaxDevices > 0 {
			status.MaxDevices = sub.MaxDevices
		}
		status.CanPair = sub.Status.Usable() && deviceCount < status.MaxDevices
	}
	return status, nil
}

type CheckoutInput struct {
	PayerEmail  string `json:"payer_email" validate:"omitempty,email"`
	CardTokenID string `json:"card_token_id"`
}

type CheckoutResult struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	InitPoint      string `json:"init_point,omitempty"`
}

// Checkout creates a MercadoPago preapproval. With a card token the
// subscription authorizes inline (bricks mode); without one the caller is
// redirected to the returned init_point.
func (s *BillingService) Checkout(ctx context.Context, accountID string, input CheckoutInput) (*CheckoutResult, error) {
	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("account")
	}

	existing, err := s.subRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil && existing.Status.Usable() {
		return nil, apperrors.ValidationError("account already has an active subscription")
	}

	payerEmail := input.PayerEmail
	if payerEmail == "" {
		payerEmail = account.Email
	}

	req := billing.CreatePreApprovalRequest{
		Reason:            billing.SubscriptionReason,
		ExternalReference: accountID,
		PayerEmail:        payerEmail,
		CardTokenID:       input.CardTokenID,
		BackURL:           s.appBaseURL + "/billing/return",
		AutoRecurring: billing.AutoRecurring{
			Frequency:         billing.SubscriptionFrequency,
			FrequencyType:     "months",
			TransactionAmount: billing.BaseMonthlyAmount,
			CurrencyID:        billing.SubscriptionCurrency,
		},
	}
	if input.CardTokenID != "" {
		req.Status = "authorized"
	}

	preapproval, err := s.mercadopago.CreatePreApproval(ctx, req)
	if err != nil {
		return nil, apperrors.Upstream("mercadopago", err)
	}

	status := mapMercadoPagoStatus(preapproval.Status)
	maxDevices := config.BaseMaxDevices
	plan := premiumPlan
	if _, err := s.subRepo.Upsert(ctx, accountID, model.UpsertSubscriptionParams{
		Provider:      model.ProviderMercadoPago,
		ProviderSubID: &preapproval.ID,
		Plan:          &plan,
		Status:        &status,
		MaxDevices:    &maxDevices,
	}); err != nil {
		return nil, apperrors.Database(err)
	}

	s.appendEvent(ctx, &accountID, string(model.ProviderMercadoPago), "checkout_created", preapproval)

	return &CheckoutResult{
		SubscriptionID: preapproval.ID,
		Status:         string(status),
		InitPoint:      preapproval.InitPoint,
	}, nil
}

// Cancel cancels upstream first; local state flips only after the
// provider accepted, so a failed upstream call leaves the account usable.
func (s *BillingService) Cancel(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sub == nil || sub.ProviderSubID == nil {
		return nil, apperrors.NotFound("subscription")
	}

	if sub.Provider == model.ProviderMercadoPago {
		if _, err := s.mercadopago.CancelPreApproval(ctx, *sub.ProviderSubID); err != nil {
			return nil, apperrors.Upstream("mercadopago", err)
		}
	}

	status := model.SubscriptionStatusCanceled
	updated, err := s.subRepo.Upsert(ctx, accountID, model.UpsertSubscriptionParams{
		Provider: sub.Provider,
		Status:   &status,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.appendEvent(ctx, &accountID, string(sub.Provider), "subscription_canceled", nil)
	audit.SubscriptionUpdated(accountID, string(sub.Provider), string(status))
	return updated, nil
}

// Sync pulls the provider's current state, for when a webhook was missed.
func (s *BillingService) Sync(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sub == nil || sub.ProviderSubID == nil {
		return nil, apperrors.NotFound("subscription")
	}

	switch sub.Provider {
	case model.ProviderMercadoPago:
		preapproval, err := s.mercadopago.GetPreApproval(ctx, *sub.ProviderSubID)
		if err != nil {
			return nil, apperrors.Upstream("mercadopago", err)
		}
		return s.applyMercadoPagoState(ctx, accountID, preapproval)
	case model.ProviderStripe:
		stripeSub, err := s.stripe.GetSubscription(ctx, *sub.ProviderSubID)
		if err != nil {
			return nil, apperrors.Upstream("stripe", err)
		}
		return s.applyStripeState(ctx, accountID, stripeSub)
	default:
		return nil, apperrors.Internal("unknown billing provider")
	}
}

func (s *BillingService) Payments(ctx context.Context, accountID string) ([]billing.Payment, error) {
	sub, err := s.subRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sub == nil || sub.ProviderSubID == nil {
		return []billing.Payment{}, nil
	}
	if sub.Provider != model.ProviderMercadoPago {
		// Payment history for legacy Stripe accounts lives in Stripe's
		// own dashboard emails; nothing to show here.
		return []billing.Payment{}, nil
	}

	payments, err := s.mercadopago.SearchPayments(ctx, *sub.ProviderSubID)
	if err != nil {
		return nil, apperrors.Upstream("mercadopago", err)
	}
	return payments, nil
}

// Upgrade raises the device quota by one slot and pushes the new amount
// to the provider.
func (s *BillingService) Upgrade(ctx context.Context, accountID string) (*model.Subscription, error) {
	sub, err := s.subRepo.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if sub == nil || !sub.Status.Usable() {
		return nil, apperrors.NoSubscription()
	}

	newMax := sub.MaxDevices + 1
	if sub.Provider == model.ProviderMercadoPago && sub.ProviderSubID != nil {
		amount := billing.MonthlyAmountFor(newMax, config.BaseMaxDevices)
		if _, err := s.mercadopago.UpdatePreApproval(ctx, *sub.ProviderSubID, billing.UpdatePreApprovalRequest{
			AutoRecurring: &billing.AutoRecurring{
				Frequency:         billing.SubscriptionFrequency,
				FrequencyType:     "months",
				TransactionAmount: amount,
				CurrencyID:        billing.SubscriptionCurrency,
			},
		}); err != nil {
			return nil, apperrors.Upstream("mercadopago", err)
		}
	}

	updated, err := s.subRepo.Upsert(ctx, accountID, model.UpsertSubscriptionParams{
		Provider:   sub.Provider,
		MaxDevices: &newMax,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.appendEvent(ctx, &accountID, string(sub.Provider), "quota_upgraded", map[string]int{"max_devices": newMax})
	return updated, nil
}

// HandleMercadoPagoWebhook processes a notification. MercadoPago sends
// only the resource id; the authoritative state is fetched back from the
// API, which also makes forged notifications harmless.
func (s *BillingService) HandleMercadoPagoWebhook(ctx context.Context, topic, resourceID string, payload []byte) error {
	s.appendEvent(ctx, nil, string(model.ProviderMercadoPago), topic, json.RawMessage(payload))

	if topic != "preapproval" && topic != "subscription_preapproval" {
		log.Debug().Str("topic", topic).Msg("ignoring mercadopago notification topic")
		return nil
	}
	if resourceID == "" {
		return apperrors.ValidationError("missing notification resource id")
	}

	preapproval, err := s.mercadopago.GetPreApproval(ctx, resourceID)
	if err != nil {
		return apperrors.Upstream("mercadopago", err)
	}

	accountID := preapproval.ExternalReference
	if accountID == "" {
		sub, err := s.subRepo.FindByProviderSubID(ctx, preapproval.ID)
		if err != nil {
			return apperrors.Database(err)
		}
		if sub == nil {
			log.Warn().Str("preapprovalId", preapproval.ID).Msg("notification for unknown subscription")
			return nil
		}
		accountID = sub.AccountID
	}

	if _, err := s.applyMercadoPagoState(ctx, accountID, preapproval); err != nil {
		return err
	}
	return nil
}

// HandleStripeWebhook verifies and processes a legacy Stripe event.
func (s *BillingService) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.stripe.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventWebhookRejected,
			Details: map[string]interface{}{"provider": "stripe", "reason": err.Error()},
		})
		return apperrors.Unauthorized("invalid webhook signature")
	}

	s.appendEvent(ctx, nil, string(model.ProviderStripe), event.Type, json.RawMessage(payload))

	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted":
	default:
		log.Debug().Str("type", event.Type).Msg("ignoring stripe event type")
		return nil
	}

	var stripeSub billing.StripeSubscription
	if err := json.Unmarshal(event.Data.Object, &stripeSub); err != nil {
		return apperrors.ValidationError("malformed subscription object")
	}

	accountID := stripeSub.Metadata.AccountID
	if accountID == "" {
		sub, err := s.subRepo.FindByProviderSubID(ctx, stripeSub.ID)
		if err != nil {
			return apperrors.Database(err)
		}
		if sub == nil {
			log.Warn().Str("subscriptionId", stripeSub.ID).Msg("stripe event for unknown subscription")
			return nil
		}
		accountID = sub.AccountID
	}

	if event.Type == "customer.subscription.deleted" {
		stripeSub.Status = "canceled"
	}

	if _, err := s.applyStripeState(ctx, accountID, &stripeSub); err != nil {
		return err
	}
	return nil
}

func (s *BillingService) applyMercadoPagoState(ctx context.Context, accountID string, preapproval *billing.PreApproval) (*model.Subscription, error) {
	status := mapMercadoPagoStatus(preapproval.Status)
	maxDevices := devicesForAmount(preapproval.AutoRecurring.TransactionAmount)
	plan := premiumPlan

	updated, err := s.subRepo.Upsert(ctx, accountID, model.UpsertSubscriptionParams{
		Provider:      model.ProviderMercadoPago,
		ProviderSubID: &preapproval.ID,
		Plan:          &plan,
		Status:        &status,
		MaxDevices:    &maxDevices,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	audit.SubscriptionUpdated(accountID, string(model.ProviderMercadoPago), string(status))
	return updated, nil
}

func (s *BillingService) applyStripeState(ctx context.Context, accountID string, stripeSub *billing.StripeSubscription) (*model.Subscription, error) {
	status := mapStripeStatus(stripeSub.Status)
	periodStart := time.Unix(stripeSub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(stripeSub.CurrentPeriodEnd, 0)

	updated, err := s.subRepo.Upsert(ctx, accountID, model.UpsertSubscriptionParams{
		Provider:           model.ProviderStripe,
		ProviderSubID:      &stripeSub.ID,
		ProviderPayerID:    &stripeSub.Customer,
		Status:             &status,
		CurrentPeriodStart: &periodStart,
		CurrentPeriodEnd:   &periodEnd,
		CancelAtPeriodEnd:  &stripeSub.CancelAtPeriodEnd,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	audit.SubscriptionUpdated(accountID, string(model.ProviderStripe), string(status))
	return updated, nil
}

func (s *BillingService) appendEvent(ctx context.Context, accountID *string, provider, eventType string, payload any) {
	var raw []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err == nil {
			raw = encoded
		}
	}
	if err := s.eventRepo.Append(ctx, accountID, provider, eventType, raw); err != nil {
		log.Warn().Err(err).Str("eventType", eventType).Msg("failed to append billing event")
	}
}

func mapMercadoPagoStatus(status string) model.SubscriptionStatus {
	switch status {
	case "authorized":
		return model.SubscriptionStatusActive
	case "cancelled":
		return model.SubscriptionStatusCanceled
	case "paused":
		return model.SubscriptionStatusPaused
	case "pending":
		return model.SubscriptionStatusPending
	default:
		return model.SubscriptionStatusInactive
	}
}

func mapStripeStatus(status string) model.SubscriptionStatus {
	switch status {
	case "active", "trialing":
		return model.SubscriptionStatusActive
	case "past_due":
		return model.SubscriptionStatusPastDue
	case "canceled", "unpaid", "incomplete_expired":
		return model.SubscriptionStatusCanceled
	case "incomplete":
		return model.SubscriptionStatusPending
	default:
		return model.SubscriptionStatusInactive
	}
}

// devicesForAmount inverts the pricing formula so a webhook-sourced
// amount restores the quota it paid for.
func devicesForAmount(amount decimal.Decimal) int {
	extra := amount.Sub(billing.BaseMonthlyAmount).Div(billing.PerExtraDeviceAmount)
	devices := config.BaseMaxDevices + int(extra.IntPart())
	if devices < config.BaseMaxDevices {
		return config.BaseMaxDevices
	}
	return devices
}
