package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kidspc/kidspc-server/internal/billing"
	apperrors "github.com/kidspc/kidspc-server/internal/errors"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
)

type mockSubscriptionRepo struct {
	mock.Mock
}

func (m *mockSubscriptionRepo) FindByAccountID(ctx context.Context, accountID string) (*model.Subscription, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepo) FindByProviderSubID(ctx context.Context, providerSubID string) (*model.Subscription, error) {
	args := m.Called(ctx, providerSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepo) Upsert(ctx context.Context, accountID string, params model.UpsertSubscriptionParams) (*model.Subscription, error) {
	args := m.Called(ctx, accountID, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *mockSubscriptionRepo) WithTx(tx *sqlx.Tx) repository.SubscriptionRepository {
	return m
}

type mockAccountRepo struct {
	mock.Mock
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *mockAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository {
	return m
}

type mockBillingEventRepo struct {
	mock.Mock
}

func (m *mockBillingEventRepo) Append(ctx context.Context, accountID *string, provider, eventType string, payload []byte) error {
	args := m.Called(ctx, accountID, provider, eventType, payload)
	return args.Error(0)
}

func (m *mockBillingEventRepo) FindByAccountID(ctx context.Context, accountID string, limit, offset int) ([]model.BillingEvent, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.BillingEvent), args.Error(1)
}

func TestHandleMercadoPagoWebhook(t *testing.T) {
	t.Run("re-fetches the preapproval and applies its state", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/preapproval/pa_123", r.URL.Path)
			w.Write([]byte(`{"id":"pa_123","status":"authorized","external_reference":"acc-1","auto_recurring":{"transaction_amount":29.90,"currency_id":"BRL"}}`))
		}))
		defer server.Close()

		subRepo := new(mockSubscriptionRepo)
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(subRepo, nil, nil, eventRepo,
			billing.NewMercadoPagoClient("token", server.URL), nil, "https://app.example")

		eventRepo.On("Append", mock.Anything, (*string)(nil), "mercadopago", "preapproval", mock.Anything).Return(nil)
		subRepo.On("Upsert", mock.Anything, "acc-1", mock.MatchedBy(func(p model.UpsertSubscriptionParams) bool {
			return p.Provider == model.ProviderMercadoPago &&
				p.ProviderSubID != nil && *p.ProviderSubID == "pa_123" &&
				p.Status != nil && *p.Status == model.SubscriptionStatusActive &&
				p.MaxDevices != nil && *p.MaxDevices == 3
		})).Return(&model.Subscription{AccountID: "acc-1", Status: model.SubscriptionStatusActive, MaxDevices: 3}, nil)

		err := svc.HandleMercadoPagoWebhook(context.Background(), "preapproval", "pa_123", []byte(`{"id":"pa_123"}`))
		require.NoError(t, err)
		subRepo.AssertExpectations(t)
		eventRepo.AssertExpectations(t)
	})

	t.Run("resolves the account by provider id when external reference is empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"pa_456","status":"cancelled","auto_recurring":{"transaction_amount":19.90,"currency_id":"BRL"}}`))
		}))
		defer server.Close()

		subRepo := new(mockSubscriptionRepo)
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(subRepo, nil, nil, eventRepo,
			billing.NewMercadoPagoClient("token", server.URL), nil, "https://app.example")

		eventRepo.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		subRepo.On("FindByProviderSubID", mock.Anything, "pa_456").Return(&model.Subscription{
			AccountID: "acc-2",
		}, nil)
		subRepo.On("Upsert", mock.Anything, "acc-2", mock.MatchedBy(func(p model.UpsertSubscriptionParams) bool {
			return p.Status != nil && *p.Status == model.SubscriptionStatusCanceled
		})).Return(&model.Subscription{AccountID: "acc-2", Status: model.SubscriptionStatusCanceled}, nil)

		err := svc.HandleMercadoPagoWebhook(context.Background(), "preapproval", "pa_456", nil)
		require.NoError(t, err)
		subRepo.AssertExpectations(t)
	})

	t.Run("ignores unrelated topics", func(t *testing.T) {
		subRepo := new(mockSubscriptionRepo)
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(subRepo, nil, nil, eventRepo, nil, nil, "https://app.example")

		eventRepo.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		err := svc.HandleMercadoPagoWebhook(context.Background(), "payment", "12345", nil)
		require.NoError(t, err)
		subRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects a preapproval notification without a resource id", func(t *testing.T) {
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(new(mockSubscriptionRepo), nil, nil, eventRepo, nil, nil, "https://app.example")

		eventRepo.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

		err := svc.HandleMercadoPagoWebhook(context.Background(), "preapproval", "", nil)
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeValidation, appErr.Code)
	})
}

func TestHandleStripeWebhook(t *testing.T) {
	const webhookSecret = "whsec_test"

	sign := func(payload []byte) string {
		ts := time.Now().Unix()
		mac := hmac.New(sha256.New, []byte(webhookSecret))
		fmt.Fprintf(mac, "%d.%s", ts, payload)
		return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
	}

	t.Run("subscription deletion forces canceled state", func(t *testing.T) {
		subRepo := new(mockSubscriptionRepo)
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(subRepo, nil, nil, eventRepo, nil,
			billing.NewStripeClient("sk_test", webhookSecret, ""), "https://app.example")

		payload := []byte(`{"id":"evt_1","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"active","metadata":{"account_id":"acc-1"}}}}`)

		eventRepo.On("Append", mock.Anything, mock.Anything, "stripe", "customer.subscription.deleted", mock.Anything).Return(nil)
		subRepo.On("Upsert", mock.Anything, "acc-1", mock.MatchedBy(func(p model.UpsertSubscriptionParams) bool {
			return p.Provider == model.ProviderStripe &&
				p.Status != nil && *p.Status == model.SubscriptionStatusCanceled
		})).Return(&model.Subscription{AccountID: "acc-1", Status: model.SubscriptionStatusCanceled}, nil)

		err := svc.HandleStripeWebhook(context.Background(), payload, sign(payload))
		require.NoError(t, err)
		subRepo.AssertExpectations(t)
	})

	t.Run("bad signature is unauthorized", func(t *testing.T) {
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(new(mockSubscriptionRepo), nil, nil, eventRepo, nil,
			billing.NewStripeClient("sk_test", webhookSecret, ""), "https://app.example")

		payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated"}`)

		err := svc.HandleStripeWebhook(context.Background(), payload, "t=1,v1=deadbeef")
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeUnauthorized, appErr.Code)
	})

	t.Run("unhandled event types are acknowledged", func(t *testing.T) {
		subRepo := new(mockSubscriptionRepo)
		eventRepo := new(mockBillingEventRepo)
		svc := NewBillingService(subRepo, nil, nil, eventRepo, nil,
			billing.NewStripeClient("sk_test", webhookSecret, ""), "https://app.example")

		payload := []byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{}}}`)

		eventRepo.On("Append", mock.Anything, mock.Anything, "stripe", "invoice.paid", mock.Anything).Return(nil)

		err := svc.HandleStripeWebhook(context.Background(), payload, sign(payload))
		require.NoError(t, err)
		subRepo.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
	})
}
