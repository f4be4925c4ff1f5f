package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kidspc/kidspc-server/internal/config"
	"github.com/kidspc/kidspc-server/internal/middleware"
	"github.com/kidspc/kidspc-server/internal/model"
	"github.com/kidspc/kidspc-server/internal/repository"
	"github.com/kidspc/kidspc-server/internal/service"
)

// Mock repositories
type mockTokenRepo struct {
	mock.Mock
}

func (m *mockTokenRepo) FindByValue(ctx context.Context, value string) (*model.PairingToken, error) {
	args := m.Called(ctx, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingToken), args.Error(1)
}

func (m *mockTokenRepo) Create(ctx context.Context, params model.CreatePairingTokenParams) (*model.PairingToken, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PairingToken), args.Error(1)
}

func (m *mockTokenRepo) Consume(ctx context.Context, value string, binding model.TokenBinding) (bool, error) {
	args := m.Called(ctx, value, binding)
	return args.Bool(0), args.Error(1)
}

func (m *mockTokenRepo) DeleteExpired(ctx context.Context, consumedRetention time.Duration) (int64, error) {
	args := m.Called(ctx, consumedRetention)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokenRepo) WithTx(tx *sqlx.Tx) repository.PairingTokenRepository {
	return m
}

func testPairingService(tokenRepo repository.PairingTokenRepository) *service.PairingService {
	cfg := &config.Config{
		DeviceJWTSecret:     "test-secret",
		CodeTTLSeconds:      600,
		SyncTokenTTLSeconds: 1800,
		ReplayWindowHours:   24,
	}
	return service.NewPairingService(nil, tokenRepo, nil, nil, nil, cfg)
}

func TestRequestCode(t *testing.T) {
	t.Run("returns a code and expiry", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewPairingHandler(testPairingService(tokenRepo))

		expiresAt := time.Now().Add(10 * time.Minute)
		tokenRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreatePairingTokenParams) bool {
			return p.Kind == model.TokenKindCode && p.Platform == "windows"
		})).Return(&model.PairingToken{
			Value:     "ABC-DEF",
			Kind:      model.TokenKindCode,
			ExpiresAt: expiresAt,
		}, nil)

		body := bytes.NewBufferString(`{"platform":"windows"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/pairing/request", body)
		rec := httptest.NewRecorder()

		handler.RequestCode(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ABC-DEF", resp["code"])
		assert.NotEmpty(t, resp["expires_at"])
	})

	t.Run("rejects a malformed device id", func(t *testing.T) {
		handler := NewPairingHandler(testPairingService(new(mockTokenRepo)))

		body := bytes.NewBufferString(`{"platform":"windows","pc_id":"not-a-uuid"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/pairing/request", body)
		rec := httptest.NewRecorder()

		handler.RequestCode(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCheckCode(t *testing.T) {
	t.Run("missing code parameter is a 400", func(t *testing.T) {
		handler := NewPairingHandler(testPairingService(new(mockTokenRepo)))

		req := httptest.NewRequest(http.MethodGet, "/api/pairing/check", nil)
		rec := httptest.NewRecorder()

		handler.CheckCode(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown code still answers 200 with invalid status", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewPairingHandler(testPairingService(tokenRepo))

		tokenRepo.On("FindByValue", mock.Anything, "ZZZ-ZZZ").Return(nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/pairing/check?code=ZZZ-ZZZ", nil)
		rec := httptest.NewRecorder()

		handler.CheckCode(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "invalid", resp["status"])
	})

	t.Run("pending code reports pending", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewPairingHandler(testPairingService(tokenRepo))

		tokenRepo.On("FindByValue", mock.Anything, "ABC-DEF").Return(&model.PairingToken{
			Value:     "ABC-DEF",
			Kind:      model.TokenKindCode,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/pairing/check?code=ABC-DEF", nil)
		rec := httptest.NewRecorder()

		handler.CheckCode(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp["status"])
	})
}

func TestGenerateWebCode(t *testing.T) {
	t.Run("requires an authenticated account", func(t *testing.T) {
		handler := NewPairingHandler(testPairingService(new(mockTokenRepo)))

		req := httptest.NewRequest(http.MethodPost, "/api/pairing", nil)
		rec := httptest.NewRecorder()

		handler.GenerateWebCode(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("issues a web code for the account", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewPairingHandler(testPairingService(tokenRepo))

		tokenRepo.On("Create", mock.Anything, mock.MatchedBy(func(p model.CreatePairingTokenParams) bool {
			return p.AccountID != nil && *p.AccountID == "acc-1"
		})).Return(&model.PairingToken{
			Value:     "ABC-DEF-GHJ",
			Kind:      model.TokenKindCode,
			ExpiresAt: time.Now().Add(10 * time.Minute),
		}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/pairing", nil)
		ctx := context.WithValue(req.Context(), middleware.AccountContextKey, &model.Account{ID: "acc-1"})
		rec := httptest.NewRecorder()

		handler.GenerateWebCode(rec, req.WithContext(ctx))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ABC-DEF-GHJ", resp["code"])
	})
}

func TestConfirm(t *testing.T) {
	t.Run("requires an authenticated account", func(t *testing.T) {
		handler := NewPairingHandler(testPairingService(new(mockTokenRepo)))

		body := bytes.NewBufferString(`{"code":"ABC-DEF"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/pairing/confirm", body)
		rec := httptest.NewRecorder()

		handler.Confirm(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown code is a 404", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewPairingHandler(testPairingService(tokenRepo))

		tokenRepo.On("FindByValue", mock.Anything, "ZZZ-ZZZ").Return(nil, nil)

		body := bytes.NewBufferString(`{"code":"ZZZ-ZZZ"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/pairing/confirm", body)
		ctx := context.WithValue(req.Context(), middleware.AccountContextKey, &model.Account{ID: "acc-1"})
		rec := httptest.NewRecorder()

		handler.Confirm(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing code fails validation", func(t *testing.T) {
		handler := NewPairingHandler(testPairingService(new(mockTokenRepo)))

		body := bytes.NewBufferString(`{}`)
		req := httptest.NewRequest(http.MethodPost, "/api/pairing/confirm", body)
		ctx := context.WithValue(req.Context(), middleware.AccountContextKey, &model.Account{ID: "acc-1"})
		rec := httptest.NewRecorder()

		handler.Confirm(rec, req.WithContext(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestClaim(t *testing.T) {
	t.Run("unknown token is a 404", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewClaimHandler(testPairingService(tokenRepo))

		tokenRepo.On("FindByValue", mock.Anything, "deadbeefdeadbeef").Return(nil, nil)
		tokenRepo.On("FindByValue", mock.Anything, "DEADBEEFDEADBEEF").Return(nil, nil)

		body := bytes.NewBufferString(`{"token":"deadbeefdeadbeef","platform":"windows"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/devices/claim", body)
		rec := httptest.NewRecorder()

		handler.Claim(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing token fails validation", func(t *testing.T) {
		handler := NewClaimHandler(testPairingService(new(mockTokenRepo)))

		body := bytes.NewBufferString(`{"platform":"windows"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/devices/claim", body)
		rec := httptest.NewRecorder()

		handler.Claim(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("expired code for a never-paired device is 410", func(t *testing.T) {
		tokenRepo := new(mockTokenRepo)
		handler := NewClaimHandler(testPairingService(tokenRepo))

		accountID := "acc-1"
		tokenRepo.On("FindByValue", mock.Anything, "ABC-DEF").Return(&model.PairingToken{
			Value:     "ABC-DEF",
			Kind:      model.TokenKindCode,
			AccountID: &accountID,
			ExpiresAt: time.Now().Add(-time.Minute),
		}, nil)

		body := bytes.NewBufferString(`{"token":"ABC-DEF"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/devices/claim", body)
		rec := httptest.NewRecorder()

		handler.Claim(rec, req)
		assert.Equal(t, http.StatusGone, rec.Code)
	})
}
