package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	mercadoPagoTimeout = 10 * time.Second

	DefaultMercadoPagoBaseURL = "https://api.mercadopago.com"
)

// Monthly pricing in BRL. Plans start at two devices; each extra slot
// raises the preapproval amount.
var (
	BaseMonthlyAmount     = decimal.RequireFromString("19.90")
	PerExtraDeviceAmount  = decimal.RequireFromString("10.00")
	SubscriptionCurrency  = "BRL"
	SubscriptionFrequency = 1
	SubscriptionReason    = "KidsPC Premium"
)

// MonthlyAmountFor returns the preapproval amount for a device quota.
func MonthlyAmountFor(maxDevices, baseDevices int) decimal.Decimal {
	extra := maxDevices - baseDevices
	if extra < 0 {
		extra = 0
	}
	return BaseMonthlyAmount.Add(PerExtraDeviceAmount.Mul(decimal.NewFromInt(int64(extra))))
}

// AutoRecurring is MercadoPago's recurring charge descriptor.
type AutoRecurring struct {
	Frequency         int             `json:"frequency"`
	FrequencyType     string          `json:"frequency_type"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
}

// PreApproval mirrors the fields of MercadoPago's /preapproval resource
// that the service reads.
type PreApproval struct {
	ID                string        `json:"id"`
	Status            string        `json:"status"`
	Reason            string        `json:"reason"`
	PayerID           int64         `json:"payer_id"`
	PayerEmail        string        `json:"payer_email"`
	ExternalReference string        `json:"external_reference"`
	InitPoint         string        `json:"init_point"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	NextPaymentDate   *time.Time    `json:"next_payment_date,omitempty"`
	DateCreated       *time.Time    `json:"date_created,omitempty"`
}

type CreatePreApprovalRequest struct {
	Reason            string        `json:"reason"`
	ExternalReference string        `json:"external_reference"`
	PayerEmail        string        `json:"payer_email,omitempty"`
	CardTokenID       string        `json:"card_token_id,omitempty"`
	AutoRecurring     AutoRecurring `json:"auto_recurring"`
	BackURL           string        `json:"back_url"`
	Status            string        `json:"status,omitempty"`
}

type UpdatePreApprovalRequest struct {
	Status        string         `json:"status,omitempty"`
	AutoRecurring *AutoRecurring `json:"auto_recurring,omitempty"`
}

// Payment is the subset of /v1/payments/search results shown on the
// billing history page.
type Payment struct {
	ID                int64           `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	DateApproved      *time.Time      `json:"date_approved,omitempty"`
	DateCreated       *time.Time      `json:"date_created,omitempty"`
}

type paymentSearchResponse struct {
	Results []Payment `json:"results"`
}

// MercadoPagoClient is a thin JSON client over the preapproval and
// payments endpoints.
type MercadoPagoClient struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

func NewMercadoPagoClient(accessToken, baseURL string) *MercadoPagoClient {
	if baseURL == "" {
		baseURL = DefaultMercadoPagoBaseURL
	}
	return &MercadoPagoClient{
		accessToken: accessToken,
		baseURL:     baseURL,
		client: &http.Client{
			Timeout: mercadoPagoTimeout,
		},
	}
}

func (c *MercadoPagoClient) CreatePreApproval(ctx context.Context, req CreatePreApprovalRequest) (*PreApproval, error) {
	var preapproval PreApproval
	if err := c.do(ctx, http.MethodPost, "/preapproval", req, &preapproval); err != nil {
		return nil, err
	}
	return &preapproval, nil
}

func (c *MercadoPagoClient) GetPreApproval(ctx context.Context, id string) (*PreApproval, error) {
	var preapproval PreApproval
	if err := c.do(ctx, http.MethodGet, "/preapproval/"+url.PathEscape(id), nil, &preapproval); err != nil {
		return nil, err
	}
	return &preapproval, nil
}

func (c *MercadoPagoClient) UpdatePreApproval(ctx context.Context, id string, req UpdatePreApprovalRequest) (*PreApproval, error) {
	var preapproval PreApproval
	if err := c.do(ctx, http.MethodPut, "/preapproval/"+url.PathEscape(id), req, &preapproval); err != nil {
		return nil, err
	}
	return &preapproval, nil
}

// CancelPreApproval sets the preapproval status to cancelled upstream.
func (c *MercadoPagoClient) CancelPreApproval(ctx context.Context, id string) (*PreApproval, error) {
	return c.UpdatePreApproval(ctx, id, UpdatePreApprovalRequest{Status: "cancelled"})
}

func (c *MercadoPagoClient) SearchPayments(ctx context.Context, preapprovalID string) ([]Payment, error) {
	path := "/v1/payments/search?sort=date_created&criteria=desc&preapproval_id=" + url.QueryEscape(preapprovalID)
	var resp paymentSearchResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *MercadoPagoClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("mercadopago request error")
		return fmt.Errorf("mercadopago request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Str("body", string(raw)).
			Msg("mercadopago request failed")
		return fmt.Errorf("mercadopago returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
