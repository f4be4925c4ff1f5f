package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/util"
)

const (
	stripeTimeout = 10 * time.Second

	DefaultStripeBaseURL = "https://api.stripe.com"

	// Webhook signatures older than this are rejected to keep replayed
	// payloads out.
	stripeSignatureTolerance = 5 * time.Minute
)

// StripeEvent is the envelope of a webhook payload.
type StripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// StripeSubscription is the subset of the subscription object the sync
// path reads.
type StripeSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Customer           string `json:"customer"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Metadata           struct {
		AccountID string `json:"account_id"`
	} `json:"metadata"`
}

// StripeClient covers the two legacy operations still in use: webhook
// verification and subscription retrieval. New subscriptions go through
// MercadoPago.
type StripeClient struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	client        *http.Client
}

func NewStripeClient(secretKey, webhookSecret, baseURL string) *StripeClient {
	if baseURL == "" {
		baseURL = DefaultStripeBaseURL
	}
	return &StripeClient{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		client: &http.Client{
			Timeout: stripeTimeout,
		},
	}
}

// VerifyWebhook checks the Stripe-Signature header (t=...,v1=... scheme)
// against the raw payload and returns the parsed event.
func (c *StripeClient) VerifyWebhook(payload []byte, signatureHeader string) (*StripeEvent, error) {
	timestamp, signatures, err := parseStripeSignature(signatureHeader)
	if err != nil {
		return nil, err
	}

	if time.Since(time.Unix(timestamp, 0)) > stripeSignatureTolerance {
		return nil, fmt.Errorf("signature timestamp outside tolerance")
	}

	expected := util.HmacSHA256(c.webhookSecret, fmt.Sprintf("%d.%s", timestamp, payload))

	valid := false
	for _, sig := range signatures {
		if util.ConstantTimeEqual(expected, sig) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("no matching v1 signature")
	}

	var event StripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &event, nil
}

func parseStripeSignature(header string) (timestamp int64, v1 []string, err error) {
	if header == "" {
		return 0, nil, fmt.Errorf("missing signature header")
	}
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid signature timestamp")
			}
		case "v1":
			v1 = append(v1, value)
		}
	}
	if timestamp == 0 || len(v1) == 0 {
		return 0, nil, fmt.Errorf("malformed signature header")
	}
	return timestamp, v1, nil
}

// GetSubscription retrieves a subscription for the billing sync endpoint.
func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*StripeSubscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("subscriptionId", id).
			Dur("elapsed", elapsed).
			Msg("stripe request error")
		return nil, fmt.Errorf("stripe request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("subscriptionId", id).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("stripe request failed")
		return nil, fmt.Errorf("stripe returned status %d", resp.StatusCode)
	}

	var sub StripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	return &sub, nil
}
