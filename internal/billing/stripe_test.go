package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test_secret"

func signStripePayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	client := NewStripeClient("sk_test", testWebhookSecret, "")
	payload := []byte(`{"id":"evt_1","type":"customer.subscription.updated","data":{"object":{"id":"sub_1"}}}`)

	t.Run("accepts a valid signature", func(t *testing.T) {
		ts := time.Now().Unix()
		header := fmt.Sprintf("t=%d,v1=%s", ts, signStripePayload(testWebhookSecret, ts, payload))

		event, err := client.VerifyWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, "customer.subscription.updated", event.Type)
	})

	t.Run("accepts extra scheme entries in the header", func(t *testing.T) {
		ts := time.Now().Unix()
		sig := signStripePayload(testWebhookSecret, ts, payload)
		header := fmt.Sprintf("t=%d,v0=deadbeef,v1=%s", ts, sig)

		_, err := client.VerifyWebhook(payload, header)
		assert.NoError(t, err)
	})

	t.Run("rejects a stale timestamp", func(t *testing.T) {
		ts := time.Now().Add(-10 * time.Minute).Unix()
		header := fmt.Sprintf("t=%d,v1=%s", ts, signStripePayload(testWebhookSecret, ts, payload))

		_, err := client.VerifyWebhook(payload, header)
		assert.Error(t, err)
	})

	t.Run("rejects a wrong secret", func(t *testing.T) {
		ts := time.Now().Unix()
		header := fmt.Sprintf("t=%d,v1=%s", ts, signStripePayload("whsec_other", ts, payload))

		_, err := client.VerifyWebhook(payload, header)
		assert.Error(t, err)
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		ts := time.Now().Unix()
		header := fmt.Sprintf("t=%d,v1=%s", ts, signStripePayload(testWebhookSecret, ts, payload))

		_, err := client.VerifyWebhook([]byte(`{"id":"evt_2"}`), header)
		assert.Error(t, err)
	})

	t.Run("rejects missing and malformed headers", func(t *testing.T) {
		for _, header := range []string{
			"",
			"v1=abcdef",
			fmt.Sprintf("t=%d", time.Now().Unix()),
			"t=notanumber,v1=abcdef",
		} {
			_, err := client.VerifyWebhook(payload, header)
			assert.Error(t, err, "header %q", header)
		}
	})
}

func TestParseStripeSignature(t *testing.T) {
	ts, sigs, err := parseStripeSignature("t=1700000000, v1=aaa, v1=bbb")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)
	assert.Equal(t, []string{"aaa", "bbb"}, sigs)
}
