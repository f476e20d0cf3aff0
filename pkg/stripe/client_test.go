package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/expensa/invoice-genie/pkg/config"
	"github.com/expensa/invoice-genie/pkg/logger"
)

func TestNewClientValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
		want error
	}{
		{name: "missing secret", cfg: config.StripeConfig{}, want: errSecretRequired},
		{name: "blank secret", cfg: config.StripeConfig{WebhookSecret: "   "}, want: errSecretRequired},
		{name: "unknown env", cfg: config.StripeConfig{WebhookSecret: "whsec_x", Env: "staging"}, want: errInvalidStripeEnv},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient(context.Background(), tc.cfg, nil)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNewClientKeyMustMatchEnv(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec_x", APIKey: "sk_live_123", Env: "test"}, nil)
	assert.Error(t, err)

	_, err = NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec_x", APIKey: "sk_test_123", Env: "LIVE"}, nil)
	assert.Error(t, err)

	c, err := NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec_x", APIKey: "rk_live_123", Env: "live"}, nil)
	require.NoError(t, err)
	assert.Equal(t, liveEnv, c.Environment())
}

func TestCustomerLookupNeedsAPIKey(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{WebhookSecret: " whsec_x "}, nil)
	require.NoError(t, err)
	assert.Equal(t, testEnv, c.Environment())

	_, err = c.CustomerEmail(context.Background(), "cus_1")
	assert.ErrorIs(t, err, errAPIKeyRequired)
}

func TestVerifyEvent(t *testing.T) {
	c, err := NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec_x"}, nil)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "invoice.paid",
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": map[string]any{"id": "in_1", "object": "invoice"}},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    "whsec_x",
		Timestamp: time.Now(),
	})
	event, err := c.VerifyEvent(signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, stripe.EventType("invoice.paid"), event.Type)

	_, err = c.VerifyEvent(signed.Payload, "t=1,v1=deadbeef")
	assert.Error(t, err)

	var nilClient *Client
	_, err = nilClient.VerifyEvent(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, errSecretRequired)
}

func TestNewClientWarnsWhenCustomerLookupDisabled(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})

	c, err := NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec_x"}, logg)
	require.NoError(t, err)
	assert.False(t, c.CanLookupCustomers())
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "stripe api key not set")

	buf.Reset()
	c, err = NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec_x", APIKey: "sk_test_123"}, logg)
	require.NoError(t, err)
	assert.True(t, c.CanLookupCustomers())
	assert.NotContains(t, buf.String(), `"level":"warn"`)
}
