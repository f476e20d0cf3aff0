package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/expensa/invoice-genie/pkg/config"
	"github.com/expensa/invoice-genie/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errAPIKeyRequired   = errors.New("stripe api key is required for customer lookups")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes accepted per env.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// Client verifies webhook deliveries and, when an API key is configured,
// resolves customers through the Stripe API.
type Client struct {
	environment   string
	signingSecret string
	api           *stripe.Client
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	if _, ok := keyPrefixes[env]; !ok {
		return nil, errInvalidStripeEnv
	}

	c := &Client{environment: env, signingSecret: strings.TrimSpace(cfg.WebhookSecret)}
	if c.signingSecret == "" {
		return nil, errSecretRequired
	}

	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		if !matchesEnv(env, key) {
			return nil, fmt.Errorf("stripe environment %q requires a key starting with %s", env, strings.Join(keyPrefixes[env], " or "))
		}
		c.api = stripe.NewClient(key)
	}

	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"stripe_env":      env,
			"customer_lookup": c.CanLookupCustomers(),
		})
		if !c.CanLookupCustomers() {
			logg.Warn(ctx, "stripe api key not set; subscription events without an expanded customer email will fail")
		}
		logg.Info(ctx, "stripe client initialized")
	}
	return c, nil
}

// CanLookupCustomers reports whether CustomerEmail can reach the Stripe API.
func (c *Client) CanLookupCustomers() bool {
	return c != nil && c.api != nil
}

func matchesEnv(env, key string) bool {
	for _, prefix := range keyPrefixes[env] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// VerifyEvent checks the Stripe-Signature header against the signing secret
// with the library's default timestamp tolerance and decodes the event. Events
// pinned to another API version are accepted.
func (c *Client) VerifyEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, signatureHeader, c.signingSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// CustomerEmail fetches the billing email for a Stripe customer id.
func (c *Client) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	if c == nil || c.api == nil {
		return "", errAPIKeyRequired
	}
	cust, err := c.api.V1Customers.Retrieve(ctx, customerID, nil)
	if err != nil {
		return "", fmt.Errorf("retrieve stripe customer %s: %w", customerID, err)
	}
	if cust.Deleted {
		return "", fmt.Errorf("stripe customer %s is deleted", customerID)
	}
	return cust.Email, nil
}
