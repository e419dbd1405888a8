package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/dreamsuncharted/funding-backend/pkg/config"
	"github.com/dreamsuncharted/funding-backend/pkg/logger"
)

var errMissingAPIKey = errors.New("stripe api key is required")

// Client holds the initialized Stripe SDK client together with the webhook
// signing secret used to verify inbound payment events.
type Client struct {
	sdk           *stripe.Client
	mode          string
	webhookSecret string
}

// NewClient configures the Stripe SDK for donation payments. The key prefix
// must match the configured mode so a live key can never leak into a test
// deployment.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	mode := cfg.Environment()
	if err := checkKeyMode(mode, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client ready in %s mode", mode))
	}
	return &Client{
		sdk:           stripe.NewClient(apiKey),
		mode:          mode,
		webhookSecret: secret,
	}, nil
}

// API returns the underlying Stripe SDK client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.sdk
}

// Environment reports which Stripe mode the client was initialized for.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.mode
}

// SigningSecret returns the secret used to verify webhook signatures.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

func checkKeyMode(mode, key string) error {
	var want []string
	switch mode {
	case "test":
		want = []string{"sk_test", "rk_test"}
	case "live":
		want = []string{"sk_live", "rk_live"}
	default:
		return fmt.Errorf("stripe environment must be \"test\" or \"live\", got %q", mode)
	}
	for _, prefix := range want {
		if strings.HasPrefix(key, prefix) {
			return nil
		}
	}
	return fmt.Errorf("stripe %s mode requires a key prefixed %s", mode, strings.Join(want, " or "))
}
