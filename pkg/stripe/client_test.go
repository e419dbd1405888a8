package stripe

import (
	"context"
	"testing"

	"github.com/dreamsuncharted/funding-backend/pkg/config"
)

func TestNewClientValidatesKeyAgainstEnv(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_live_abc", Secret: "whsec_x", Env: "test"}, nil)
	if err == nil {
		t.Fatal("expected live key in test env to fail")
	}

	c, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_x", Env: "test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Environment() != "test" {
		t.Fatalf("unexpected env %q", c.Environment())
	}
	if c.SigningSecret() != "whsec_x" {
		t.Fatalf("unexpected signing secret %q", c.SigningSecret())
	}
}

func TestNewClientRequiresSecrets(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.StripeConfig{Secret: "whsec_x"}, nil); err == nil {
		t.Fatal("expected missing api key error")
	}
	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc"}, nil); err == nil {
		t.Fatal("expected missing webhook secret error")
	}
	if _, err := NewClient(ctx, config.StripeConfig{APIKey: "sk_test_abc", Secret: "whsec_x", Env: "staging"}, nil); err == nil {
		t.Fatal("expected invalid env error")
	}
}
