package config

import (
	"strings"
	"testing"
	"time"

	"github.com/payfox/payfox/internal/pkg/env"
)

func withEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	old := env.Env
	env.Env = vars
	t.Cleanup(func() { env.Env = old })
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"STRIPE_SECRET_KEY":      "sk_test_123",
		"STRIPE_PUBLISHABLE_KEY": "pk_test_123",
		"STRIPE_WEBHOOK_SECRET":  "whsec_123",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StripePublishableKey != "pk_test_123" {
		t.Fatalf("publishable key not loaded: %q", cfg.StripePublishableKey)
	}
	if cfg.PaymentMinAmount != 1.00 || cfg.PaymentMaxAmount != 10000.00 {
		t.Fatalf("unexpected default bounds %v..%v", cfg.PaymentMinAmount, cfg.PaymentMaxAmount)
	}
	if cfg.ReplayHorizon != 24*time.Hour {
		t.Fatalf("unexpected default replay horizon %v", cfg.ReplayHorizon)
	}
	if cfg.MaxReplayAttempts != 5 {
		t.Fatalf("unexpected default replay attempts %d", cfg.MaxReplayAttempts)
	}
	if cfg.AuditExportEnabled {
		t.Fatalf("audit export must be off without a bucket")
	}

	limits := cfg.AmountLimits()
	if err := limits.ValidateCurrency("usd"); err != nil {
		t.Fatalf("default currency list must include usd: %v", err)
	}
}

func TestLoadAggregatesAllFailures(t *testing.T) {
	withEnv(t, map[string]string{
		"PAYMENT_MIN_AMOUNT":   "not-a-number",
		"RECONCILE_INTERVAL":   "often",
		"RECONCILE_BATCH_SIZE": "-3",
	})

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	msg := err.Error()
	for _, want := range []string{
		"STRIPE_SECRET_KEY",
		"STRIPE_PUBLISHABLE_KEY",
		"STRIPE_WEBHOOK_SECRET",
		"PAYMENT_MIN_AMOUNT",
		"RECONCILE_INTERVAL",
		"RECONCILE_BATCH_SIZE",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in aggregated error, got: %s", want, msg)
		}
	}
}

func TestLoadRejectsInvertedBounds(t *testing.T) {
	withEnv(t, map[string]string{
		"STRIPE_SECRET_KEY":      "sk_test_123",
		"STRIPE_PUBLISHABLE_KEY": "pk_test_123",
		"STRIPE_WEBHOOK_SECRET":  "whsec_123",
		"PAYMENT_MIN_AMOUNT":     "500",
		"PAYMENT_MAX_AMOUNT":     "100",
	})

	if _, err := Load(); err == nil {
		t.Fatalf("expected inverted bounds to fail validation")
	}
}

func TestLoadParsesCurrencies(t *testing.T) {
	withEnv(t, map[string]string{
		"STRIPE_SECRET_KEY":      "sk_test_123",
		"STRIPE_PUBLISHABLE_KEY": "pk_test_123",
		"STRIPE_WEBHOOK_SECRET":  "whsec_123",
		"PAYMENT_CURRENCIES":     "USD, eur ,chf",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.PaymentCurrencies) != 3 || cfg.PaymentCurrencies[0] != "usd" || cfg.PaymentCurrencies[2] != "chf" {
		t.Fatalf("unexpected currencies %v", cfg.PaymentCurrencies)
	}
}
