package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/payfox/payfox/internal/pkg/env"
	"github.com/payfox/payfox/internal/pkg/payments"
)

// Config carries every runtime setting the process needs. Load validates all
// of it up front so a misconfigured deployment fails at startup, not on the
// first payment.
type Config struct {
	AppEnv  string
	AppPort string

	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string

	PaymentMinAmount  float64
	PaymentMaxAmount  float64
	PaymentCurrencies []string

	ReconcileInterval   time.Duration
	ReplayHorizon       time.Duration
	MaxReplayAttempts   int
	PendingIntentMaxAge time.Duration
	ReconcileBatchSize  int
	AuditExportBucket   string
	AuditExportEnabled  bool
}

// Load reads and validates the configuration. All validation failures are
// reported together instead of one at a time.
func Load() (*Config, error) {
	var errs *multierror.Error

	cfg := &Config{
		AppEnv:  env.GetEnv("APP_ENV", "prod"),
		AppPort: env.GetEnv("APP_PORT", "8080"),

		StripeSecretKey:      strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		StripePublishableKey: strings.TrimSpace(env.GetEnv("STRIPE_PUBLISHABLE_KEY", "")),
		StripeWebhookSecret:  strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),

		AuditExportBucket: strings.TrimSpace(env.GetEnv("AUDIT_EXPORT_S3_BUCKET", "")),
	}
	cfg.AuditExportEnabled = cfg.AuditExportBucket != ""

	if cfg.StripeSecretKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("STRIPE_SECRET_KEY is required"))
	}
	if cfg.StripePublishableKey == "" {
		errs = multierror.Append(errs, fmt.Errorf("STRIPE_PUBLISHABLE_KEY is required"))
	}
	if cfg.StripeWebhookSecret == "" {
		errs = multierror.Append(errs, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required"))
	}

	cfg.PaymentMinAmount = parseFloat(&errs, "PAYMENT_MIN_AMOUNT", payments.DefaultMinAmount)
	cfg.PaymentMaxAmount = parseFloat(&errs, "PAYMENT_MAX_AMOUNT", payments.DefaultMaxAmount)
	if cfg.PaymentMinAmount > 0 && cfg.PaymentMaxAmount > 0 && cfg.PaymentMinAmount > cfg.PaymentMaxAmount {
		errs = multierror.Append(errs, fmt.Errorf("PAYMENT_MIN_AMOUNT (%v) exceeds PAYMENT_MAX_AMOUNT (%v)", cfg.PaymentMinAmount, cfg.PaymentMaxAmount))
	}

	if raw := env.GetEnv("PAYMENT_CURRENCIES", ""); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" {
				cfg.PaymentCurrencies = append(cfg.PaymentCurrencies, c)
			}
		}
		if len(cfg.PaymentCurrencies) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("PAYMENT_CURRENCIES is set but contains no currency codes"))
		}
	}

	cfg.ReconcileInterval = parseDuration(&errs, "RECONCILE_INTERVAL", time.Hour)
	cfg.ReplayHorizon = parseDuration(&errs, "WEBHOOK_REPLAY_HORIZON", 24*time.Hour)
	cfg.PendingIntentMaxAge = parseDuration(&errs, "PENDING_INTENT_MAX_AGE", time.Hour)
	cfg.MaxReplayAttempts = parseInt(&errs, "WEBHOOK_MAX_REPLAY_ATTEMPTS", 5)
	cfg.ReconcileBatchSize = parseInt(&errs, "RECONCILE_BATCH_SIZE", 100)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AmountLimits builds the contribution bounds from the configuration.
func (c *Config) AmountLimits() payments.AmountLimits {
	return payments.NewAmountLimits(c.PaymentMinAmount, c.PaymentMaxAmount, c.PaymentCurrencies)
}

func parseFloat(errs **multierror.Error, key string, def float64) float64 {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %q is not a number", key, raw))
		return def
	}
	return v
}

func parseInt(errs **multierror.Error, key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %q is not a positive integer", key, raw))
		return def
	}
	return v
}

func parseDuration(errs **multierror.Error, key string, def time.Duration) time.Duration {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %q is not a positive duration", key, raw))
		return def
	}
	return v
}
