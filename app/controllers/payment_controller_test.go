package controllers

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v81"

	"github.com/payfox/payfox/app/models"
	"github.com/payfox/payfox/internal/pkg/payments"
)

func TestHandleGetPaymentConfig(t *testing.T) {
	svc := payments.NewService(nil, nil, payments.NewAmountLimits(2, 500, []string{"usd", "eur"}), nil, nil)
	InitPayments(svc, nil, "pk_test_abc")

	app := fiber.New()
	app.Get("/config", HandleGetPaymentConfig)
	resp, err := app.Test(httptest.NewRequest("GET", "/config", nil))
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		PublishableKey string   `json:"publishable_key"`
		MinAmount      float64  `json:"min_amount"`
		MaxAmount      float64  `json:"max_amount"`
		Currencies     []string `json:"currencies"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "pk_test_abc", body.PublishableKey)
	assert.Equal(t, 2.0, body.MinAmount)
	assert.Equal(t, 500.0, body.MaxAmount)
	assert.Equal(t, []string{"usd", "eur"}, body.Currencies)
}

func TestPaymentIntentResponse(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	pi := &models.PaymentIntent{
		StripeIntentID: "pi_123",
		Status:         models.PaymentIntentStatusSucceeded,
		Amount:         12.50,
		Currency:       "eur",
		PaymentType:    "one-time",
		CreatedAt:      created,
		UpdatedAt:      created,
	}

	resp := paymentIntentResponse(pi)

	assert.Equal(t, "pi_123", resp["payment_intent_id"])
	assert.Equal(t, "succeeded", resp["status"])
	assert.Equal(t, 12.50, resp["amount"])
	assert.Equal(t, "eur", resp["currency"])
	assert.Equal(t, "2025-03-01T09:30:00Z", resp["created_at"])
}

func TestOrganizationIDFromContext(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   *uint
	}{
		{name: "missing header", header: "", want: nil},
		{name: "valid id", header: "7", want: uintPtr(7)},
		{name: "not a number", header: "abc", want: nil},
		{name: "zero is ignored", header: "0", want: nil},
		{name: "negative is ignored", header: "-3", want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			var got *uint
			app.Get("/", func(c *fiber.Ctx) error {
				got = organizationIDFromContext(c)
				return c.SendStatus(fiber.StatusOK)
			})

			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("X-Organization-ID", tc.header)
			}
			_, err := app.Test(req)
			assert.NoError(t, err)

			if tc.want == nil {
				assert.Nil(t, got)
			} else {
				assert.NotNil(t, got)
				assert.Equal(t, *tc.want, *got)
			}
		})
	}
}

func TestPaymentErrorResponseStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "unknown intent", err: payments.ErrIntentNotFound, wantStatus: fiber.StatusNotFound},
		{name: "foreign intent maps to not found", err: payments.ErrIntentForbidden, wantStatus: fiber.StatusNotFound},
		{name: "connection failures are retryable", err: errors.New("dial tcp: timeout"), wantStatus: fiber.StatusBadGateway},
		{name: "declined card is not retryable", err: &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Type: stripe.ErrorTypeCard, HTTPStatusCode: 402}, wantStatus: fiber.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				return paymentErrorResponse(c, tc.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			assert.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}

func uintPtr(v uint) *uint {
	return &v
}
