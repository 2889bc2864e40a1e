package controllers

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/payfox/payfox/app/models"
	"github.com/payfox/payfox/internal/pkg/payments"
	"github.com/payfox/payfox/internal/pkg/usercontext"
)

var (
	paymentService       *payments.Service
	paymentProcessor     *payments.Processor
	stripePublishableKey string
	paymentsInitOnce     sync.Once
)

// InitPayments wires the payment service, webhook processor and publishable
// key into the controller layer. Must be called once before the router is
// mounted.
func InitPayments(svc *payments.Service, processor *payments.Processor, publishableKey string) {
	paymentsInitOnce.Do(func() {
		paymentService = svc
		paymentProcessor = processor
		stripePublishableKey = publishableKey
	})
}

// HandleGetPaymentConfig returns what a client needs before starting a
// payment: the publishable key for browser-side confirmation and the
// accepted amount bounds and currencies.
func HandleGetPaymentConfig(c *fiber.Ctx) error {
	limits := paymentService.Limits()
	return c.JSON(fiber.Map{
		"publishable_key": stripePublishableKey,
		"min_amount":      limits.Min,
		"max_amount":      limits.Max,
		"currencies":      limits.Currencies,
	})
}

type createPaymentRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// HandleCreatePaymentIntent creates a one-time contribution intent for the
// authenticated user and returns the client secret for browser-side
// confirmation.
func HandleCreatePaymentIntent(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req createPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	in := payments.CreateContributionInput{
		Amount:   req.Amount,
		Currency: req.Currency,
		UserID:   userCtx.UserID,
		UserType: userCtx.UserType,
	}
	if orgID := organizationIDFromContext(c); orgID != nil {
		in.OrganizationID = orgID
		in.UserType = models.USER_TYPE_ORGANIZATION
	}

	result, err := paymentService.CreateContribution(c.UserContext(), in)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrAmountNotANumber),
			errors.Is(err, payments.ErrAmountBelowMinimum),
			errors.Is(err, payments.ErrAmountAboveMaximum),
			errors.Is(err, payments.ErrCurrencyUnsupported):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
		case errors.Is(err, payments.ErrOrganizationForbidden):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "You are not a member of this organization"})
		}
		if payments.IsRetryable(err) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment provider unavailable, please retry"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Payment could not be created"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_intent_id": result.PaymentIntentID,
		"client_secret":     result.ClientSecret,
	})
}

// HandleConfirmPaymentIntent converges the local record to the gateway state
// after the client finished (or abandoned) confirmation.
func HandleConfirmPaymentIntent(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	intentID := c.Params("id")
	pi, err := paymentService.ConfirmContribution(c.UserContext(), userCtx.UserID, intentID)
	if err != nil {
		return paymentErrorResponse(c, err)
	}
	return c.JSON(paymentIntentResponse(pi))
}

// HandleGetPaymentIntent returns one payment of the authenticated user.
func HandleGetPaymentIntent(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	pi, err := paymentService.GetContribution(c.UserContext(), userCtx.UserID, c.Params("id"))
	if err != nil {
		return paymentErrorResponse(c, err)
	}
	return c.JSON(paymentIntentResponse(pi))
}

// HandleListPayments returns the authenticated user's payment history.
func HandleListPayments(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 25)
	intents, err := paymentService.ListContributions(c.UserContext(), userCtx.UserID, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load payments"})
	}

	items := make([]fiber.Map, 0, len(intents))
	for i := range intents {
		items = append(items, paymentIntentResponse(&intents[i]))
	}
	return c.JSON(fiber.Map{"payments": items, "offset": offset, "limit": limit})
}

// HandleGetSubscription returns one recurring contribution of the
// authenticated user.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	sub, err := paymentService.GetSubscription(c.UserContext(), userCtx.UserID, c.Params("id"))
	if err != nil {
		return paymentErrorResponse(c, err)
	}

	resp := fiber.Map{
		"subscription_id": sub.StripeSubscriptionID,
		"status":          sub.Status,
		"failed_attempts": sub.FailedAttempts,
		"created_at":      sub.CreatedAt.UTC().Format(time.RFC3339),
	}
	if sub.CurrentPeriodStart != nil {
		resp["current_period_start"] = sub.CurrentPeriodStart.UTC().Format(time.RFC3339)
	}
	if sub.CurrentPeriodEnd != nil {
		resp["current_period_end"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	if sub.CanceledAt != nil {
		resp["canceled_at"] = sub.CanceledAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(resp)
}

func paymentErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, payments.ErrIntentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment not found"})
	case errors.Is(err, payments.ErrIntentForbidden):
		// Resource existence is not leaked across users.
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Payment not found"})
	}
	if payments.IsRetryable(err) {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable", "message": "Payment provider unavailable, please retry"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Payment lookup failed"})
}

func paymentIntentResponse(pi *models.PaymentIntent) fiber.Map {
	return fiber.Map{
		"payment_intent_id": pi.StripeIntentID,
		"status":            pi.Status,
		"amount":            pi.Amount,
		"currency":          pi.Currency,
		"payment_type":      pi.PaymentType,
		"error_message":     pi.ErrorMessage,
		"created_at":        pi.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":        pi.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// organizationIDFromContext resolves an optional organization attribution
// from the X-Organization-ID header.
func organizationIDFromContext(c *fiber.Ctx) *uint {
	raw := c.Get("X-Organization-ID")
	if raw == "" {
		return nil
	}
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || parsed == 0 {
		return nil
	}
	orgID := uint(parsed)
	return &orgID
}
