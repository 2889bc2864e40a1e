package controllers

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/payfox/payfox/app/models"
	"github.com/payfox/payfox/internal/pkg/payments"
	"github.com/payfox/payfox/internal/pkg/usercontext"
)

// HandleStripeWebhook receives gateway event deliveries.
//
// Response codes steer the gateway's redelivery machinery: 400 for a failed
// signature (nothing persisted), 200 for duplicates and unhandled types, and
// 500 for handler failures so the event is delivered again.
func HandleStripeWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	signature := c.Get("Stripe-Signature")

	res, err := paymentProcessor.Ingest(c.UserContext(), payload, signature)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		}
		log.Printf("webhook %s (%s) failed: %v", res.EventType, c.IP(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed", "message": "Event processing failed, delivery will be retried"})
	}

	if res.Duplicate {
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}
	return c.JSON(fiber.Map{"received": true, "outcome": res.Outcome})
}

// HandleReplayWebhookEvent re-runs processing for a logged event. Admin only.
func HandleReplayWebhookEvent(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn || !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}

	eventID, err := c.ParamsInt("id")
	if err != nil || eventID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid event id"})
	}

	res, err := paymentProcessor.Replay(c.UserContext(), uint(eventID))
	if err != nil {
		if res.Outcome == models.WebhookOutcomeError {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "replay_failed", "message": err.Error()})
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Webhook event not found"})
	}
	return c.JSON(fiber.Map{"event_id": res.EventID, "event_type": res.EventType, "outcome": res.Outcome})
}

// HandleListFailedWebhookEvents lists dead-lettered events for inspection.
// Admin only.
func HandleListFailedWebhookEvents(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn || !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access required"})
	}

	// Listing is unfiltered by age or replay budget; pass permissive bounds.
	events, err := paymentService.Repo().ListFailedWebhookEvents(time.Now(), c.QueryInt("max_replays", 1000), c.QueryInt("limit", 50))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load events"})
	}

	items := make([]fiber.Map, 0, len(events))
	for _, e := range events {
		items = append(items, fiber.Map{
			"id":               e.ID,
			"stripe_event_id":  e.StripeEventID,
			"event_type":       e.EventType,
			"outcome":          e.Outcome,
			"processing_error": e.ProcessingError,
			"replay_count":     e.ReplayCount,
			"created_at":       e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"events": items})
}
