package payments

import (
	"context"
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/payfox/payfox/app/models"
)

// IngestResult reports how an inbound delivery was settled.
type IngestResult struct {
	EventID   uint
	EventType string
	Duplicate bool
	Outcome   string
}

// Processor runs verified gateway events through the event log and the
// handler registry. Verification happens before anything is persisted;
// everything after verification is recorded, including failures.
type Processor struct {
	svc      *Service
	registry *Registry
}

// NewProcessor wires a processor from a service and its registry.
func NewProcessor(svc *Service, registry *Registry) *Processor {
	return &Processor{svc: svc, registry: registry}
}

// Ingest verifies, logs, dispatches and settles one raw delivery.
//
// The contract with the gateway's retry machinery:
//   - invalid signature: ErrInvalidSignature, nothing persisted (400)
//   - duplicate of a settled event: Duplicate=true, no handler runs (200)
//   - duplicate of an unsettled or failed event: the handler runs again,
//     so a redelivery after a crash or a handler error converges state
//   - no handler registered: outcome unhandled (200, stop redelivering)
//   - handler error: outcome error with the message stored, err returned
//     so the transport answers 5xx and the gateway redelivers
func (p *Processor) Ingest(ctx context.Context, payload []byte, signatureHeader string) (IngestResult, error) {
	event, err := p.svc.gateway.ConstructVerifiedEvent(payload, signatureHeader)
	if err != nil {
		return IngestResult{}, err
	}

	row := &models.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     string(event.Type),
		PayloadJSON:   string(payload),
	}
	created, stored, err := p.svc.repo.CreateWebhookEventIfNotExists(row)
	if err != nil {
		return IngestResult{}, err
	}
	if !created {
		// Only a settled outcome short-circuits. An empty outcome means
		// the process died between logging and settling; an error outcome
		// means the gateway is retrying a failed handler. Either way the
		// redelivery carries the same verified payload, so run it.
		if stored.Outcome == models.WebhookOutcomeProcessed || stored.Outcome == models.WebhookOutcomeUnhandled {
			return IngestResult{EventID: stored.ID, EventType: stored.EventType, Duplicate: true, Outcome: stored.Outcome}, nil
		}
		outcome, handleErr := p.dispatch(ctx, event)
		if err := p.svc.repo.MarkWebhookOutcome(stored.ID, outcome, errString(handleErr)); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{EventID: stored.ID, EventType: stored.EventType, Duplicate: true, Outcome: outcome}, handleErr
	}

	if err := p.svc.AppendAuditLog("webhook.received", event.ID, map[string]interface{}{
		"event_type": string(event.Type),
	}); err != nil {
		return IngestResult{}, err
	}

	outcome, handleErr := p.dispatch(ctx, event)
	if err := p.svc.repo.MarkWebhookOutcome(stored.ID, outcome, errString(handleErr)); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{EventID: stored.ID, EventType: string(event.Type), Outcome: outcome}, handleErr
}

// Replay re-runs the handler for an already-logged event. Used by the admin
// replay endpoint and the dead-letter sweep; handlers are idempotent so a
// replay of a processed event is harmless.
func (p *Processor) Replay(ctx context.Context, eventID uint) (IngestResult, error) {
	stored, err := p.svc.repo.GetWebhookEventByID(eventID)
	if err != nil {
		return IngestResult{}, err
	}

	var event stripe.Event
	if err := json.Unmarshal([]byte(stored.PayloadJSON), &event); err != nil {
		return IngestResult{}, fmt.Errorf("stored payload unreadable: %w", err)
	}
	if event.ID == "" {
		event.ID = stored.StripeEventID
	}
	if event.Type == "" {
		event.Type = stripe.EventType(stored.EventType)
	}

	if err := p.svc.repo.IncrementWebhookReplayCount(stored.ID); err != nil {
		return IngestResult{}, err
	}
	if err := p.svc.AppendAuditLog("webhook.replayed", stored.StripeEventID, map[string]interface{}{
		"event_type": stored.EventType,
	}); err != nil {
		return IngestResult{}, err
	}

	outcome, handleErr := p.dispatch(ctx, event)
	if err := p.svc.repo.MarkWebhookOutcome(stored.ID, outcome, errString(handleErr)); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{EventID: stored.ID, EventType: stored.EventType, Outcome: outcome}, handleErr
}

// dispatch runs the registered handler, converting a handler panic into an
// error outcome so one poisoned payload cannot take the worker down.
func (p *Processor) dispatch(ctx context.Context, event stripe.Event) (outcome string, err error) {
	handler := p.registry.Lookup(string(event.Type))
	if handler == nil {
		return models.WebhookOutcomeUnhandled, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			outcome = models.WebhookOutcomeError
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	if err = handler(ctx, event); err != nil {
		return models.WebhookOutcomeError, err
	}
	return models.WebhookOutcomeProcessed, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
