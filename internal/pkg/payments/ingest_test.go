package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	stripe "github.com/stripe/stripe-go/v81"

	"github.com/payfox/payfox/app/models"
)

func signedEvent(t *testing.T, id, eventType string, object interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal object: %v", err)
	}
	return stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func newTestProcessor() (*Processor, *fakeRepository, *fakeGateway, *recordingNotifier) {
	svc, repo, gateway, notifier := newTestService()
	return NewProcessor(svc, NewRegistry(svc)), repo, gateway, notifier
}

func TestIngestRejectsInvalidSignature(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()
	gateway.verifyErr = ErrInvalidSignature

	_, err := p.Ingest(context.Background(), []byte(`{}`), "bad-sig")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(repo.events) != 0 || len(repo.auditLog) != 0 {
		t.Fatalf("a rejected delivery must leave no trace")
	}
}

func TestIngestProcessesIntentEvent(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()
	gateway.verifyEvent = signedEvent(t, "evt_1", "payment_intent.succeeded", stripe.PaymentIntent{
		ID: "pi_1", Amount: 1000, Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{MetaKeyUserID: "42"},
	})

	res, err := p.Ingest(context.Background(), []byte(`{"payload":true}`), "sig")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Outcome != models.WebhookOutcomeProcessed || res.Duplicate {
		t.Fatalf("unexpected result %+v", res)
	}

	stored, err := repo.GetPaymentIntentByStripeID("pi_1")
	if err != nil || stored.Status != models.PaymentIntentStatusSucceeded {
		t.Fatalf("intent not converged: %v %+v", err, stored)
	}
	if repo.auditCount("webhook.received") != 1 {
		t.Fatalf("expected one webhook.received audit row")
	}
	event := repo.events["evt_1"]
	if event == nil || event.Outcome != models.WebhookOutcomeProcessed || event.ProcessedAt == nil {
		t.Fatalf("event log not settled: %+v", event)
	}
}

func TestIngestDeduplicatesByEventID(t *testing.T) {
	p, repo, gateway, notifier := newTestProcessor()
	gateway.verifyEvent = signedEvent(t, "evt_dup", "payment_intent.succeeded", stripe.PaymentIntent{
		ID: "pi_dup", Amount: 1000, Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{MetaKeyUserID: "42"},
	})

	if _, err := p.Ingest(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	res, err := p.Ingest(context.Background(), []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate || res.Outcome != models.WebhookOutcomeProcessed {
		t.Fatalf("expected duplicate short-circuit, got %+v", res)
	}
	// The first delivery settled as processed, so the handler must not run again.
	if got := notifier.kinds(); len(got) != 1 {
		t.Fatalf("redelivery re-ran the handler: %v", got)
	}
	if repo.auditCount("webhook.received") != 1 {
		t.Fatalf("redelivery must not add audit rows")
	}
}

func TestIngestRedeliveryOfUnsettledEventRunsHandler(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()

	// Simulate a crash between logging and settling: the row exists with
	// no outcome when the gateway redelivers.
	created, seeded, err := repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		StripeEventID: "evt_crash",
		EventType:     "payment_intent.succeeded",
		PayloadJSON:   `{}`,
	})
	if err != nil || !created {
		t.Fatalf("seed event: %v", err)
	}

	gateway.verifyEvent = signedEvent(t, "evt_crash", "payment_intent.succeeded", stripe.PaymentIntent{
		ID: "pi_crash", Amount: 1000, Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{MetaKeyUserID: "42"},
	})
	res, err := p.Ingest(context.Background(), []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate || res.Outcome != models.WebhookOutcomeProcessed {
		t.Fatalf("redelivery of an unsettled event must run the handler, got %+v", res)
	}

	pi, err := repo.GetPaymentIntentByStripeID("pi_crash")
	if err != nil || pi.Status != models.PaymentIntentStatusSucceeded {
		t.Fatalf("redelivery did not converge the intent: %v %+v", err, pi)
	}
	event, _ := repo.GetWebhookEventByID(seeded.ID)
	if event.Outcome != models.WebhookOutcomeProcessed || event.ProcessedAt == nil {
		t.Fatalf("event log not settled: %+v", event)
	}
}

func TestIngestRedeliveryAfterHandlerErrorRetries(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()

	// First delivery fails in the handler: the gateway sees a 5xx and
	// redelivers the same event id.
	gateway.verifyEvent = stripe.Event{
		ID:   "evt_retry",
		Type: "payment_intent.succeeded",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":`)},
	}
	if _, err := p.Ingest(context.Background(), []byte(`{}`), "sig"); err == nil {
		t.Fatalf("expected first delivery to fail")
	}

	gateway.verifyEvent = signedEvent(t, "evt_retry", "payment_intent.succeeded", stripe.PaymentIntent{
		ID: "pi_retry", Amount: 1000, Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{MetaKeyUserID: "42"},
	})
	res, err := p.Ingest(context.Background(), []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !res.Duplicate || res.Outcome != models.WebhookOutcomeProcessed {
		t.Fatalf("redelivery after an error must re-run the handler, got %+v", res)
	}

	pi, err := repo.GetPaymentIntentByStripeID("pi_retry")
	if err != nil || pi.Status != models.PaymentIntentStatusSucceeded {
		t.Fatalf("retry did not converge the intent: %v %+v", err, pi)
	}
	event := repo.events["evt_retry"]
	if event.Outcome != models.WebhookOutcomeProcessed || event.ProcessingError != "" {
		t.Fatalf("error outcome not cleared after retry: %+v", event)
	}
	if repo.auditCount("webhook.received") != 1 {
		t.Fatalf("redelivery must not add audit rows")
	}
}

func TestIngestUnhandledEventType(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()
	gateway.verifyEvent = signedEvent(t, "evt_odd", "charge.refunded", map[string]string{"id": "ch_1"})

	res, err := p.Ingest(context.Background(), []byte(`{}`), "sig")
	if err != nil {
		t.Fatalf("unhandled types must be acknowledged: %v", err)
	}
	if res.Outcome != models.WebhookOutcomeUnhandled {
		t.Fatalf("expected unhandled outcome, got %+v", res)
	}
	if repo.events["evt_odd"] == nil {
		t.Fatalf("unhandled events are still logged")
	}
}

func TestIngestHandlerErrorReturnsError(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()
	// Malformed raw payload makes the intent handler fail.
	gateway.verifyEvent = stripe.Event{
		ID:   "evt_bad",
		Type: "payment_intent.succeeded",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id":`)},
	}

	res, err := p.Ingest(context.Background(), []byte(`{}`), "sig")
	if err == nil {
		t.Fatalf("expected handler error to surface for redelivery")
	}
	if res.Outcome != models.WebhookOutcomeError {
		t.Fatalf("expected error outcome, got %+v", res)
	}
	event := repo.events["evt_bad"]
	if event == nil || event.ProcessingError == "" {
		t.Fatalf("error message not stored: %+v", event)
	}
}

func TestIngestRecoversHandlerPanic(t *testing.T) {
	svc, repo, gateway, _ := newTestService()
	registry := NewRegistry(svc)
	registry.Register("payment_intent.succeeded", func(ctx context.Context, event stripe.Event) error {
		panic("boom")
	})
	p := NewProcessor(svc, registry)
	gateway.verifyEvent = signedEvent(t, "evt_panic", "payment_intent.succeeded", stripe.PaymentIntent{ID: "pi_x"})

	res, err := p.Ingest(context.Background(), []byte(`{}`), "sig")
	if err == nil {
		t.Fatalf("expected panic to convert into an error")
	}
	if res.Outcome != models.WebhookOutcomeError {
		t.Fatalf("expected error outcome, got %+v", res)
	}
	if event := repo.events["evt_panic"]; event == nil || event.ProcessingError == "" {
		t.Fatalf("panic message not stored")
	}
}

func TestReplayFailedEvent(t *testing.T) {
	p, repo, gateway, _ := newTestProcessor()

	intentJSON, _ := json.Marshal(stripe.PaymentIntent{
		ID: "pi_rp", Amount: 1000, Currency: "usd",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{MetaKeyUserID: "42"},
	})
	payload, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_rp",
		"type": "payment_intent.succeeded",
		"data": map[string]interface{}{"object": json.RawMessage(intentJSON)},
	})

	created, stored, err := repo.CreateWebhookEventIfNotExists(&models.WebhookEvent{
		StripeEventID: "evt_rp",
		EventType:     "payment_intent.succeeded",
		PayloadJSON:   string(payload),
	})
	if err != nil || !created {
		t.Fatalf("seed event: %v", err)
	}
	repo.MarkWebhookOutcome(stored.ID, models.WebhookOutcomeError, "transient failure")
	_ = gateway

	res, err := p.Replay(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Outcome != models.WebhookOutcomeProcessed {
		t.Fatalf("expected processed after replay, got %+v", res)
	}

	event, _ := repo.GetWebhookEventByID(stored.ID)
	if event.ReplayCount != 1 {
		t.Fatalf("expected replay count 1, got %d", event.ReplayCount)
	}
	if event.Outcome != models.WebhookOutcomeProcessed || event.ProcessingError != "" {
		t.Fatalf("outcome not settled after replay: %+v", event)
	}

	pi, err := repo.GetPaymentIntentByStripeID("pi_rp")
	if err != nil || pi.Status != models.PaymentIntentStatusSucceeded {
		t.Fatalf("replay did not converge the intent: %v %+v", err, pi)
	}
	if repo.auditCount("webhook.replayed") != 1 {
		t.Fatalf("expected one webhook.replayed audit row")
	}
}
