package payments

import (
	"context"
	"testing"

	stripe "github.com/stripe/stripe-go/v81"
)

func TestRegistryCoversReconciledEventTypes(t *testing.T) {
	svc, _, _, _ := newTestService()
	r := NewRegistry(svc)

	handled := []string{
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled",
		"customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.created",
		"customer.updated",
		"customer.deleted",
		"invoice.paid",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"payment_method.attached",
		"payment_method.detached",
	}
	for _, et := range handled {
		if !r.Handled(et) {
			t.Fatalf("expected handler for %q", et)
		}
	}
	if r.Handled("charge.refunded") {
		t.Fatalf("charge.refunded should be unhandled")
	}
}

func TestPaymentMethodEventsAppendAuditOnly(t *testing.T) {
	svc, repo, _, _ := newTestService()
	r := NewRegistry(svc)

	for _, et := range []string{"payment_method.attached", "payment_method.detached"} {
		event := stripe.Event{
			Type: stripe.EventType(et),
			Data: &stripe.EventData{Raw: []byte(`{"id":"pm_1","type":"card","customer":{"id":"cus_1"}}`)},
		}
		if err := r.Lookup(et)(context.Background(), event); err != nil {
			t.Fatalf("%s: %v", et, err)
		}
		if repo.auditCount(et) != 1 {
			t.Fatalf("%s: expected one audit row", et)
		}
	}
	if len(repo.intents) != 0 || len(repo.subscriptions) != 0 || len(repo.customers) != 0 {
		t.Fatalf("payment method events must not mutate reconciled tables")
	}
}

func TestRegistryRegisterOverrides(t *testing.T) {
	svc, _, _, _ := newTestService()
	r := NewRegistry(svc)

	called := false
	r.Register("payment_intent.succeeded", func(ctx context.Context, event stripe.Event) error {
		called = true
		return nil
	})
	if err := r.Lookup("payment_intent.succeeded")(context.Background(), stripe.Event{}); err != nil {
		t.Fatalf("override handler failed: %v", err)
	}
	if !called {
		t.Fatalf("expected override handler to run")
	}
}

func TestHandlersRejectMalformedPayloads(t *testing.T) {
	svc, _, _, _ := newTestService()
	r := NewRegistry(svc)
	bad := stripe.Event{Data: &stripe.EventData{Raw: []byte(`{"id":`)}}

	for _, et := range []string{
		"payment_intent.succeeded",
		"customer.subscription.updated",
		"customer.updated",
		"invoice.paid",
		"invoice.payment_failed",
		"payment_method.attached",
	} {
		bad.Type = stripe.EventType(et)
		if err := r.Lookup(et)(context.Background(), bad); err == nil {
			t.Fatalf("%s: expected error for malformed payload", et)
		}
	}
}
