package payments

import (
	"context"
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
)

// EventHandler processes one verified gateway event. A returned error marks
// the event for redelivery; handlers must therefore be idempotent.
type EventHandler func(ctx context.Context, event stripe.Event) error

// Registry maps gateway event types to handlers. Unregistered types are
// acknowledged without processing so the gateway stops redelivering them.
type Registry struct {
	handlers map[string]EventHandler
}

// NewRegistry builds the default registry covering intent, subscription,
// customer and invoice events.
func NewRegistry(svc *Service) *Registry {
	r := &Registry{handlers: make(map[string]EventHandler)}

	r.Register("payment_intent.succeeded", intentHandler(svc))
	r.Register("payment_intent.payment_failed", intentHandler(svc))
	r.Register("payment_intent.canceled", intentHandler(svc))

	r.Register("customer.subscription.created", subscriptionHandler(svc, false))
	r.Register("customer.subscription.updated", subscriptionHandler(svc, false))
	r.Register("customer.subscription.deleted", subscriptionHandler(svc, true))

	r.Register("customer.created", customerHandler(svc))
	r.Register("customer.updated", customerHandler(svc))
	r.Register("customer.deleted", customerHandler(svc))

	r.Register("invoice.paid", invoicePaidHandler(svc))
	r.Register("invoice.payment_succeeded", invoicePaidHandler(svc))
	r.Register("invoice.payment_failed", invoiceFailedHandler(svc))

	r.Register("payment_method.attached", paymentMethodHandler(svc))
	r.Register("payment_method.detached", paymentMethodHandler(svc))

	return r
}

// Register binds a handler to an event type, replacing any previous binding.
func (r *Registry) Register(eventType string, h EventHandler) {
	r.handlers[eventType] = h
}

// Lookup returns the handler for an event type, or nil when unhandled.
func (r *Registry) Lookup(eventType string) EventHandler {
	return r.handlers[eventType]
}

// Handled reports whether the registry has a handler for the event type.
func (r *Registry) Handled(eventType string) bool {
	_, ok := r.handlers[eventType]
	return ok
}

func intentHandler(svc *Service) EventHandler {
	return func(ctx context.Context, event stripe.Event) error {
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return fmt.Errorf("malformed payment_intent payload: %w", err)
		}
		return svc.ApplyPaymentIntent(ctx, &intent)
	}
}

func subscriptionHandler(svc *Service, canceled bool) EventHandler {
	return func(ctx context.Context, event stripe.Event) error {
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("malformed subscription payload: %w", err)
		}
		return svc.ApplySubscription(ctx, &sub, canceled)
	}
}

func customerHandler(svc *Service) EventHandler {
	return func(ctx context.Context, event stripe.Event) error {
		var c stripe.Customer
		if err := json.Unmarshal(event.Data.Raw, &c); err != nil {
			return fmt.Errorf("malformed customer payload: %w", err)
		}
		return svc.ApplyCustomer(ctx, &c)
	}
}

func invoicePaidHandler(svc *Service) EventHandler {
	return func(ctx context.Context, event stripe.Event) error {
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("malformed invoice payload: %w", err)
		}
		return svc.ApplyInvoicePaid(ctx, &inv)
	}
}

// paymentMethodHandler records attach and detach events in the audit trail.
// Payment method details live at the gateway; nothing local is mutated.
func paymentMethodHandler(svc *Service) EventHandler {
	return func(ctx context.Context, event stripe.Event) error {
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
			return fmt.Errorf("malformed payment_method payload: %w", err)
		}
		detail := map[string]interface{}{"type": string(pm.Type)}
		if pm.Customer != nil {
			detail["customer_id"] = pm.Customer.ID
		}
		return svc.AppendAuditLog(string(event.Type), pm.ID, detail)
	}
}

func invoiceFailedHandler(svc *Service) EventHandler {
	return func(ctx context.Context, event stripe.Event) error {
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("malformed invoice payload: %w", err)
		}
		return svc.ApplyInvoiceFailed(ctx, &inv)
	}
}
