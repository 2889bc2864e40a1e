package payments

import (
	"context"
	"errors"
	"net/http"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

// ErrInvalidSignature is returned when an inbound event payload fails
// signature verification, including verification timeouts (reject, do not
// guess).
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Gateway isolates every call to the payment gateway behind typed
// operations. Implementations never retry on their own and never log
// secrets; retry policy belongs to callers, because only the call site knows
// whether the operation is idempotent there.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, in CreateIntentParams) (*stripe.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error)
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, email, name string) (*stripe.Customer, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	ConstructVerifiedEvent(payload []byte, signatureHeader string) (stripe.Event, error)
}

// CreateIntentParams are the gateway-facing parameters for intent creation.
// AmountMinor is in integer minor units; callers convert via ToMinorUnits.
type CreateIntentParams struct {
	AmountMinor int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// StripeGateway implements Gateway on top of an explicitly constructed
// stripe client. The client is injected once at process start; there is no
// package-global key.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a gateway adapter from a secret key and webhook
// signing secret.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, in CreateIntentParams) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(in.AmountMinor),
		Currency: stripe.String(in.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	return g.api.PaymentIntents.New(params)
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return g.api.PaymentIntents.Get(intentID, params)
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return g.api.Customers.New(params)
}

func (g *StripeGateway) RetrieveCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	return g.api.Customers.Get(customerID, params)
}

func (g *StripeGateway) UpdateCustomer(ctx context.Context, customerID string, email, name string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	return g.api.Customers.Update(customerID, params)
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return g.api.Subscriptions.New(params)
}

func (g *StripeGateway) UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	}
	params.Context = ctx
	return g.api.Subscriptions.Update(subscriptionID, params)
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	return g.api.Subscriptions.Cancel(subscriptionID, params)
}

func (g *StripeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	params.Context = ctx
	var methods []*stripe.PaymentMethod
	it := g.api.PaymentMethods.List(params)
	for it.Next() {
		methods = append(methods, it.PaymentMethod())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return methods, nil
}

func (g *StripeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	_, err := g.api.PaymentMethods.Detach(paymentMethodID, params)
	return err
}

// ConstructVerifiedEvent verifies the payload signature and parses the event.
// Any verification failure maps to ErrInvalidSignature; forged payloads must
// never reach the event log.
func (g *StripeGateway) ConstructVerifiedEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, ErrInvalidSignature
	}
	return event, nil
}

// IsRetryable reports whether a gateway error is transient (network failure,
// rate limit, gateway-side 5xx) and therefore safe for the caller to retry.
// Validation errors are permanent and must not be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		if stripeErr.HTTPStatusCode >= 500 {
			return true
		}
		return stripeErr.Type == stripe.ErrorTypeAPI
	}
	// Non-stripe errors are connection level failures.
	return true
}
