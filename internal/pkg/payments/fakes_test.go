package payments

import (
	"context"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"gorm.io/gorm"

	"github.com/payfox/payfox/app/models"
)

// fakeRepository is an in-memory Repository that mirrors the storage-layer
// guards (status rank, period monotonicity, canceled-terminal) so service
// semantics can be tested without a database.
type fakeRepository struct {
	mu            sync.Mutex
	intents       map[string]*models.PaymentIntent
	subscriptions map[string]*models.Subscription
	customers     map[string]*models.Customer
	events        map[string]*models.WebhookEvent
	eventsByID    map[uint]*models.WebhookEvent
	auditLog      []models.PaymentAuditLog
	nextID        uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		intents:       make(map[string]*models.PaymentIntent),
		subscriptions: make(map[string]*models.Subscription),
		customers:     make(map[string]*models.Customer),
		events:        make(map[string]*models.WebhookEvent),
		eventsByID:    make(map[uint]*models.WebhookEvent),
	}
}

func (f *fakeRepository) UpsertPaymentIntent(pi *models.PaymentIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.intents[pi.StripeIntentID]
	if !ok {
		f.nextID++
		cp := *pi
		cp.ID = f.nextID
		f.intents[pi.StripeIntentID] = &cp
		*pi = cp
		return nil
	}
	if models.PaymentIntentStatusRank(stored.Status) <= models.PaymentIntentStatusRank(pi.Status) {
		stored.Status = pi.Status
		stored.Amount = pi.Amount
		stored.Currency = pi.Currency
		stored.StripeCustomer = pi.StripeCustomer
		stored.ErrorMessage = pi.ErrorMessage
		if pi.UserID != 0 {
			stored.UserID = pi.UserID
		}
		if pi.OrganizationID != nil {
			stored.OrganizationID = pi.OrganizationID
		}
		if pi.MetadataJSON != "" {
			stored.MetadataJSON = pi.MetadataJSON
		}
	}
	*pi = *stored
	return nil
}

func (f *fakeRepository) UpsertSubscription(sub SubscriptionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.subscriptions[sub.StripeSubscriptionID]
	if !ok {
		f.nextID++
		stored = &models.Subscription{
			ID:                   f.nextID,
			StripeSubscriptionID: sub.StripeSubscriptionID,
			Status:               sub.Status,
		}
		f.subscriptions[sub.StripeSubscriptionID] = stored
	}
	if stored.Status == models.SubscriptionStatusCanceled {
		return nil
	}
	if sub.CurrentPeriodEnd != nil {
		if stored.CurrentPeriodEnd != nil && stored.CurrentPeriodEnd.After(*sub.CurrentPeriodEnd) {
			return nil
		}
		stored.CurrentPeriodStart = sub.CurrentPeriodStart
		stored.CurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	stored.Status = sub.Status
	if sub.StripeCustomerID != "" {
		stored.StripeCustomerID = sub.StripeCustomerID
	}
	if sub.UserID != 0 {
		stored.UserID = sub.UserID
	}
	if sub.MetadataJSON != "" {
		stored.MetadataJSON = sub.MetadataJSON
	}
	if sub.CanceledAt != nil {
		stored.CanceledAt = sub.CanceledAt
	}
	return nil
}

func (f *fakeRepository) UpdateSubscriptionMetadata(id, metadataJSON string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.subscriptions[id]; ok {
		stored.MetadataJSON = metadataJSON
	}
	return nil
}

func (f *fakeRepository) RecordInvoicePaid(subID, invoiceID string, periodStart, periodEnd *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.ensureSub(subID)
	if stored.Status == models.SubscriptionStatusCanceled {
		return nil
	}
	if periodEnd != nil {
		if stored.CurrentPeriodEnd != nil && stored.CurrentPeriodEnd.After(*periodEnd) {
			return nil
		}
		stored.CurrentPeriodStart = periodStart
		stored.CurrentPeriodEnd = periodEnd
	}
	stored.FailedAttempts = 0
	stored.LastInvoiceID = invoiceID
	return nil
}

func (f *fakeRepository) RecordInvoiceFailed(subID, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.ensureSub(subID)
	if stored.Status == models.SubscriptionStatusCanceled || stored.LastFailedInvoiceID == invoiceID {
		return nil
	}
	stored.FailedAttempts++
	stored.LastFailedInvoiceID = invoiceID
	return nil
}

func (f *fakeRepository) ensureSub(subID string) *models.Subscription {
	stored, ok := f.subscriptions[subID]
	if !ok {
		f.nextID++
		stored = &models.Subscription{
			ID:                   f.nextID,
			StripeSubscriptionID: subID,
			Status:               models.SubscriptionStatusIncomplete,
		}
		f.subscriptions[subID] = stored
	}
	return stored
}

func (f *fakeRepository) UpsertCustomer(c CustomerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.customers[c.StripeCustomerID]
	if !ok {
		f.nextID++
		stored = &models.Customer{ID: f.nextID, StripeCustomerID: c.StripeCustomerID}
		f.customers[c.StripeCustomerID] = stored
	}
	stored.Email = c.Email
	stored.Name = c.Name
	stored.MetadataJSON = c.MetadataJSON
	if c.UserID != 0 {
		stored.UserID = c.UserID
	}
	return nil
}

func (f *fakeRepository) GetPaymentIntentByStripeID(id string) (*models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.intents[id]; ok {
		cp := *stored
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListPaymentIntentsByUser(userID uint, offset, limit int) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentIntent
	for _, pi := range f.intents {
		if pi.UserID == userID {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListPaymentIntentsByOrganization(orgID uint, offset, limit int) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentIntent
	for _, pi := range f.intents {
		if pi.OrganizationID != nil && *pi.OrganizationID == orgID {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListPendingIntentsOlderThan(cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentIntent
	for _, pi := range f.intents {
		if pi.Status == models.PaymentIntentStatusPending && pi.CreatedAt.Before(cutoff) {
			out = append(out, *pi)
		}
	}
	return out, nil
}

func (f *fakeRepository) GetSubscriptionByStripeID(id string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.subscriptions[id]; ok {
		cp := *stored
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetCustomerByStripeID(id string) (*models.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.customers[id]; ok {
		cp := *stored
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.events[event.StripeEventID]; ok {
		cp := *stored
		return false, &cp, nil
	}
	f.nextID++
	cp := *event
	cp.ID = f.nextID
	f.events[event.StripeEventID] = &cp
	f.eventsByID[cp.ID] = &cp
	out := cp
	return true, &out, nil
}

func (f *fakeRepository) MarkWebhookOutcome(id uint, outcome, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.eventsByID[id]; ok {
		now := time.Now()
		stored.Outcome = outcome
		stored.ProcessingError = processingError
		stored.ProcessedAt = &now
	}
	return nil
}

func (f *fakeRepository) GetWebhookEventByID(id uint) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.eventsByID[id]; ok {
		cp := *stored
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListFailedWebhookEvents(olderThan time.Time, maxReplays, limit int) ([]models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookEvent
	for _, e := range f.eventsByID {
		if (e.Outcome == models.WebhookOutcomeError || e.Outcome == "") && e.ReplayCount < maxReplays && e.CreatedAt.Before(olderThan) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepository) IncrementWebhookReplayCount(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if stored, ok := f.eventsByID[id]; ok {
		stored.ReplayCount++
	}
	return nil
}

func (f *fakeRepository) AppendAuditLog(entry *models.PaymentAuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLog = append(f.auditLog, *entry)
	return nil
}

func (f *fakeRepository) auditCount(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.auditLog {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// fakeDirectory answers membership from an in-memory set.
type fakeDirectory struct {
	members map[[2]uint]bool
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{members: make(map[[2]uint]bool)}
}

func (d *fakeDirectory) addMember(orgID, userID uint) {
	d.members[[2]uint{orgID, userID}] = true
}

func (d *fakeDirectory) IsMember(orgID, userID uint) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.members[[2]uint{orgID, userID}], nil
}

// fakeGateway records calls and returns canned objects.
type fakeGateway struct {
	createdIntents []CreateIntentParams
	intentToReturn *stripe.PaymentIntent
	retrieveResult *stripe.PaymentIntent
	createErr      error
	verifyEvent    stripe.Event
	verifyErr      error
}

func (g *fakeGateway) CreatePaymentIntent(ctx context.Context, in CreateIntentParams) (*stripe.PaymentIntent, error) {
	g.createdIntents = append(g.createdIntents, in)
	if g.createErr != nil {
		return nil, g.createErr
	}
	if g.intentToReturn != nil {
		return g.intentToReturn, nil
	}
	return &stripe.PaymentIntent{
		ID:           "pi_test_1",
		ClientSecret: "pi_test_1_secret",
		Amount:       in.AmountMinor,
		Currency:     stripe.Currency(in.Currency),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Metadata:     in.Metadata,
	}, nil
}

func (g *fakeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	if g.retrieveResult != nil {
		return g.retrieveResult, nil
	}
	return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: "cus_test_1", Email: email, Name: name}, nil
}

func (g *fakeGateway) RetrieveCustomer(ctx context.Context, customerID string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: customerID}, nil
}

func (g *fakeGateway) UpdateCustomer(ctx context.Context, customerID, email, name string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: customerID, Email: email, Name: name}, nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: "sub_test_1"}, nil
}

func (g *fakeGateway) UpdateSubscription(ctx context.Context, subscriptionID, priceID string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: subscriptionID}, nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: subscriptionID, Status: stripe.SubscriptionStatusCanceled}, nil
}

func (g *fakeGateway) ListPaymentMethods(ctx context.Context, customerID string) ([]*stripe.PaymentMethod, error) {
	return nil, nil
}

func (g *fakeGateway) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	return nil
}

func (g *fakeGateway) ConstructVerifiedEvent(payload []byte, signatureHeader string) (stripe.Event, error) {
	if g.verifyErr != nil {
		return stripe.Event{}, g.verifyErr
	}
	return g.verifyEvent, nil
}

// recordingNotifier captures dispatched notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []NotificationRequest
}

func (n *recordingNotifier) Dispatch(ctx context.Context, req NotificationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}
