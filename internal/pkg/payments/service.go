package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"gorm.io/gorm"

	"github.com/payfox/payfox/app/models"
)

var (
	ErrUserRequired          = errors.New("user id is required")
	ErrIntentNotFound        = errors.New("payment intent not found")
	ErrIntentForbidden       = errors.New("payment intent belongs to another user")
	ErrOrganizationForbidden = errors.New("user is not a member of the organization")
)

// Directory answers organization membership questions. Contributions may only
// be attributed to an organization the paying user is a member of.
type Directory interface {
	IsMember(orgID, userID uint) (bool, error)
}

// Notifier dispatches a best-effort user notification. Implementations must
// never block payment processing; a lost notification is acceptable, a lost
// payment update is not.
type Notifier interface {
	Dispatch(ctx context.Context, n NotificationRequest)
}

// NotificationRequest describes one notification to deliver.
type NotificationRequest struct {
	UserID      uint   `json:"user_id"`
	Kind        string `json:"kind"`
	Content     string `json:"content"`
	ReferenceID string `json:"reference_id"`
}

// NopNotifier discards notifications. Used in tests and when the worker pool
// is disabled.
type NopNotifier struct{}

func (NopNotifier) Dispatch(ctx context.Context, n NotificationRequest) {}

// Service orchestrates contributions: it validates input, talks to the
// gateway, and converges local state through the reconciliation store. Both
// the synchronous confirm path and the webhook path funnel into the same
// Apply methods, so whichever signal arrives first (or twice) produces the
// same stored state.
type Service struct {
	repo      Repository
	gateway   Gateway
	limits    AmountLimits
	notifier  Notifier
	directory Directory
}

// NewService creates a payment service from injected dependencies. With a nil
// directory, organization attribution is rejected outright.
func NewService(repo Repository, gateway Gateway, limits AmountLimits, notifier Notifier, directory Directory) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{repo: repo, gateway: gateway, limits: limits, notifier: notifier, directory: directory}
}

// Repo exposes the reconciliation store for callers that need read paths.
func (s *Service) Repo() Repository {
	return s.repo
}

// Limits exposes the configured contribution bounds.
func (s *Service) Limits() AmountLimits {
	return s.limits
}

// CreateContribution validates a one-time contribution request, creates the
// gateway intent with full attribution metadata, and records the pending
// local shadow. The gateway call happens before the local write: a gateway
// object without a local row is recoverable through webhooks, a local row
// without a gateway object is garbage.
func (s *Service) CreateContribution(ctx context.Context, in CreateContributionInput) (*CreateContributionResult, error) {
	if in.UserID == 0 {
		return nil, ErrUserRequired
	}
	if err := s.limits.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if err := s.limits.ValidateCurrency(in.Currency); err != nil {
		return nil, err
	}
	if in.OrganizationID != nil {
		// Attribution is based on a client-supplied header, so membership
		// is verified before anything reaches the gateway.
		if s.directory == nil {
			return nil, ErrOrganizationForbidden
		}
		member, err := s.directory.IsMember(*in.OrganizationID, in.UserID)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrOrganizationForbidden
		}
	}

	meta := Metadata{
		UserID:         in.UserID,
		UserType:       in.UserType,
		PaymentType:    PaymentTypeOneTime,
		OrganizationID: in.OrganizationID,
		Extra:          in.Extra,
	}
	metaMap := meta.ToMap()

	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	intent, err := s.gateway.CreatePaymentIntent(ctx, CreateIntentParams{
		AmountMinor: ToMinorUnits(in.Amount),
		Currency:    currency,
		Metadata:    metaMap,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway intent create failed: %w", err)
	}

	pi := &models.PaymentIntent{
		StripeIntentID: intent.ID,
		UserID:         in.UserID,
		OrganizationID: in.OrganizationID,
		Amount:         in.Amount,
		Currency:       currency,
		Status:         models.PaymentIntentStatusPending,
		UserType:       in.UserType,
		PaymentType:    PaymentTypeOneTime,
		MetadataJSON:   MetadataJSON(metaMap),
	}
	if intent.Customer != nil {
		pi.StripeCustomer = intent.Customer.ID
	}
	if err := s.repo.UpsertPaymentIntent(pi); err != nil {
		return nil, err
	}
	s.audit("payment_intent.created", intent.ID, map[string]interface{}{
		"user_id":  in.UserID,
		"amount":   in.Amount,
		"currency": currency,
	})

	return &CreateContributionResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
	}, nil
}

// ConfirmContribution re-reads the intent from the gateway and converges the
// local shadow to whatever the gateway reports. The gateway is the source of
// truth; the client claim is only a hint to look.
func (s *Service) ConfirmContribution(ctx context.Context, userID uint, intentID string) (*models.PaymentIntent, error) {
	stored, err := s.repo.GetPaymentIntentByStripeID(intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	if stored.UserID != userID {
		return nil, ErrIntentForbidden
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("gateway intent lookup failed: %w", err)
	}
	if err := s.ApplyPaymentIntent(ctx, intent); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentIntentByStripeID(intentID)
}

// GetContribution returns one intent owned by the given user.
func (s *Service) GetContribution(ctx context.Context, userID uint, intentID string) (*models.PaymentIntent, error) {
	_ = ctx
	pi, err := s.repo.GetPaymentIntentByStripeID(intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	if pi.UserID != userID {
		return nil, ErrIntentForbidden
	}
	return pi, nil
}

// GetSubscription returns one subscription owned by the given user.
func (s *Service) GetSubscription(ctx context.Context, userID uint, subscriptionID string) (*models.Subscription, error) {
	_ = ctx
	sub, err := s.repo.GetSubscriptionByStripeID(subscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrIntentForbidden
	}
	return sub, nil
}

// ListContributions returns a page of the user's payment history, newest
// first.
func (s *Service) ListContributions(ctx context.Context, userID uint, offset, limit int) ([]models.PaymentIntent, error) {
	_ = ctx
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListPaymentIntentsByUser(userID, offset, limit)
}

// ApplyPaymentIntent converges the local shadow to the state of a gateway
// intent. Called from the webhook path and the confirm path alike; replays
// and stale states are absorbed by the store's rank guard.
func (s *Service) ApplyPaymentIntent(ctx context.Context, intent *stripe.PaymentIntent) error {
	if intent == nil || intent.ID == "" {
		return errors.New("payment intent payload is empty")
	}
	meta := ParseMetadata(intent.Metadata)

	status := models.PaymentIntentStatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = models.PaymentIntentStatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = models.PaymentIntentStatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A failed attempt lands back here with a last error attached.
		if intent.LastPaymentError != nil {
			status = models.PaymentIntentStatusFailed
		}
	}

	pi := &models.PaymentIntent{
		StripeIntentID: intent.ID,
		UserID:         meta.UserID,
		OrganizationID: meta.OrganizationID,
		Amount:         FromMinorUnits(intent.Amount),
		Currency:       string(intent.Currency),
		Status:         status,
		UserType:       meta.UserType,
		PaymentType:    meta.PaymentType,
		MetadataJSON:   MetadataJSON(intent.Metadata),
	}
	if intent.Customer != nil {
		pi.StripeCustomer = intent.Customer.ID
	}
	if intent.LastPaymentError != nil {
		pi.ErrorMessage = intent.LastPaymentError.Msg
	}
	if pi.PaymentType == "" {
		pi.PaymentType = PaymentTypeOneTime
	}

	if err := s.repo.UpsertPaymentIntent(pi); err != nil {
		return err
	}
	s.audit("payment_intent."+status, intent.ID, map[string]interface{}{
		"user_id":  pi.UserID,
		"amount":   pi.Amount,
		"currency": pi.Currency,
	})

	switch status {
	case models.PaymentIntentStatusSucceeded:
		s.notifier.Dispatch(ctx, NotificationRequest{
			UserID:      pi.UserID,
			Kind:        models.NotificationPaymentReceipt,
			Content:     fmt.Sprintf("Your contribution of %.2f %s was received. Thank you!", pi.Amount, strings.ToUpper(pi.Currency)),
			ReferenceID: intent.ID,
		})
	case models.PaymentIntentStatusFailed:
		s.notifier.Dispatch(ctx, NotificationRequest{
			UserID:      pi.UserID,
			Kind:        models.NotificationPaymentFailed,
			Content:     fmt.Sprintf("Your contribution of %.2f %s could not be processed.", pi.Amount, strings.ToUpper(pi.Currency)),
			ReferenceID: intent.ID,
		})
	}
	return nil
}

// ApplySubscription converges the local subscription shadow to a gateway
// subscription object. Deletion events arrive here too, as status canceled.
func (s *Service) ApplySubscription(ctx context.Context, sub *stripe.Subscription, canceled bool) error {
	if sub == nil || sub.ID == "" {
		return errors.New("subscription payload is empty")
	}
	meta := ParseMetadata(sub.Metadata)

	status := string(sub.Status)
	if canceled {
		status = models.SubscriptionStatusCanceled
	}

	state := SubscriptionState{
		StripeSubscriptionID: sub.ID,
		UserID:               meta.UserID,
		Status:               status,
		CurrentPeriodStart:   UnixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     UnixTime(sub.CurrentPeriodEnd),
		MetadataJSON:         MetadataJSON(sub.Metadata),
	}
	if sub.Customer != nil {
		state.StripeCustomerID = sub.Customer.ID
	}
	if status == models.SubscriptionStatusCanceled {
		if at := UnixTime(sub.CanceledAt); at != nil {
			state.CanceledAt = at
		} else {
			now := time.Now().UTC()
			state.CanceledAt = &now
		}
	}

	stored, err := s.repo.GetSubscriptionByStripeID(sub.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	alreadyCanceled := err == nil && stored.Status == models.SubscriptionStatusCanceled

	if alreadyCanceled {
		// Canceled is terminal; only metadata corrections get through.
		if state.MetadataJSON != "" && state.MetadataJSON != stored.MetadataJSON {
			if err := s.repo.UpdateSubscriptionMetadata(sub.ID, state.MetadataJSON); err != nil {
				return err
			}
			s.audit("subscription.metadata_updated", sub.ID, nil)
		}
		return nil
	}

	if err := s.repo.UpsertSubscription(state); err != nil {
		return err
	}
	s.audit("subscription."+status, sub.ID, map[string]interface{}{
		"user_id": meta.UserID,
	})

	wasNew := errors.Is(err, gorm.ErrRecordNotFound)
	switch {
	case status == models.SubscriptionStatusCanceled:
		s.notifier.Dispatch(ctx, NotificationRequest{
			UserID:      meta.UserID,
			Kind:        models.NotificationSubscriptionCanceled,
			Content:     "Your recurring contribution has been canceled.",
			ReferenceID: sub.ID,
		})
	case status == models.SubscriptionStatusActive && (wasNew || stored == nil || stored.Status != models.SubscriptionStatusActive):
		s.notifier.Dispatch(ctx, NotificationRequest{
			UserID:      meta.UserID,
			Kind:        models.NotificationSubscriptionStarted,
			Content:     "Your recurring contribution is now active. Thank you!",
			ReferenceID: sub.ID,
		})
	}
	return nil
}

// ApplyCustomer converges the local customer shadow to a gateway customer
// object. Upstream deletes are ignored on purpose; local rows stay.
func (s *Service) ApplyCustomer(ctx context.Context, c *stripe.Customer) error {
	_ = ctx
	if c == nil || c.ID == "" {
		return errors.New("customer payload is empty")
	}
	if c.Deleted {
		s.audit("customer.deleted_upstream", c.ID, nil)
		return nil
	}
	meta := ParseMetadata(c.Metadata)
	if err := s.repo.UpsertCustomer(CustomerState{
		StripeCustomerID: c.ID,
		UserID:           meta.UserID,
		Email:            c.Email,
		Name:             c.Name,
		MetadataJSON:     MetadataJSON(c.Metadata),
	}); err != nil {
		return err
	}
	s.audit("customer.synced", c.ID, nil)
	return nil
}

// ApplyInvoicePaid records a successful recurring charge and resets the
// dunning counter.
func (s *Service) ApplyInvoicePaid(ctx context.Context, inv *stripe.Invoice) error {
	_ = ctx
	if inv == nil || inv.ID == "" {
		return errors.New("invoice payload is empty")
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// One-time invoices carry no subscription; nothing to reconcile.
		return nil
	}
	subID := inv.Subscription.ID
	if err := s.repo.RecordInvoicePaid(subID, inv.ID, UnixTime(inv.PeriodStart), UnixTime(inv.PeriodEnd)); err != nil {
		return err
	}
	s.audit("invoice.paid", subID, map[string]interface{}{
		"invoice_id": inv.ID,
		"amount":     FromMinorUnits(inv.AmountPaid),
	})
	return nil
}

// ApplyInvoiceFailed records a failed recurring charge. The attempt counter
// is keyed by invoice id, so redeliveries do not inflate it, and dunning
// notifications fire once per distinct failed invoice.
func (s *Service) ApplyInvoiceFailed(ctx context.Context, inv *stripe.Invoice) error {
	if inv == nil || inv.ID == "" {
		return errors.New("invoice payload is empty")
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}
	subID := inv.Subscription.ID

	stored, err := s.repo.GetSubscriptionByStripeID(subID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	firstSighting := err != nil || stored.LastFailedInvoiceID != inv.ID

	if err := s.repo.RecordInvoiceFailed(subID, inv.ID); err != nil {
		return err
	}
	s.audit("invoice.payment_failed", subID, map[string]interface{}{
		"invoice_id": inv.ID,
	})

	if firstSighting {
		userID := uint(0)
		if stored != nil {
			userID = stored.UserID
		}
		if userID != 0 {
			s.notifier.Dispatch(ctx, NotificationRequest{
				UserID:      userID,
				Kind:        models.NotificationDunning,
				Content:     "A recurring contribution charge failed. Please check your payment method.",
				ReferenceID: subID,
			})
		}
	}
	return nil
}

// RefreshPendingIntents re-reads stale pending intents from the gateway and
// converges them. Used by the reconciliation sweep to recover intents whose
// webhook deliveries were lost entirely.
func (s *Service) RefreshPendingIntents(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	pending, err := s.repo.ListPendingIntentsOlderThan(cutoff, limit)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for i := range pending {
		intent, err := s.gateway.RetrievePaymentIntent(ctx, pending[i].StripeIntentID)
		if err != nil {
			continue
		}
		if err := s.ApplyPaymentIntent(ctx, intent); err != nil {
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *Service) audit(eventType, subjectID string, detail map[string]interface{}) {
	entry := &models.PaymentAuditLog{
		EventType: eventType,
		SubjectID: subjectID,
	}
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			entry.DetailJSON = string(b)
		}
	}
	// Audit append is best effort here; the webhook path writes its own
	// mandatory audit row before dispatch.
	_ = s.repo.AppendAuditLog(entry)
}

// AppendAuditLog writes one audit row and surfaces the error. The webhook
// ingestion path uses this directly because there the audit write is
// mandatory.
func (s *Service) AppendAuditLog(eventType, subjectID string, detail map[string]interface{}) error {
	entry := &models.PaymentAuditLog{
		EventType: eventType,
		SubjectID: subjectID,
	}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		entry.DetailJSON = string(b)
	}
	return s.repo.AppendAuditLog(entry)
}
