package payments

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/payfox/payfox/app/models"
)

// Repository is the reconciliation store: one conflict-safe write primitive
// per entity type, keyed by the gateway id column. The unique constraint on
// that column is enforced by the storage layer, not application logic, so
// two concurrent deliveries of the same event cannot race into duplicates.
type Repository interface {
	UpsertPaymentIntent(pi *models.PaymentIntent) error
	UpsertSubscription(sub SubscriptionState) error
	UpdateSubscriptionMetadata(stripeSubscriptionID, metadataJSON string) error
	RecordInvoicePaid(stripeSubscriptionID, invoiceID string, periodStart, periodEnd *time.Time) error
	RecordInvoiceFailed(stripeSubscriptionID, invoiceID string) error
	UpsertCustomer(c CustomerState) error

	GetPaymentIntentByStripeID(stripeIntentID string) (*models.PaymentIntent, error)
	ListPaymentIntentsByUser(userID uint, offset, limit int) ([]models.PaymentIntent, error)
	ListPaymentIntentsByOrganization(orgID uint, offset, limit int) ([]models.PaymentIntent, error)
	ListPendingIntentsOlderThan(cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error)
	GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error)

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookOutcome(id uint, outcome string, processingError string) error
	GetWebhookEventByID(id uint) (*models.WebhookEvent, error)
	ListFailedWebhookEvents(olderThan time.Time, maxReplays int, limit int) ([]models.WebhookEvent, error)
	IncrementWebhookReplayCount(id uint) error

	AppendAuditLog(entry *models.PaymentAuditLog) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation store backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertPaymentIntent inserts the intent if absent, then applies a guarded
// update: a write is only applied when its status rank is at least the
// stored rank, so a replayed or out-of-order event can never move a
// succeeded intent back to pending.
func (r *gormRepository) UpsertPaymentIntent(pi *models.PaymentIntent) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_intent_id"}},
		DoNothing: true,
	}).Create(pi).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":          pi.Status,
		"amount":          pi.Amount,
		"currency":        pi.Currency,
		"stripe_customer": pi.StripeCustomer,
		"error_message":   pi.ErrorMessage,
		"updated_at":      time.Now(),
	}
	if pi.UserID != 0 {
		updates["user_id"] = pi.UserID
	}
	if pi.OrganizationID != nil {
		updates["organization_id"] = *pi.OrganizationID
	}
	if pi.MetadataJSON != "" {
		updates["metadata_json"] = pi.MetadataJSON
	}

	if err := r.db.Model(&models.PaymentIntent{}).
		Where("stripe_intent_id = ?", pi.StripeIntentID).
		Where("(CASE status WHEN 'succeeded' THEN 2 WHEN 'pending' THEN 0 ELSE 1 END) <= ?", models.PaymentIntentStatusRank(pi.Status)).
		Updates(updates).Error; err != nil {
		return err
	}

	return r.db.Where("stripe_intent_id = ?", pi.StripeIntentID).First(pi).Error
}

// UpsertSubscription inserts the subscription if absent (handlers must
// tolerate delete-before-create ordering), then applies a guarded update:
// canceled subscriptions accept no further transitions, and a period end is
// never overwritten by an apparently earlier one.
func (r *gormRepository) UpsertSubscription(sub SubscriptionState) error {
	row := &models.Subscription{
		StripeSubscriptionID: sub.StripeSubscriptionID,
		StripeCustomerID:     sub.StripeCustomerID,
		UserID:               sub.UserID,
		Status:               sub.Status,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CanceledAt:           sub.CanceledAt,
		MetadataJSON:         sub.MetadataJSON,
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoNothing: true,
	}).Create(row).Error; err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":     sub.Status,
		"updated_at": time.Now(),
	}
	if sub.StripeCustomerID != "" {
		updates["stripe_customer_id"] = sub.StripeCustomerID
	}
	if sub.UserID != 0 {
		updates["user_id"] = sub.UserID
	}
	if sub.MetadataJSON != "" {
		updates["metadata_json"] = sub.MetadataJSON
	}
	if sub.CanceledAt != nil {
		updates["canceled_at"] = sub.CanceledAt
	}

	query := r.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		Where("status <> ?", models.SubscriptionStatusCanceled)
	if sub.CurrentPeriodEnd != nil {
		updates["current_period_start"] = sub.CurrentPeriodStart
		updates["current_period_end"] = sub.CurrentPeriodEnd
		query = query.Where("current_period_end IS NULL OR current_period_end <= ?", sub.CurrentPeriodEnd)
	}
	return query.Updates(updates).Error
}

// UpdateSubscriptionMetadata applies a metadata correction. This is the only
// write accepted after cancellation.
func (r *gormRepository) UpdateSubscriptionMetadata(stripeSubscriptionID, metadataJSON string) error {
	return r.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(map[string]interface{}{"metadata_json": metadataJSON, "updated_at": time.Now()}).Error
}

// RecordInvoicePaid records a successful billing period. The period guard
// keeps an out-of-order older invoice from regressing the stored period, and
// the canceled guard keeps a late invoice from mutating a terminal row.
func (r *gormRepository) RecordInvoicePaid(stripeSubscriptionID, invoiceID string, periodStart, periodEnd *time.Time) error {
	if err := r.ensureSubscriptionRow(stripeSubscriptionID); err != nil {
		return err
	}
	updates := map[string]interface{}{
		"failed_attempts": 0,
		"last_invoice_id": invoiceID,
		"updated_at":      time.Now(),
	}
	query := r.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Where("status <> ?", models.SubscriptionStatusCanceled)
	if periodEnd != nil {
		updates["current_period_start"] = periodStart
		updates["current_period_end"] = periodEnd
		query = query.Where("current_period_end IS NULL OR current_period_end <= ?", periodEnd)
	}
	return query.Updates(updates).Error
}

// RecordInvoiceFailed increments the failed billing attempt counter. The
// counter only moves when the invoice id differs from the last recorded
// failure, so a redelivered event is a no-op.
func (r *gormRepository) RecordInvoiceFailed(stripeSubscriptionID, invoiceID string) error {
	if err := r.ensureSubscriptionRow(stripeSubscriptionID); err != nil {
		return err
	}
	return r.db.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Where("status <> ?", models.SubscriptionStatusCanceled).
		Where("last_failed_invoice_id IS NULL OR last_failed_invoice_id <> ?", invoiceID).
		Updates(map[string]interface{}{
			"failed_attempts":        gorm.Expr("failed_attempts + 1"),
			"last_failed_invoice_id": invoiceID,
			"updated_at":             time.Now(),
		}).Error
}

func (r *gormRepository) ensureSubscriptionRow(stripeSubscriptionID string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoNothing: true,
	}).Create(&models.Subscription{
		StripeSubscriptionID: stripeSubscriptionID,
		Status:               models.SubscriptionStatusIncomplete,
	}).Error
}

// UpsertCustomer inserts or overwrites the mutable customer fields. Local
// customers are never deleted, even when deleted upstream.
func (r *gormRepository) UpsertCustomer(c CustomerState) error {
	row := &models.Customer{
		StripeCustomerID: c.StripeCustomerID,
		UserID:           c.UserID,
		Email:            c.Email,
		Name:             c.Name,
		MetadataJSON:     c.MetadataJSON,
	}
	assignments := []string{"email", "name", "metadata_json", "updated_at"}
	if c.UserID != 0 {
		assignments = append(assignments, "user_id")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_customer_id"}},
		DoUpdates: clause.AssignmentColumns(assignments),
	}).Create(row).Error
}

func (r *gormRepository) GetPaymentIntentByStripeID(stripeIntentID string) (*models.PaymentIntent, error) {
	var pi models.PaymentIntent
	if err := r.db.Where("stripe_intent_id = ?", stripeIntentID).First(&pi).Error; err != nil {
		return nil, err
	}
	return &pi, nil
}

func (r *gormRepository) ListPaymentIntentsByUser(userID uint, offset, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&intents).Error
	return intents, err
}

func (r *gormRepository) ListPaymentIntentsByOrganization(orgID uint, offset, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Where("organization_id = ?", orgID).
		Order("created_at DESC").Offset(offset).Limit(limit).Find(&intents).Error
	return intents, err
}

func (r *gormRepository) ListPendingIntentsOlderThan(cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := r.db.Where("status = ? AND created_at < ?", models.PaymentIntentStatusPending, cutoff).
		Order("created_at ASC").Limit(limit).Find(&intents).Error
	return intents, err
}

func (r *gormRepository) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error) {
	var c models.Customer
	if err := r.db.Where("stripe_customer_id = ?", stripeCustomerID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateWebhookEventIfNotExists persists the event exactly once. The unique
// event id constraint makes redelivery detection atomic; the second delivery
// reports created=false and carries the stored row.
func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("stripe_event_id = ?", event.StripeEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookOutcome(id uint, outcome string, processingError string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"outcome":          outcome,
		"processing_error": processingError,
		"processed_at":     &now,
	}).Error
}

func (r *gormRepository) GetWebhookEventByID(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ListFailedWebhookEvents selects dead-letter candidates: events that ended
// in error plus events that were logged but never settled, which happens when
// the process dies between logging and marking the outcome.
func (r *gormRepository) ListFailedWebhookEvents(olderThan time.Time, maxReplays int, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("outcome IN ? AND replay_count < ? AND created_at < ?",
		[]string{models.WebhookOutcomeError, ""}, maxReplays, olderThan).
		Order("created_at ASC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) IncrementWebhookReplayCount(id uint) error {
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).
		Update("replay_count", gorm.Expr("replay_count + 1")).Error
}

// AppendAuditLog appends one audit row. Audit rows are never updated.
func (r *gormRepository) AppendAuditLog(entry *models.PaymentAuditLog) error {
	return r.db.Create(entry).Error
}
