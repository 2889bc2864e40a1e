package models

import "time"

// Subscription statuses mirrored from the gateway.
const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusIncomplete = "incomplete"
)

// Subscription is the local shadow of a recurring contribution. The
// gateway-issued subscription id is the idempotency key for every update.
// CanceledAt is set if and only if the status is canceled; after cancellation
// only metadata corrections are accepted.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_stripe_id" json:"stripe_subscription_id"`
	StripeCustomerID     string     `gorm:"type:varchar(191);not null;index" json:"stripe_customer_id"`
	UserID               uint       `gorm:"index" json:"user_id"`
	Status               string     `gorm:"type:varchar(20);not null;default:'incomplete';index" json:"status" validate:"oneof=active past_due canceled unpaid incomplete"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CanceledAt           *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	FailedAttempts       int        `gorm:"not null;default:0" json:"failed_attempts"`
	LastInvoiceID        string     `gorm:"type:varchar(191)" json:"last_invoice_id"`
	LastFailedInvoiceID  string     `gorm:"type:varchar(191)" json:"last_failed_invoice_id"`
	MetadataJSON         string     `gorm:"type:text" json:"metadata_json"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
