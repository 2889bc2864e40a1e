package models

import "time"

// Payment intent lifecycle statuses. Transitions are monotonic: a pending
// intent may become succeeded, failed or canceled; succeeded is terminal.
const (
	PaymentIntentStatusPending   = "pending"
	PaymentIntentStatusSucceeded = "succeeded"
	PaymentIntentStatusFailed    = "failed"
	PaymentIntentStatusCanceled  = "canceled"
)

// PaymentIntentStatusRank orders statuses so that writes can be guarded
// against regressions at the storage layer. A write is only applied when the
// incoming rank is greater than or equal to the stored rank.
func PaymentIntentStatusRank(status string) int {
	switch status {
	case PaymentIntentStatusSucceeded:
		return 2
	case PaymentIntentStatusFailed, PaymentIntentStatusCanceled:
		return 1
	default:
		return 0
	}
}

// PaymentIntent is the local shadow of one attempted one-time contribution.
// The gateway-issued intent id is the idempotency key for every update.
// Rows are never hard-deleted; they are part of the financial audit record.
type PaymentIntent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	StripeIntentID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_intents_stripe_id" json:"stripe_intent_id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	OrganizationID *uint     `gorm:"index" json:"organization_id,omitempty"`
	Amount         float64   `gorm:"type:decimal(12,2);not null" json:"amount" validate:"gt=0"`
	Currency       string    `gorm:"type:varchar(8);not null" json:"currency" validate:"required,len=3"`
	Status         string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending succeeded failed canceled"`
	StripeCustomer string    `gorm:"type:varchar(191);index" json:"stripe_customer_id"`
	UserType       string    `gorm:"type:varchar(30)" json:"user_type"`
	PaymentType    string    `gorm:"type:varchar(20);default:'one-time'" json:"payment_type" validate:"oneof=one-time recurring"`
	MetadataJSON   string    `gorm:"type:text" json:"metadata_json"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
