package models

import "time"

// Customer is the local shadow of a gateway customer record. Rows are never
// deleted locally even if the upstream customer is, so historical payments
// keep a valid reference.
type Customer struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	StripeCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_customers_stripe_id" json:"stripe_customer_id"`
	UserID           uint      `gorm:"index" json:"user_id"`
	Email            string    `gorm:"type:varchar(200)" json:"email"`
	Name             string    `gorm:"type:varchar(150)" json:"name"`
	MetadataJSON     string    `gorm:"type:text" json:"metadata_json"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
