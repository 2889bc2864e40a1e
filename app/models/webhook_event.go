package models

import "time"

// Processing outcomes for received webhook events.
const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeUnhandled = "unhandled"
	WebhookOutcomeError     = "error"
)

// WebhookEvent stores every verified gateway event with deduplication
// metadata for idempotent processing. The event id carries a unique index so
// a redelivery of the same event is recognized before any handler runs.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	StripeEventID   string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_stripe_id" json:"stripe_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Outcome         string     `gorm:"type:varchar(20);index" json:"outcome"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ReplayCount     int        `gorm:"not null;default:0" json:"replay_count"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
