package models

import "time"

// PaymentAuditLog is an append-only record of every inbound gateway event and
// every payment state transition. Rows are written regardless of whether
// downstream processing succeeds and are never updated or deleted.
type PaymentAuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventType  string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	SubjectID  string    `gorm:"type:varchar(191);not null;index" json:"subject_id"`
	DetailJSON string    `gorm:"type:text" json:"detail_json"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
