package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification kinds emitted by payment event handlers. All notifications
// are best-effort: a failed notification never affects financial state.
const (
	NotificationPaymentReceipt       = "payment_receipt"
	NotificationPaymentFailed        = "payment_failed"
	NotificationSubscriptionStarted  = "subscription_started"
	NotificationSubscriptionCanceled = "subscription_canceled"
	NotificationDunning              = "dunning"
)

type Notification struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UserID      uint           `gorm:"index" json:"user_id"`
	User        User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type        string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=payment_receipt payment_failed subscription_started subscription_canceled dunning"`
	Content     string         `gorm:"type:text" json:"content"`
	IsRead      bool           `gorm:"default:false" json:"is_read"`
	ReferenceID string         `gorm:"type:varchar(191)" json:"reference_id"` // gateway object id the notification refers to
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// MarkAsRead marks a notification as read.
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// CreateNotification stores a new notification row.
func CreateNotification(db *gorm.DB, userID uint, notificationType string, content string, referenceID string) error {
	notification := Notification{
		UserID:      userID,
		Type:        notificationType,
		Content:     content,
		ReferenceID: referenceID,
		IsRead:      false,
	}

	return db.Create(&notification).Error
}
