package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization membership roles. Payments only reads these associations to
// attribute gateway objects; administration happens elsewhere.
const (
	ORG_ROLE_OWNER  = "owner"
	ORG_ROLE_MEMBER = "member"
)

type Organization struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Email     string         `gorm:"type:varchar(200)" json:"email" validate:"omitempty,email"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

type OrganizationMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index:ux_org_members_org_user,unique,priority:1" json:"organization_id"`
	UserID         uint      `gorm:"not null;index:ux_org_members_org_user,unique,priority:2" json:"user_id"`
	Role           string    `gorm:"type:varchar(20);default:'member'" json:"role" validate:"oneof=owner member"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
