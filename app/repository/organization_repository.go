package repository

import (
	"errors"

	"github.com/payfox/payfox/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// organizationRepository implements the OrganizationRepository interface
type organizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository creates a new organization repository instance
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

// Create creates a new organization
func (r *organizationRepository) Create(org *models.Organization) error {
	return r.db.Create(org).Error
}

// GetByID retrieves an organization by its ID
func (r *organizationRepository) GetByID(id uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.First(&org, id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// AddMember adds a user to an organization, idempotently.
func (r *organizationRepository) AddMember(orgID, userID uint, role string) error {
	if role == "" {
		role = models.ORG_ROLE_MEMBER
	}
	member := &models.OrganizationMember{
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(member).Error
}

// GetMembership resolves the membership row for an org/user pair.
func (r *organizationRepository) GetMembership(orgID, userID uint) (*models.OrganizationMember, error) {
	var member models.OrganizationMember
	err := r.db.Where("organization_id = ? AND user_id = ?", orgID, userID).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// IsMember reports whether the user belongs to the organization. This is the
// directory lookup the payment service uses to verify attribution.
func (r *organizationRepository) IsMember(orgID, userID uint) (bool, error) {
	if _, err := r.GetMembership(orgID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListByUser returns all organizations the user belongs to.
func (r *organizationRepository) ListByUser(userID uint) ([]models.Organization, error) {
	var orgs []models.Organization
	err := r.db.
		Joins("JOIN organization_members ON organization_members.organization_id = organizations.id").
		Where("organization_members.user_id = ?", userID).
		Find(&orgs).Error
	return orgs, err
}
