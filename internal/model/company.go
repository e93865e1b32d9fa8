package model

import (
	"time"

	"gorm.io/gorm"
)

// CompanyStatus is the onboarding state of a company
type CompanyStatus string

const (
	CompanyStatusPending CompanyStatus = "PENDING"
	CompanyStatusActive  CompanyStatus = "ACTIVE"
)

// CompanyRole is a principal's role inside a single company. Only its
// existence gates access; the matrix is keyed by WorkspaceRole.
type CompanyRole string

const (
	CompanyRoleAdmin    CompanyRole = "ADMIN"
	CompanyRoleManager  CompanyRole = "MANAGER"
	CompanyRoleEmployee CompanyRole = "EMPLOYEE"
)

// CanReview reports whether company users with this role may join the approval chain
func (r CompanyRole) CanReview() bool {
	return r == CompanyRoleAdmin || r == CompanyRoleManager
}

// ReviewerRoles lists the company roles eligible for the approval chain
var ReviewerRoles = []CompanyRole{CompanyRoleAdmin, CompanyRoleManager}

// Company belongs to exactly one workspace
type Company struct {
	ID          string        `json:"id" gorm:"primaryKey;type:uuid"`
	WorkspaceID string        `json:"workspace_id" gorm:"type:uuid;index;not null;<-:create"`
	Name        string        `json:"name" gorm:"type:varchar(150);not null"`
	Status      CompanyStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING'"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (c *Company) BeforeCreate(tx *gorm.DB) error {
	newID(&c.ID)
	return nil
}

// CompanyUser attaches a principal to a company
type CompanyUser struct {
	ID        string      `json:"id" gorm:"primaryKey;type:uuid"`
	CompanyID string      `json:"company_id" gorm:"type:uuid;not null;uniqueIndex:idx_company_users_member"`
	UserID    string      `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_company_users_member"`
	Role      CompanyRole `json:"role" gorm:"type:varchar(50);not null"`
	CreatedAt time.Time   `json:"created_at"`
}

func (u *CompanyUser) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}
