package model

import (
	"time"

	"gorm.io/gorm"
)

// CompanyReviewer is a company user's position in the company's approval chain.
// For every company the levels form the dense range 1..N.
type CompanyReviewer struct {
	ID            string    `json:"id" gorm:"primaryKey;type:uuid"`
	CompanyID     string    `json:"company_id" gorm:"type:uuid;not null;uniqueIndex:idx_company_reviewers_member;index:idx_company_reviewers_level,priority:1"`
	CompanyUserID string    `json:"company_user_id" gorm:"type:uuid;not null;uniqueIndex:idx_company_reviewers_member"`
	ReviewerLevel int       `json:"reviewer_level" gorm:"not null;index:idx_company_reviewers_level,priority:2"`
	CreatedAt     time.Time `json:"created_at"`

	CompanyUser CompanyUser `json:"-" gorm:"foreignKey:CompanyUserID"`
}

func (r *CompanyReviewer) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}
