package model

import (
	"time"

	"gorm.io/gorm"
)

// WorkspaceRole is a principal's role inside a workspace. It selects the
// permission matrix row used for authorization.
type WorkspaceRole string

const (
	WorkspaceRoleOwner   WorkspaceRole = "OWNER"
	WorkspaceRoleAdmin   WorkspaceRole = "ADMIN"
	WorkspaceRoleManager WorkspaceRole = "MANAGER"
	WorkspaceRoleMember  WorkspaceRole = "MEMBER"
)

// Workspace is the top-level tenant that owns companies
type Workspace struct {
	ID          string    `json:"id" gorm:"primaryKey;type:uuid"`
	Name        string    `json:"name" gorm:"type:varchar(150);not null"`
	OwnerUserID string    `json:"owner_user_id" gorm:"type:uuid;index;not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	newID(&w.ID)
	return nil
}

// WorkspaceUser is a principal's membership in a workspace
type WorkspaceUser struct {
	ID          string        `json:"id" gorm:"primaryKey;type:uuid"`
	WorkspaceID string        `json:"workspace_id" gorm:"type:uuid;not null;uniqueIndex:idx_workspace_users_member"`
	UserID      string        `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_workspace_users_member"`
	Role        WorkspaceRole `json:"role" gorm:"type:varchar(50);not null"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (u *WorkspaceUser) BeforeCreate(tx *gorm.DB) error {
	newID(&u.ID)
	return nil
}
