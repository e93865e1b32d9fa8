package model

// Module names a permission-matrix area
type Module string

const (
	ModuleOrgSettings Module = "ORG_SETTINGS"
	ModulePayroll     Module = "PAYROLL"
	ModuleEmployees   Module = "EMPLOYEES"
)

// Permission names a boolean column of the permission matrix
type Permission string

const (
	PermissionRead    Permission = "can_read"
	PermissionWrite   Permission = "can_write"
	PermissionDelete  Permission = "can_delete"
	PermissionApprove Permission = "can_approve"
)

// RoleModulePermission is one row of the externally maintained permission matrix
type RoleModulePermission struct {
	ID         uint          `json:"id" gorm:"primaryKey"`
	Role       WorkspaceRole `json:"role" gorm:"type:varchar(50);not null;uniqueIndex:idx_role_module"`
	Module     Module        `json:"module" gorm:"type:varchar(50);not null;uniqueIndex:idx_role_module"`
	CanRead    bool          `json:"can_read" gorm:"not null;default:false"`
	CanWrite   bool          `json:"can_write" gorm:"not null;default:false"`
	CanDelete  bool          `json:"can_delete" gorm:"not null;default:false"`
	CanApprove bool          `json:"can_approve" gorm:"not null;default:false"`
}

// Allows reports the named flag. Unknown permission names are never granted.
func (p *RoleModulePermission) Allows(permission Permission) bool {
	if p == nil {
		return false
	}
	switch permission {
	case PermissionRead:
		return p.CanRead
	case PermissionWrite:
		return p.CanWrite
	case PermissionDelete:
		return p.CanDelete
	case PermissionApprove:
		return p.CanApprove
	default:
		return false
	}
}
