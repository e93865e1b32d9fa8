package model

import "github.com/google/uuid"

// newID fills an empty string primary key before insert. The hosted store
// uses uuid keys for every table.
func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// All returns every model managed by the migrate command
func All() []interface{} {
	return []interface{}{
		&Workspace{},
		&WorkspaceUser{},
		&Company{},
		&CompanyUser{},
		&RoleModulePermission{},
		&CompanyReviewer{},
		&AuditLog{},
	}
}
