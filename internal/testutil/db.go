// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/pkg/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory sqlite database with every model migrated.
// A single connection keeps the shared-cache database alive and serializes
// writers the way a row lock would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.MigrateModels(db, model.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

// Fixture inserts rows for tests and fails the test on any error
type Fixture struct {
	DB *gorm.DB
	t  testing.TB
}

// NewFixture wraps db
func NewFixture(t testing.TB, db *gorm.DB) *Fixture {
	return &Fixture{DB: db, t: t}
}

func (f *Fixture) create(v interface{}) {
	f.t.Helper()
	if err := f.DB.Create(v).Error; err != nil {
		f.t.Fatalf("create %T: %v", v, err)
	}
}

// Workspace creates a workspace owned by ownerID
func (f *Fixture) Workspace(ownerID string) model.Workspace {
	f.t.Helper()
	w := model.Workspace{Name: "Payroll Workspace", OwnerUserID: ownerID}
	f.create(&w)
	return w
}

// Company creates an active company in workspaceID
func (f *Fixture) Company(workspaceID string) model.Company {
	f.t.Helper()
	c := model.Company{WorkspaceID: workspaceID, Name: "Acme", Status: model.CompanyStatusActive}
	f.create(&c)
	return c
}

// WorkspaceMember adds userID to a workspace
func (f *Fixture) WorkspaceMember(workspaceID, userID string, role model.WorkspaceRole) model.WorkspaceUser {
	f.t.Helper()
	u := model.WorkspaceUser{WorkspaceID: workspaceID, UserID: userID, Role: role}
	f.create(&u)
	return u
}

// CompanyMember attaches userID to a company
func (f *Fixture) CompanyMember(companyID, userID string, role model.CompanyRole) model.CompanyUser {
	f.t.Helper()
	u := model.CompanyUser{CompanyID: companyID, UserID: userID, Role: role}
	f.create(&u)
	return u
}

// Permission writes a permission matrix row
func (f *Fixture) Permission(role model.WorkspaceRole, module model.Module, read, write, del, approve bool) {
	f.t.Helper()
	f.create(&model.RoleModulePermission{
		Role:       role,
		Module:     module,
		CanRead:    read,
		CanWrite:   write,
		CanDelete:  del,
		CanApprove: approve,
	})
}

// Reviewer inserts a reviewer row directly, bypassing the rank engine
func (f *Fixture) Reviewer(companyID, companyUserID string, level int) model.CompanyReviewer {
	f.t.Helper()
	r := model.CompanyReviewer{CompanyID: companyID, CompanyUserID: companyUserID, ReviewerLevel: level}
	if err := f.DB.Omit("CompanyUser").Create(&r).Error; err != nil {
		f.t.Fatalf("create reviewer: %v", err)
	}
	return r
}
