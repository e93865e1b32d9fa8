// Package access decides whether a principal may act on a company module.
//
// The check runs in three tiers and short-circuits on the first definitive
// answer:
//
//  1. the owner of the company's workspace is always allowed;
//  2. otherwise the principal needs both a workspace membership and a
//     company_users row for this company;
//  3. the permission matrix row for the principal's workspace role and the
//     module must have the requested flag set.
//
// The company role is only checked for existence. The workspace role selects
// the capability class, the company membership selects the scope.
//
// Every read failure denies.
package access

import (
	"context"
	"errors"

	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/pkg/database"
	"github.com/suteetoe/payroll/pkg/logger"
	"github.com/suteetoe/payroll/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reason explains an access decision
type Reason string

const (
	ReasonWorkspaceOwner          Reason = "WORKSPACE_OWNER"
	ReasonGranted                 Reason = "GRANTED"
	ReasonInvalidRequest          Reason = "INVALID_REQUEST"
	ReasonCompanyNotFound         Reason = "COMPANY_NOT_FOUND"
	ReasonNotInWorkspace          Reason = "NOT_IN_WORKSPACE"
	ReasonNotInCompany            Reason = "NOT_IN_COMPANY"
	ReasonInsufficientPermissions Reason = "INSUFFICIENT_PERMISSIONS"
	ReasonLookupFailed            Reason = "LOOKUP_FAILED"
)

// Decision is the outcome of Resolve
type Decision struct {
	Allowed       bool
	Reason        Reason
	WorkspaceRole model.WorkspaceRole
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Checker is the fail-closed boolean view used by the service layer
type Checker interface {
	CheckAccess(ctx context.Context, companyID, principalID string, module model.Module, permission model.Permission) bool
}

// Resolver resolves access against the relational store
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a resolver reading from db
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// CheckAccess returns true only for an explicit grant. Errors and missing
// data are logged and collapse to false.
func (r *Resolver) CheckAccess(ctx context.Context, companyID, principalID string, module model.Module, permission model.Permission) bool {
	log := logger.FromContext(ctx).With(
		zap.String("company_id", companyID),
		zap.String("principal_id", principalID),
		zap.String("module", string(module)),
		zap.String("permission", string(permission)),
	)

	decision, err := r.Resolve(ctx, companyID, principalID, module, permission)
	if err != nil {
		log.Error("Access check failed, denying", zap.Error(err))
		prometheus.RecordAccessDecision(false, string(ReasonLookupFailed))
		return false
	}

	prometheus.RecordAccessDecision(decision.Allowed, string(decision.Reason))
	if !decision.Allowed {
		log.Warn("Access denied", zap.String("reason", string(decision.Reason)))
		return false
	}

	log.Debug("Access granted", zap.String("reason", string(decision.Reason)))
	return true
}

// Resolve runs the three-tier check. A non-nil error always comes with a
// denying Decision.
func (r *Resolver) Resolve(ctx context.Context, companyID, principalID string, module model.Module, permission model.Permission) (Decision, error) {
	if companyID == "" || principalID == "" || module == "" || permission == "" {
		return deny(ReasonInvalidRequest), nil
	}

	db := r.db.WithContext(ctx)

	var company model.Company
	if err := db.Select("id", "workspace_id").Where("id = ?", companyID).Take(&company).Error; err != nil {
		return r.lookupFailure(err, ReasonCompanyNotFound, "company")
	}

	// Ownership bypasses the permission matrix entirely
	var owned int64
	if err := db.Model(&model.Workspace{}).
		Where("id = ? AND owner_user_id = ?", company.WorkspaceID, principalID).
		Count(&owned).Error; err != nil {
		return deny(ReasonLookupFailed), database.Classify(err, "workspace")
	}
	if owned > 0 {
		return Decision{Allowed: true, Reason: ReasonWorkspaceOwner, WorkspaceRole: model.WorkspaceRoleOwner}, nil
	}

	var membership model.WorkspaceUser
	if err := db.Select("id", "role").
		Where("workspace_id = ? AND user_id = ?", company.WorkspaceID, principalID).
		Take(&membership).Error; err != nil {
		return r.lookupFailure(err, ReasonNotInWorkspace, "workspace membership")
	}

	var companyUser model.CompanyUser
	if err := db.Select("id").
		Where("company_id = ? AND user_id = ?", companyID, principalID).
		Take(&companyUser).Error; err != nil {
		return r.lookupFailure(err, ReasonNotInCompany, "company membership")
	}

	var perms model.RoleModulePermission
	if err := db.Where("role = ? AND module = ?", membership.Role, module).Take(&perms).Error; err != nil {
		decision, err := r.lookupFailure(err, ReasonInsufficientPermissions, "permission matrix entry")
		decision.WorkspaceRole = membership.Role
		return decision, err
	}

	if !perms.Allows(permission) {
		return Decision{Reason: ReasonInsufficientPermissions, WorkspaceRole: membership.Role}, nil
	}

	return Decision{Allowed: true, Reason: ReasonGranted, WorkspaceRole: membership.Role}, nil
}

// lookupFailure turns a missing row into a plain denial and any other error
// into a denial plus a classified error.
func (r *Resolver) lookupFailure(err error, notFound Reason, what string) (Decision, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return deny(notFound), nil
	}
	return deny(ReasonLookupFailed), database.Classify(err, what)
}
