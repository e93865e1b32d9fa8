// Package reviewer maintains each company's approval chain.
//
// Reviewer levels of a company always form the dense range 1..N. Every
// single-item mutation runs under the company's Locker and inside one
// transaction that row-locks the company, so shifts and the mutation itself
// either all apply or none do. Reorder is the exception: by default it trusts
// the caller and applies each assignment independently.
package reviewer

import (
	"context"
	"fmt"
	"time"

	"github.com/suteetoe/payroll/internal/access"
	"github.com/suteetoe/payroll/internal/audit"
	"github.com/suteetoe/payroll/internal/identity"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/pkg/apperror"
	"github.com/suteetoe/payroll/pkg/config"
	"github.com/suteetoe/payroll/pkg/database"
	"github.com/suteetoe/payroll/pkg/logger"
	"github.com/suteetoe/payroll/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const entityType = "company_reviewer"

// View is a reviewer enriched with the principal's identity profile.
// Email, FullNames and LastSignIn are null when the lookup failed.
type View struct {
	ID            string            `json:"id"`
	ReviewerLevel int               `json:"reviewer_level"`
	CreatedAt     time.Time         `json:"created_at"`
	CompanyUserID string            `json:"company_user_id"`
	UserID        string            `json:"user_id"`
	Email         *string           `json:"email"`
	FullNames     *string           `json:"full_names"`
	Role          model.CompanyRole `json:"role"`
	Status        identity.Status   `json:"status"`
	LastSignIn    *time.Time        `json:"last_sign_in"`
}

// EligibleView is a company user who could be added to the chain
type EligibleView struct {
	CompanyUserID string            `json:"company_user_id"`
	UserID        string            `json:"user_id"`
	Email         string            `json:"email"`
	FullNames     string            `json:"full_names"`
	Role          model.CompanyRole `json:"role"`
	Status        identity.Status   `json:"status"`
}

// Assignment is one entry of a bulk reorder
type Assignment struct {
	ID            string `json:"id"`
	ReviewerLevel int    `json:"reviewer_level"`
}

// Engine implements the reviewer operations
type Engine struct {
	db       *gorm.DB
	access   access.Checker
	identity identity.Source
	audit    audit.Recorder
	locker   Locker
	cfg      config.ReviewerConfig
}

// NewEngine wires the engine to its collaborators
func NewEngine(db *gorm.DB, checker access.Checker, source identity.Source, recorder audit.Recorder, locker Locker, cfg config.ReviewerConfig) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Engine{
		db:       db,
		access:   checker,
		identity: source,
		audit:    recorder,
		locker:   locker,
		cfg:      cfg,
	}
}

// AddReviewer puts a company user into the chain at level. Reviewers at or
// above an occupied level move up by one; a level past the end is appended.
func (e *Engine) AddReviewer(ctx context.Context, principalID, companyID, companyUserID string, level int) (view *View, err error) {
	defer func() { prometheus.RecordReviewerOperation("add", err) }()

	if companyUserID == "" {
		return nil, fmt.Errorf("%w: company user ID is required", apperror.ErrValidation)
	}
	if level < 1 {
		return nil, fmt.Errorf("%w: reviewer level must be at least 1", apperror.ErrValidation)
	}
	if err := e.authorize(ctx, companyID, principalID, model.PermissionWrite); err != nil {
		return nil, err
	}

	var created model.CompanyReviewer
	err = e.mutate(ctx, companyID, func(tx *gorm.DB) error {
		var companyUser model.CompanyUser
		if err := tx.Where("id = ? AND company_id = ?", companyUserID, companyID).Take(&companyUser).Error; err != nil {
			return database.Classify(err, "company user")
		}
		if !companyUser.Role.CanReview() {
			return fmt.Errorf("%w: only ADMIN and MANAGER users can be reviewers", apperror.ErrConflict)
		}

		var existing int64
		if err := tx.Model(&model.CompanyReviewer{}).
			Where("company_id = ? AND company_user_id = ?", companyID, companyUserID).
			Count(&existing).Error; err != nil {
			return database.Classify(err, "reviewer")
		}
		if existing > 0 {
			return fmt.Errorf("%w: user is already a reviewer for this company", apperror.ErrConflict)
		}

		n, err := countReviewers(tx, companyID)
		if err != nil {
			return err
		}
		if level > n+1 {
			level = n + 1
		}
		if level <= n {
			if err := shift(tx, companyID, 1, "reviewer_level >= ?", level); err != nil {
				return err
			}
		}

		created = model.CompanyReviewer{
			CompanyID:     companyID,
			CompanyUserID: companyUserID,
			ReviewerLevel: level,
			CompanyUser:   companyUser,
		}
		return database.Classify(tx.Omit(clause.Associations).Create(&created).Error, "reviewer")
	})
	if err != nil {
		return nil, err
	}

	v := e.enrich(ctx, created)
	e.audit.Record(ctx, audit.Entry{
		CompanyID:   companyID,
		EntityType:  entityType,
		EntityID:    created.ID,
		Action:      model.AuditActionCreate,
		PerformedBy: principalID,
		NewData:     v,
	})

	logger.FromContext(ctx).Info("Reviewer added",
		zap.String("company_id", companyID),
		zap.String("reviewer_id", created.ID),
		zap.Int("reviewer_level", created.ReviewerLevel))

	return &v, nil
}

// UpdateLevel moves a reviewer within the chain. A promotion shifts
// [level, old) up by one, a demotion shifts (old, level] down by one.
// Levels past the end are clamped to N.
func (e *Engine) UpdateLevel(ctx context.Context, principalID, companyID, reviewerID string, level int) (view *View, err error) {
	defer func() { prometheus.RecordReviewerOperation("update", err) }()

	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer ID is required", apperror.ErrValidation)
	}
	if level < 1 {
		return nil, fmt.Errorf("%w: reviewer level must be at least 1", apperror.ErrValidation)
	}
	if err := e.authorize(ctx, companyID, principalID, model.PermissionApprove); err != nil {
		return nil, err
	}

	var (
		reviewer model.CompanyReviewer
		oldLevel int
	)
	err = e.mutate(ctx, companyID, func(tx *gorm.DB) error {
		if err := findReviewer(tx, companyID, reviewerID, &reviewer); err != nil {
			return err
		}
		oldLevel = reviewer.ReviewerLevel

		n, err := countReviewers(tx, companyID)
		if err != nil {
			return err
		}
		if level > n {
			level = n
		}

		switch {
		case level < oldLevel:
			err = shift(tx, companyID, 1, "reviewer_level >= ? AND reviewer_level < ?", level, oldLevel)
		case level > oldLevel:
			err = shift(tx, companyID, -1, "reviewer_level > ? AND reviewer_level <= ?", oldLevel, level)
		default:
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&model.CompanyReviewer{}).
			Where("id = ?", reviewer.ID).
			UpdateColumn("reviewer_level", level).Error; err != nil {
			return database.Classify(err, "reviewer")
		}
		reviewer.ReviewerLevel = level
		return nil
	})
	if err != nil {
		return nil, err
	}

	v := e.enrich(ctx, reviewer)
	e.audit.Record(ctx, audit.Entry{
		CompanyID:   companyID,
		EntityType:  entityType,
		EntityID:    reviewer.ID,
		Action:      model.AuditActionUpdate,
		PerformedBy: principalID,
		OldData:     map[string]int{"reviewer_level": oldLevel},
		NewData:     v,
	})

	logger.FromContext(ctx).Info("Reviewer level updated",
		zap.String("company_id", companyID),
		zap.String("reviewer_id", reviewer.ID),
		zap.Int("old_level", oldLevel),
		zap.Int("new_level", reviewer.ReviewerLevel))

	return &v, nil
}

// RemoveReviewer deletes a reviewer and closes the gap it leaves
func (e *Engine) RemoveReviewer(ctx context.Context, principalID, companyID, reviewerID string) (err error) {
	defer func() { prometheus.RecordReviewerOperation("remove", err) }()

	if reviewerID == "" {
		return fmt.Errorf("%w: reviewer ID is required", apperror.ErrValidation)
	}
	if err := e.authorize(ctx, companyID, principalID, model.PermissionDelete); err != nil {
		return err
	}

	var removed model.CompanyReviewer
	err = e.mutate(ctx, companyID, func(tx *gorm.DB) error {
		if err := findReviewer(tx, companyID, reviewerID, &removed); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND company_id = ?", removed.ID, companyID).
			Delete(&model.CompanyReviewer{}).Error; err != nil {
			return database.Classify(err, "reviewer")
		}
		return shift(tx, companyID, -1, "reviewer_level > ?", removed.ReviewerLevel)
	})
	if err != nil {
		return err
	}

	e.audit.Record(ctx, audit.Entry{
		CompanyID:   companyID,
		EntityType:  entityType,
		EntityID:    removed.ID,
		Action:      model.AuditActionDelete,
		PerformedBy: principalID,
		OldData: map[string]interface{}{
			"id":              removed.ID,
			"reviewer_level":  removed.ReviewerLevel,
			"company_user_id": removed.CompanyUserID,
			"user_id":         removed.CompanyUser.UserID,
		},
	})

	logger.FromContext(ctx).Info("Reviewer removed",
		zap.String("company_id", companyID),
		zap.String("reviewer_id", removed.ID),
		zap.Int("reviewer_level", removed.ReviewerLevel))

	return nil
}

// Reorder assigns levels in bulk. Loose mode applies every assignment
// concurrently and does not check the result. Strict mode, selected by strict
// or by configuration, requires a permutation of 1..N covering every reviewer
// and applies it in one transaction.
func (e *Engine) Reorder(ctx context.Context, principalID, companyID string, assignments []Assignment, strict bool) (err error) {
	defer func() { prometheus.RecordReviewerOperation("reorder", err) }()

	if len(assignments) == 0 {
		return fmt.Errorf("%w: reviewers array is required", apperror.ErrValidation)
	}
	for _, a := range assignments {
		if a.ID == "" {
			return fmt.Errorf("%w: reviewer ID is required", apperror.ErrValidation)
		}
		if a.ReviewerLevel < 1 {
			return fmt.Errorf("%w: reviewer level must be at least 1", apperror.ErrValidation)
		}
	}
	if err := e.authorize(ctx, companyID, principalID, model.PermissionApprove); err != nil {
		return err
	}

	strict = strict || e.cfg.StrictReorder
	if strict {
		err = e.mutate(ctx, companyID, func(tx *gorm.DB) error {
			return applyPermutation(tx, companyID, assignments)
		})
	} else {
		err = e.reorderLoose(ctx, companyID, assignments)
	}
	if err != nil {
		return err
	}

	e.audit.Record(ctx, audit.Entry{
		CompanyID:   companyID,
		EntityType:  entityType,
		EntityID:    companyID,
		Action:      model.AuditActionUpdate,
		PerformedBy: principalID,
		NewData:     map[string]interface{}{"reordered": assignments, "strict": strict},
	})

	logger.FromContext(ctx).Info("Reviewers reordered",
		zap.String("company_id", companyID),
		zap.Int("count", len(assignments)),
		zap.Bool("strict", strict))

	return nil
}

func (e *Engine) reorderLoose(ctx context.Context, companyID string, assignments []Assignment) error {
	release, err := e.locker.Acquire(ctx, companyID)
	if err != nil {
		return err
	}
	defer release()

	log := logger.FromContext(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, a := range assignments {
		g.Go(func() error {
			res := e.db.WithContext(gctx).
				Model(&model.CompanyReviewer{}).
				Where("id = ? AND company_id = ?", a.ID, companyID).
				UpdateColumn("reviewer_level", a.ReviewerLevel)
			if res.Error != nil {
				return database.Classify(res.Error, "reviewer")
			}
			if res.RowsAffected == 0 {
				log.Warn("Reorder skipped unknown reviewer",
					zap.String("company_id", companyID),
					zap.String("reviewer_id", a.ID))
			}
			return nil
		})
	}
	return g.Wait()
}

// applyPermutation checks that assignments cover every reviewer exactly once
// with the levels 1..N, then writes them.
func applyPermutation(tx *gorm.DB, companyID string, assignments []Assignment) error {
	var current []model.CompanyReviewer
	if err := tx.Select("id", "reviewer_level").Where("company_id = ?", companyID).Find(&current).Error; err != nil {
		return database.Classify(err, "reviewers")
	}

	n := len(current)
	if len(assignments) != n {
		return fmt.Errorf("%w: reorder must assign all %d reviewers, got %d", apperror.ErrValidation, n, len(assignments))
	}

	known := make(map[string]bool, n)
	for _, r := range current {
		known[r.ID] = true
	}
	seenID := make(map[string]bool, n)
	seenLevel := make(map[int]bool, n)
	for _, a := range assignments {
		if !known[a.ID] {
			return fmt.Errorf("%w: reviewer %s", apperror.ErrNotFound, a.ID)
		}
		if seenID[a.ID] {
			return fmt.Errorf("%w: reviewer %s is listed more than once", apperror.ErrValidation, a.ID)
		}
		if a.ReviewerLevel > n {
			return fmt.Errorf("%w: reviewer level %d is outside 1..%d", apperror.ErrValidation, a.ReviewerLevel, n)
		}
		if seenLevel[a.ReviewerLevel] {
			return fmt.Errorf("%w: reviewer level %d is assigned more than once", apperror.ErrValidation, a.ReviewerLevel)
		}
		seenID[a.ID] = true
		seenLevel[a.ReviewerLevel] = true
	}

	for _, a := range assignments {
		if err := tx.Model(&model.CompanyReviewer{}).
			Where("id = ? AND company_id = ?", a.ID, companyID).
			UpdateColumn("reviewer_level", a.ReviewerLevel).Error; err != nil {
			return database.Classify(err, "reviewer")
		}
	}
	return nil
}

// List returns the chain ordered by level. Identity failures degrade per row.
func (e *Engine) List(ctx context.Context, principalID, companyID string) (views []View, err error) {
	defer func() { prometheus.RecordReviewerOperation("list", err) }()

	if err := e.authorize(ctx, companyID, principalID, model.PermissionRead); err != nil {
		return nil, err
	}

	var reviewers []model.CompanyReviewer
	if err := e.db.WithContext(ctx).
		Preload("CompanyUser").
		Where("company_id = ?", companyID).
		Order("reviewer_level ASC").
		Find(&reviewers).Error; err != nil {
		return nil, database.Classify(err, "reviewers")
	}

	views = make([]View, len(reviewers))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, r := range reviewers {
		g.Go(func() error {
			views[i] = e.enrich(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	return views, nil
}

// Eligible returns ADMIN and MANAGER company users who are not reviewers yet
// and whose identity is active. Users whose lookup fails are left out.
func (e *Engine) Eligible(ctx context.Context, principalID, companyID string) (views []EligibleView, err error) {
	defer func() { prometheus.RecordReviewerOperation("eligible", err) }()

	if err := e.authorize(ctx, companyID, principalID, model.PermissionRead); err != nil {
		return nil, err
	}

	reviewers := e.db.Model(&model.CompanyReviewer{}).
		Select("company_user_id").
		Where("company_id = ?", companyID)

	var users []model.CompanyUser
	if err := e.db.WithContext(ctx).
		Where("company_id = ? AND role IN ?", companyID, model.ReviewerRoles).
		Where("id NOT IN (?)", reviewers).
		Order("created_at ASC").
		Find(&users).Error; err != nil {
		return nil, database.Classify(err, "company users")
	}

	log := logger.FromContext(ctx)
	candidates := make([]*EligibleView, len(users))
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, u := range users {
		g.Go(func() error {
			profile, err := e.identity.GetPrincipal(ctx, u.UserID)
			if err != nil {
				log.Warn("Skipping eligible reviewer, identity lookup failed",
					zap.String("user_id", u.UserID),
					zap.Error(err))
				return nil
			}
			if profile.Status() != identity.StatusActive {
				return nil
			}
			candidates[i] = &EligibleView{
				CompanyUserID: u.ID,
				UserID:        u.UserID,
				Email:         profile.Email,
				FullNames:     profile.DisplayName,
				Role:          u.Role,
				Status:        profile.Status(),
			}
			return nil
		})
	}
	_ = g.Wait()

	views = make([]EligibleView, 0, len(candidates))
	for _, c := range candidates {
		if c != nil {
			views = append(views, *c)
		}
	}
	return views, nil
}

func (e *Engine) authorize(ctx context.Context, companyID, principalID string, permission model.Permission) error {
	if !e.access.CheckAccess(ctx, companyID, principalID, model.ModuleOrgSettings, permission) {
		return fmt.Errorf("%w: %s on %s", apperror.ErrNotAuthorized, permission, model.ModuleOrgSettings)
	}
	return nil
}

// mutate runs fn under the company lock in a transaction holding the company
// row lock.
func (e *Engine) mutate(ctx context.Context, companyID string, fn func(tx *gorm.DB) error) error {
	release, err := e.locker.Acquire(ctx, companyID)
	if err != nil {
		return err
	}
	defer release()

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var company model.Company
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", companyID).
			Take(&company).Error; err != nil {
			return database.Classify(err, "company")
		}
		return fn(tx)
	})
	if err != nil && !apperror.Known(err) {
		return database.Classify(err, "reviewers")
	}
	return err
}

// enrich attaches the identity profile. A failed lookup leaves the profile
// fields null and the status UNKNOWN.
func (e *Engine) enrich(ctx context.Context, r model.CompanyReviewer) View {
	v := View{
		ID:            r.ID,
		ReviewerLevel: r.ReviewerLevel,
		CreatedAt:     r.CreatedAt,
		CompanyUserID: r.CompanyUserID,
		UserID:        r.CompanyUser.UserID,
		Role:          r.CompanyUser.Role,
		Status:        identity.StatusUnknown,
	}

	profile, err := e.identity.GetPrincipal(ctx, r.CompanyUser.UserID)
	if err != nil {
		logger.FromContext(ctx).Warn("Identity lookup failed",
			zap.String("reviewer_id", r.ID),
			zap.String("user_id", r.CompanyUser.UserID),
			zap.Error(err))
		return v
	}

	v.Email = optional(profile.Email)
	v.FullNames = optional(profile.DisplayName)
	v.Status = profile.Status()
	v.LastSignIn = profile.LastSignInAt
	return v
}

func findReviewer(tx *gorm.DB, companyID, reviewerID string, out *model.CompanyReviewer) error {
	err := tx.Preload("CompanyUser").
		Where("id = ? AND company_id = ?", reviewerID, companyID).
		Take(out).Error
	return database.Classify(err, "reviewer")
}

func countReviewers(tx *gorm.DB, companyID string) (int, error) {
	var n int64
	if err := tx.Model(&model.CompanyReviewer{}).Where("company_id = ?", companyID).Count(&n).Error; err != nil {
		return 0, database.Classify(err, "reviewers")
	}
	return int(n), nil
}

// shift adds delta to the level of every reviewer of the company matching cond
func shift(tx *gorm.DB, companyID string, delta int, cond string, args ...interface{}) error {
	err := tx.Model(&model.CompanyReviewer{}).
		Where("company_id = ?", companyID).
		Where(cond, args...).
		UpdateColumn("reviewer_level", gorm.Expr("reviewer_level + ?", delta)).Error
	return database.Classify(err, "reviewer levels")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
