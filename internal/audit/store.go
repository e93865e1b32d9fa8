package audit

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/suteetoe/payroll/internal/identity"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/pkg/database"
	"github.com/suteetoe/payroll/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	DefaultLimit  = 50
	MaxLimit      = 200
	summaryWindow = 30 * 24 * time.Hour
	maxEntityRows = 1000

	// maxPage keeps the row offset of the last page within int range
	maxPage = math.MaxInt / MaxLimit
)

// Filter narrows an audit log listing. "ALL" or empty Action and EntityType
// mean no filter.
type Filter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	Action     string
	EntityType string
	Search     string
	Page       int
	Limit      int
}

// Pagination describes the page returned by List
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// Performer is who made a logged change, as known to the identity provider
type Performer struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// LogView is an audit log with its performer resolved. Performer is nil when
// the log has no performer or the lookup failed.
type LogView struct {
	model.AuditLog
	Performer *Performer `json:"performer"`
}

// Page is one page of audit logs
type Page struct {
	Logs       []LogView  `json:"logs"`
	Pagination Pagination `json:"pagination"`
}

// Summary aggregates recent audit activity
type Summary struct {
	Total    int            `json:"total"`
	ByAction map[string]int `json:"byAction"`
	ByDay    map[string]int `json:"byDay"`
}

// Store reads audit logs scoped to a company
type Store struct {
	db          *gorm.DB
	performers  identity.Source
	concurrency int
	now         func() time.Time
}

// NewStore creates a read store over db. Performers are resolved through
// source with at most concurrency lookups in flight; a nil source leaves
// every performer empty.
func NewStore(db *gorm.DB, source identity.Source, concurrency int) *Store {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Store{db: db, performers: source, concurrency: concurrency, now: time.Now}
}

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > maxPage {
		f.Page = maxPage
	}
	if f.Limit < 1 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
}

// scope applies the company and filter conditions
func (f Filter) scope(companyID string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("company_id = ?", companyID)
		if f.StartDate != nil {
			q = q.Where("created_at >= ?", *f.StartDate)
		}
		if f.EndDate != nil {
			q = q.Where("created_at <= ?", *f.EndDate)
		}
		if f.Action != "" && f.Action != "ALL" {
			q = q.Where("action = ?", f.Action)
		}
		if f.EntityType != "" && f.EntityType != "ALL" {
			q = q.Where("entity_type = ?", f.EntityType)
		}
		if search := strings.TrimSpace(f.Search); search != "" {
			pattern := "%" + strings.ToLower(search) + "%"
			q = q.Where("LOWER(entity_type) LIKE ? OR LOWER(entity_id) LIKE ?", pattern, pattern)
		}
		return q
	}
}

// List returns the newest logs first
func (s *Store) List(ctx context.Context, companyID string, f Filter) (*Page, error) {
	f.normalize()
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&model.AuditLog{}).Scopes(f.scope(companyID)).Count(&total).Error; err != nil {
		return nil, database.Classify(err, "audit logs")
	}

	logs := make([]model.AuditLog, 0, f.Limit)
	if err := db.Scopes(f.scope(companyID)).
		Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&logs).Error; err != nil {
		return nil, database.Classify(err, "audit logs")
	}

	return &Page{
		Logs: s.withPerformers(ctx, logs),
		Pagination: Pagination{
			Page:       f.Page,
			Limit:      f.Limit,
			Total:      total,
			TotalPages: int((total + int64(f.Limit) - 1) / int64(f.Limit)),
		},
	}, nil
}

// withPerformers looks up each distinct performer once. Failed lookups are
// logged and leave the performer nil.
func (s *Store) withPerformers(ctx context.Context, logs []model.AuditLog) []LogView {
	views := make([]LogView, len(logs))
	for i := range logs {
		views[i].AuditLog = logs[i]
	}
	if s.performers == nil {
		return views
	}

	ids := make([]string, 0, len(logs))
	seen := make(map[string]bool, len(logs))
	for _, l := range logs {
		if l.PerformedBy != "" && !seen[l.PerformedBy] {
			seen[l.PerformedBy] = true
			ids = append(ids, l.PerformedBy)
		}
	}

	log := logger.FromContext(ctx)
	found := make([]*Performer, len(ids))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			profile, err := s.performers.GetPrincipal(ctx, id)
			if err != nil {
				log.Warn("Failed to resolve audit performer", zap.String("user_id", id), zap.Error(err))
				return nil
			}
			found[i] = &Performer{Email: profile.Email, FullName: profile.DisplayName}
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]*Performer, len(ids))
	for i, id := range ids {
		byID[id] = found[i]
	}
	for i := range views {
		views[i].Performer = byID[views[i].PerformedBy]
	}
	return views
}

// Summary counts the last 30 days of activity by action and by UTC day
func (s *Store) Summary(ctx context.Context, companyID string) (*Summary, error) {
	since := s.now().Add(-summaryWindow)

	var rows []model.AuditLog
	if err := s.db.WithContext(ctx).
		Select("action", "created_at").
		Where("company_id = ? AND created_at >= ?", companyID, since).
		Find(&rows).Error; err != nil {
		return nil, database.Classify(err, "audit logs")
	}

	summary := &Summary{
		Total:    len(rows),
		ByAction: make(map[string]int),
		ByDay:    make(map[string]int),
	}
	for _, row := range rows {
		summary.ByAction[string(row.Action)]++
		summary.ByDay[row.CreatedAt.UTC().Format("2006-01-02")]++
	}

	return summary, nil
}

// EntityTypes returns the sorted distinct entity types logged for a company
func (s *Store) EntityTypes(ctx context.Context, companyID string) ([]string, error) {
	var types []string
	if err := s.db.WithContext(ctx).
		Model(&model.AuditLog{}).
		Where("company_id = ?", companyID).
		Distinct().
		Limit(maxEntityRows).
		Pluck("entity_type", &types).Error; err != nil {
		return nil, database.Classify(err, "audit entity types")
	}

	sort.Strings(types)
	return types, nil
}
