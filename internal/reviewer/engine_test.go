package reviewer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suteetoe/payroll/internal/audit"
	"github.com/suteetoe/payroll/internal/identity"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/internal/testutil"
	"github.com/suteetoe/payroll/pkg/apperror"
	"github.com/suteetoe/payroll/pkg/config"
	"gorm.io/gorm"
)

type fakeChecker struct {
	mu      sync.Mutex
	denied  bool
	checked []model.Permission
}

func (f *fakeChecker) CheckAccess(ctx context.Context, companyID, principalID string, module model.Module, permission model.Permission) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checked = append(f.checked, permission)
	return !f.denied && module == model.ModuleOrgSettings
}

func (f *fakeChecker) last() model.Permission {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.checked) == 0 {
		return ""
	}
	return f.checked[len(f.checked)-1]
}

type fakeIdentity struct {
	mu       sync.Mutex
	profiles map[string]*identity.Profile
}

func (f *fakeIdentity) GetPrincipal(ctx context.Context, id string) (*identity.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: identity lookup timed out", apperror.ErrDependency)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(ctx context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingAudit) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type harness struct {
	db        *gorm.DB
	fx        *testutil.Fixture
	engine    *Engine
	checker   *fakeChecker
	identity  *fakeIdentity
	audit     *recordingAudit
	companyID string
	principal string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	fx := testutil.NewFixture(t, db)
	owner := uuid.NewString()
	ws := fx.Workspace(owner)
	company := fx.Company(ws.ID)

	h := &harness{
		db:        db,
		fx:        fx,
		checker:   &fakeChecker{},
		identity:  &fakeIdentity{profiles: make(map[string]*identity.Profile)},
		audit:     &recordingAudit{},
		companyID: company.ID,
		principal: owner,
	}
	h.engine = NewEngine(db, h.checker, h.identity, h.audit, NewLocalLocker(5*time.Second), config.ReviewerConfig{Concurrency: 4})
	return h
}

// member creates a company user with an active identity
func (h *harness) member(role model.CompanyRole) model.CompanyUser {
	userID := uuid.NewString()
	h.identity.profiles[userID] = &identity.Profile{
		ID:          userID,
		Email:       userID[:8] + "@example.com",
		DisplayName: "User " + userID[:8],
	}
	return h.fx.CompanyMember(h.companyID, userID, role)
}

// chain seeds n reviewers at levels 1..n and returns their IDs by level
func (h *harness) chain(t *testing.T, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		r := h.fx.Reviewer(h.companyID, h.member(model.CompanyRoleManager).ID, i+1)
		ids[i] = r.ID
	}
	return ids
}

func (h *harness) levels(t *testing.T) map[string]int {
	t.Helper()
	var rows []model.CompanyReviewer
	require.NoError(t, h.db.Where("company_id = ?", h.companyID).Find(&rows).Error)
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ID] = r.ReviewerLevel
	}
	return out
}

func (h *harness) assertDense(t *testing.T) {
	t.Helper()
	levels := h.levels(t)
	got := make([]int, 0, len(levels))
	for _, l := range levels {
		got = append(got, l)
	}
	sort.Ints(got)
	for i, l := range got {
		assert.Equal(t, i+1, l, "levels must be 1..N without gaps: %v", got)
	}
}

func TestAddReviewerInsertsAtOccupiedLevel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 3)
	cu := h.member(model.CompanyRoleAdmin)

	view, err := h.engine.AddReviewer(ctx, h.principal, h.companyID, cu.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, view.ReviewerLevel)
	assert.Equal(t, cu.UserID, view.UserID)
	assert.Equal(t, model.CompanyRoleAdmin, view.Role)
	assert.Equal(t, identity.StatusActive, view.Status)
	require.NotNil(t, view.Email)
	assert.Equal(t, model.PermissionWrite, h.checker.last())

	levels := h.levels(t)
	assert.Equal(t, 1, levels[ids[0]])
	assert.Equal(t, 2, levels[view.ID])
	assert.Equal(t, 3, levels[ids[1]])
	assert.Equal(t, 4, levels[ids[2]])
	h.assertDense(t)

	entries := h.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionCreate, entries[0].Action)
	assert.Equal(t, view.ID, entries[0].EntityID)
	assert.Equal(t, h.principal, entries[0].PerformedBy)
	assert.Equal(t, h.companyID, entries[0].CompanyID)
}

func TestAddReviewerAppendsPastEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.engine.AddReviewer(ctx, h.principal, h.companyID, h.member(model.CompanyRoleManager).ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReviewerLevel)

	second, err := h.engine.AddReviewer(ctx, h.principal, h.companyID, h.member(model.CompanyRoleManager).ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ReviewerLevel)
	h.assertDense(t)
}

func TestAddReviewerErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 2)
	admin := h.member(model.CompanyRoleAdmin)
	employee := h.member(model.CompanyRoleEmployee)

	var existing model.CompanyReviewer
	require.NoError(t, h.db.Where("id = ?", ids[0]).Take(&existing).Error)

	otherWS := h.fx.Workspace(uuid.NewString())
	otherCompany := h.fx.Company(otherWS.ID)
	outsider := h.fx.CompanyMember(otherCompany.ID, uuid.NewString(), model.CompanyRoleAdmin)

	tests := []struct {
		name          string
		companyUserID string
		level         int
		want          error
	}{
		{"missing company user", "", 1, apperror.ErrValidation},
		{"level zero", admin.ID, 0, apperror.ErrValidation},
		{"negative level", admin.ID, -3, apperror.ErrValidation},
		{"unknown company user", uuid.NewString(), 1, apperror.ErrNotFound},
		{"member of another company", outsider.ID, 1, apperror.ErrNotFound},
		{"ineligible role", employee.ID, 1, apperror.ErrConflict},
		{"already a reviewer", existing.CompanyUserID, 1, apperror.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.AddReviewer(ctx, h.principal, h.companyID, tt.companyUserID, tt.level)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	levels := h.levels(t)
	assert.Len(t, levels, 2)
	assert.Equal(t, 1, levels[ids[0]])
	assert.Equal(t, 2, levels[ids[1]])
	assert.Empty(t, h.audit.all())
}

func TestMutationsDeniedWithoutAccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 3)
	admin := h.member(model.CompanyRoleAdmin)
	h.checker.denied = true

	_, err := h.engine.AddReviewer(ctx, h.principal, h.companyID, admin.ID, 1)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = h.engine.UpdateLevel(ctx, h.principal, h.companyID, ids[2], 1)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	err = h.engine.RemoveReviewer(ctx, h.principal, h.companyID, ids[0])
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	err = h.engine.Reorder(ctx, h.principal, h.companyID, []Assignment{{ID: ids[0], ReviewerLevel: 3}}, false)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = h.engine.List(ctx, h.principal, h.companyID)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	_, err = h.engine.Eligible(ctx, h.principal, h.companyID)
	assert.ErrorIs(t, err, apperror.ErrNotAuthorized)

	levels := h.levels(t)
	assert.Equal(t, map[string]int{ids[0]: 1, ids[1]: 2, ids[2]: 3}, levels)
	assert.Empty(t, h.audit.all())
}

func TestOperationsCheckTheirPermission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 2)

	_, err := h.engine.List(ctx, h.principal, h.companyID)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionRead, h.checker.last())

	_, err = h.engine.Eligible(ctx, h.principal, h.companyID)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionRead, h.checker.last())

	_, err = h.engine.UpdateLevel(ctx, h.principal, h.companyID, ids[1], 1)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionApprove, h.checker.last())

	err = h.engine.Reorder(ctx, h.principal, h.companyID, []Assignment{{ID: ids[0], ReviewerLevel: 1}}, false)
	require.NoError(t, err)
	assert.Equal(t, model.PermissionApprove, h.checker.last())

	err = h.engine.RemoveReviewer(ctx, h.principal, h.companyID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.PermissionDelete, h.checker.last())
}

func TestUpdateLevelPromotion(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 5)

	view, err := h.engine.UpdateLevel(context.Background(), h.principal, h.companyID, ids[3], 2)
	require.NoError(t, err)
	assert.Equal(t, 2, view.ReviewerLevel)

	assert.Equal(t, map[string]int{
		ids[0]: 1,
		ids[1]: 3,
		ids[2]: 4,
		ids[3]: 2,
		ids[4]: 5,
	}, h.levels(t))

	entries := h.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionUpdate, entries[0].Action)
	assert.Equal(t, map[string]int{"reviewer_level": 4}, entries[0].OldData)
}

func TestUpdateLevelDemotion(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 5)

	_, err := h.engine.UpdateLevel(context.Background(), h.principal, h.companyID, ids[1], 4)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		ids[0]: 1,
		ids[1]: 4,
		ids[2]: 2,
		ids[3]: 3,
		ids[4]: 5,
	}, h.levels(t))
}

func TestUpdateLevelNoOpAndClamp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 4)

	before := h.levels(t)
	view, err := h.engine.UpdateLevel(ctx, h.principal, h.companyID, ids[2], 3)
	require.NoError(t, err)
	assert.Equal(t, 3, view.ReviewerLevel)
	assert.Equal(t, before, h.levels(t))

	view, err = h.engine.UpdateLevel(ctx, h.principal, h.companyID, ids[0], 99)
	require.NoError(t, err)
	assert.Equal(t, 4, view.ReviewerLevel)
	assert.Equal(t, map[string]int{ids[0]: 4, ids[1]: 1, ids[2]: 2, ids[3]: 3}, h.levels(t))
}

func TestUpdateLevelErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 2)

	_, err := h.engine.UpdateLevel(ctx, h.principal, h.companyID, ids[0], 0)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = h.engine.UpdateLevel(ctx, h.principal, h.companyID, uuid.NewString(), 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	otherWS := h.fx.Workspace(uuid.NewString())
	otherCompany := h.fx.Company(otherWS.ID)
	_, err = h.engine.UpdateLevel(ctx, h.principal, otherCompany.ID, ids[0], 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = h.engine.UpdateLevel(ctx, h.principal, uuid.NewString(), ids[0], 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestRemoveReviewerCompacts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 4)

	require.NoError(t, h.engine.RemoveReviewer(ctx, h.principal, h.companyID, ids[1]))
	assert.Equal(t, map[string]int{ids[0]: 1, ids[2]: 2, ids[3]: 3}, h.levels(t))

	entries := h.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, model.AuditActionDelete, entries[0].Action)
	assert.Equal(t, ids[1], entries[0].EntityID)

	err := h.engine.RemoveReviewer(ctx, h.principal, h.companyID, ids[1])
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestDensityAfterMixedSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []string
	for _, level := range []int{1, 1, 2, 9, 3, 1} {
		v, err := h.engine.AddReviewer(ctx, h.principal, h.companyID, h.member(model.CompanyRoleManager).ID, level)
		require.NoError(t, err)
		ids = append(ids, v.ID)
		h.assertDense(t)
	}

	moves := []struct {
		id    string
		level int
	}{
		{ids[0], 6}, {ids[5], 1}, {ids[3], 3}, {ids[2], 2}, {ids[4], 5},
	}
	for _, m := range moves {
		_, err := h.engine.UpdateLevel(ctx, h.principal, h.companyID, m.id, m.level)
		require.NoError(t, err)
		h.assertDense(t)
	}

	for _, id := range []string{ids[3], ids[0]} {
		require.NoError(t, h.engine.RemoveReviewer(ctx, h.principal, h.companyID, id))
		h.assertDense(t)
	}
	assert.Len(t, h.levels(t), 4)
}

func TestConcurrentAddsKeepDensity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	members := make([]model.CompanyUser, 8)
	for i := range members {
		members[i] = h.member(model.CompanyRoleAdmin)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.engine.AddReviewer(ctx, h.principal, h.companyID, m.ID, 1)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, h.levels(t), len(members))
	h.assertDense(t)
}

func TestReorderLooseTrustsCaller(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 3)

	err := h.engine.Reorder(ctx, h.principal, h.companyID, []Assignment{
		{ID: ids[0], ReviewerLevel: 2},
		{ID: ids[1], ReviewerLevel: 2},
		{ID: uuid.NewString(), ReviewerLevel: 1},
	}, false)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{ids[0]: 2, ids[1]: 2, ids[2]: 3}, h.levels(t))

	entries := h.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, h.companyID, entries[0].EntityID)
	assert.Equal(t, model.AuditActionUpdate, entries[0].Action)
}

func TestReorderValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 2)

	err := h.engine.Reorder(ctx, h.principal, h.companyID, nil, false)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	err = h.engine.Reorder(ctx, h.principal, h.companyID, []Assignment{{ID: "", ReviewerLevel: 1}}, false)
	assert.ErrorIs(t, err, apperror.ErrValidation)

	err = h.engine.Reorder(ctx, h.principal, h.companyID, []Assignment{{ID: ids[0], ReviewerLevel: 0}}, false)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestReorderStrict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := h.chain(t, 3)
	original := h.levels(t)

	rejected := []struct {
		name        string
		assignments []Assignment
		want        error
	}{
		{"missing reviewer", []Assignment{{ids[0], 2}, {ids[1], 1}}, apperror.ErrValidation},
		{"duplicate level", []Assignment{{ids[0], 1}, {ids[1], 1}, {ids[2], 2}}, apperror.ErrValidation},
		{"duplicate reviewer", []Assignment{{ids[0], 1}, {ids[0], 2}, {ids[2], 3}}, apperror.ErrValidation},
		{"level out of range", []Assignment{{ids[0], 1}, {ids[1], 2}, {ids[2], 4}}, apperror.ErrValidation},
		{"unknown reviewer", []Assignment{{ids[0], 1}, {ids[1], 2}, {uuid.NewString(), 3}}, apperror.ErrNotFound},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			err := h.engine.Reorder(ctx, h.principal, h.companyID, tt.assignments, true)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, original, h.levels(t))
		})
	}

	err := h.engine.Reorder(ctx, h.principal, h.companyID, []Assignment{
		{ID: ids[0], ReviewerLevel: 3},
		{ID: ids[1], ReviewerLevel: 1},
		{ID: ids[2], ReviewerLevel: 2},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{ids[0]: 3, ids[1]: 1, ids[2]: 2}, h.levels(t))
}

func TestReorderStrictFromConfig(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 2)
	h.engine.cfg.StrictReorder = true

	err := h.engine.Reorder(context.Background(), h.principal, h.companyID, []Assignment{{ID: ids[0], ReviewerLevel: 2}}, false)
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestListOrdersAndDegradesIdentity(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 3)

	var broken model.CompanyReviewer
	require.NoError(t, h.db.Preload("CompanyUser").Where("id = ?", ids[1]).Take(&broken).Error)
	delete(h.identity.profiles, broken.CompanyUser.UserID)

	var suspended model.CompanyReviewer
	require.NoError(t, h.db.Preload("CompanyUser").Where("id = ?", ids[2]).Take(&suspended).Error)
	h.identity.profiles[suspended.CompanyUser.UserID].IsBanned = true

	views, err := h.engine.List(context.Background(), h.principal, h.companyID)
	require.NoError(t, err)
	require.Len(t, views, 3)

	for i, v := range views {
		assert.Equal(t, ids[i], v.ID)
		assert.Equal(t, i+1, v.ReviewerLevel)
	}

	assert.Equal(t, identity.StatusActive, views[0].Status)
	require.NotNil(t, views[0].Email)

	assert.Equal(t, identity.StatusUnknown, views[1].Status)
	assert.Nil(t, views[1].Email)
	assert.Nil(t, views[1].FullNames)
	assert.Equal(t, broken.CompanyUser.UserID, views[1].UserID)
	assert.Equal(t, model.CompanyRoleManager, views[1].Role)

	assert.Equal(t, identity.StatusSuspended, views[2].Status)
}

func TestEligibleFilters(t *testing.T) {
	h := newHarness(t)

	active := h.member(model.CompanyRoleAdmin)
	manager := h.member(model.CompanyRoleManager)
	h.member(model.CompanyRoleEmployee)

	suspended := h.member(model.CompanyRoleManager)
	h.identity.profiles[suspended.UserID].IsBanned = true

	unresolved := h.member(model.CompanyRoleAdmin)
	delete(h.identity.profiles, unresolved.UserID)

	reviewer := h.member(model.CompanyRoleAdmin)
	h.fx.Reviewer(h.companyID, reviewer.ID, 1)

	otherWS := h.fx.Workspace(uuid.NewString())
	otherCompany := h.fx.Company(otherWS.ID)
	h.fx.CompanyMember(otherCompany.ID, uuid.NewString(), model.CompanyRoleAdmin)

	views, err := h.engine.Eligible(context.Background(), h.principal, h.companyID)
	require.NoError(t, err)

	got := make(map[string]EligibleView, len(views))
	for _, v := range views {
		got[v.CompanyUserID] = v
	}
	assert.Len(t, got, 2)
	assert.Contains(t, got, active.ID)
	assert.Contains(t, got, manager.ID)
	assert.Equal(t, identity.StatusActive, got[active.ID].Status)
	assert.Equal(t, active.UserID, got[active.ID].UserID)
	assert.NotEmpty(t, got[active.ID].Email)
}
