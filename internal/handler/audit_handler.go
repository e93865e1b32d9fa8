package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/payroll/internal/access"
	"github.com/suteetoe/payroll/internal/audit"
	"github.com/suteetoe/payroll/internal/model"
	"github.com/suteetoe/payroll/pkg/logger"
	"go.uber.org/zap"
)

// AuditReader is the read side of the audit log
type AuditReader interface {
	List(ctx context.Context, companyID string, f audit.Filter) (*audit.Page, error)
	Summary(ctx context.Context, companyID string) (*audit.Summary, error)
	EntityTypes(ctx context.Context, companyID string) ([]string, error)
}

// AuditHandler serves /companies/:companyId/audit-logs
type AuditHandler struct {
	store  AuditReader
	access access.Checker
}

// NewAuditHandler creates the handler
func NewAuditHandler(store AuditReader, checker access.Checker) *AuditHandler {
	return &AuditHandler{store: store, access: checker}
}

// Register mounts the audit routes on g
func (h *AuditHandler) Register(g *echo.Group) {
	g.GET("", h.ListLogs)
	g.GET("/summary", h.GetSummary)
	g.GET("/entity-types", h.ListEntityTypes)
}

// authorized resolves the request scope and checks ORG_SETTINGS can_read
func (h *AuditHandler) authorized(c echo.Context, log *zap.Logger) (string, bool, error) {
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return "", false, err
	}

	if !h.access.CheckAccess(c.Request().Context(), companyID, userID, model.ModuleOrgSettings, model.PermissionRead) {
		return "", false, c.JSON(http.StatusForbidden, echo.Map{"error": "Unauthorized to view audit logs."})
	}
	return companyID, true, nil
}

// ListLogs returns one page of filtered audit logs, newest first
func (h *AuditHandler) ListLogs(c echo.Context) error {
	log := logger.FromEcho(c)
	companyID, ok, err := h.authorized(c, log)
	if !ok {
		return err
	}

	filter := audit.Filter{
		Action:     c.QueryParam("action"),
		EntityType: c.QueryParam("entityType"),
		Search:     c.QueryParam("search"),
	}
	if filter.StartDate, err = parseDate(c.QueryParam("startDate"), false); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid startDate"})
	}
	if filter.EndDate, err = parseDate(c.QueryParam("endDate"), true); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid endDate"})
	}
	if filter.Page, err = parseInt(c.QueryParam("page")); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid page"})
	}
	if filter.Limit, err = parseInt(c.QueryParam("limit")); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
	}

	page, err := h.store.List(c.Request().Context(), companyID, filter)
	if err != nil {
		return respondError(c, log, err, "", "Failed to fetch audit logs")
	}

	return c.JSON(http.StatusOK, page)
}

// GetSummary returns 30 day activity counts
func (h *AuditHandler) GetSummary(c echo.Context) error {
	log := logger.FromEcho(c)
	companyID, ok, err := h.authorized(c, log)
	if !ok {
		return err
	}

	summary, err := h.store.Summary(c.Request().Context(), companyID)
	if err != nil {
		return respondError(c, log, err, "", "Failed to fetch audit summary")
	}

	return c.JSON(http.StatusOK, summary)
}

// ListEntityTypes returns the entity types present in the company's log
func (h *AuditHandler) ListEntityTypes(c echo.Context) error {
	log := logger.FromEcho(c)
	companyID, ok, err := h.authorized(c, log)
	if !ok {
		return err
	}

	types, err := h.store.EntityTypes(c.Request().Context(), companyID)
	if err != nil {
		return respondError(c, log, err, "", "Failed to fetch entity types")
	}

	return c.JSON(http.StatusOK, types)
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date
// covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
