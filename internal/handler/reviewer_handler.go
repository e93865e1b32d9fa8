package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/payroll/internal/reviewer"
	"github.com/suteetoe/payroll/pkg/logger"
	"go.uber.org/zap"
)

// ReviewerService is the reviewer engine as seen by the HTTP layer
type ReviewerService interface {
	AddReviewer(ctx context.Context, principalID, companyID, companyUserID string, level int) (*reviewer.View, error)
	UpdateLevel(ctx context.Context, principalID, companyID, reviewerID string, level int) (*reviewer.View, error)
	RemoveReviewer(ctx context.Context, principalID, companyID, reviewerID string) error
	Reorder(ctx context.Context, principalID, companyID string, assignments []reviewer.Assignment, strict bool) error
	List(ctx context.Context, principalID, companyID string) ([]reviewer.View, error)
	Eligible(ctx context.Context, principalID, companyID string) ([]reviewer.EligibleView, error)
}

// ReviewerHandler serves /companies/:companyId/reviewers
type ReviewerHandler struct {
	service ReviewerService
}

// NewReviewerHandler creates the handler
func NewReviewerHandler(service ReviewerService) *ReviewerHandler {
	return &ReviewerHandler{service: service}
}

// Register mounts the reviewer routes on g
func (h *ReviewerHandler) Register(g *echo.Group) {
	g.GET("", h.ListReviewers)
	g.GET("/eligible", h.ListEligible)
	g.POST("", h.AddReviewer)
	g.POST("/reorder", h.ReorderReviewers)
	g.PATCH("/:reviewerId", h.UpdateReviewerLevel)
	g.DELETE("/:reviewerId", h.RemoveReviewer)
}

// scope resolves the caller and company for a request. A false ok means the
// response has already been chosen and is returned as err.
func scope(c echo.Context, log *zap.Logger) (userID, companyID string, ok bool, err error) {
	userID, ok = principal(c)
	if !ok {
		log.Error("Failed to get user claims from context")
		return "", "", false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	companyID, ok = canonicalUUID(c.Param("companyId"))
	if !ok {
		log.Warn("Invalid company ID", zap.String("company_id", c.Param("companyId")))
		return "", "", false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid company ID"})
	}
	return userID, companyID, true, nil
}

// ListReviewers returns the company's approval chain
func (h *ReviewerHandler) ListReviewers(c echo.Context) error {
	log := logger.FromEcho(c)
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return err
	}

	views, err := h.service.List(c.Request().Context(), userID, companyID)
	if err != nil {
		return respondError(c, log, err, "Unauthorized to view company reviewers.", "Failed to fetch company reviewers")
	}

	return c.JSON(http.StatusOK, views)
}

// ListEligible returns company users who may be added as reviewers
func (h *ReviewerHandler) ListEligible(c echo.Context) error {
	log := logger.FromEcho(c)
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return err
	}

	views, err := h.service.Eligible(c.Request().Context(), userID, companyID)
	if err != nil {
		return respondError(c, log, err, "Unauthorized to view eligible reviewers.", "Failed to fetch eligible reviewers")
	}

	return c.JSON(http.StatusOK, views)
}

// AddReviewer handles reviewer creation
func (h *ReviewerHandler) AddReviewer(c echo.Context) error {
	log := logger.FromEcho(c)
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return err
	}

	var req struct {
		CompanyUserID string `json:"company_user_id"`
		ReviewerLevel int    `json:"reviewer_level"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse reviewer creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	companyUserID := req.CompanyUserID
	if companyUserID != "" {
		if companyUserID, ok = canonicalUUID(req.CompanyUserID); !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid company user ID"})
		}
	}

	view, err := h.service.AddReviewer(c.Request().Context(), userID, companyID, companyUserID, req.ReviewerLevel)
	if err != nil {
		return respondError(c, log, err, "Unauthorized to add company reviewers.", "Failed to add company reviewer")
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"success":  true,
		"reviewer": view,
	})
}

// UpdateReviewerLevel moves a reviewer within the chain
func (h *ReviewerHandler) UpdateReviewerLevel(c echo.Context) error {
	log := logger.FromEcho(c)
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return err
	}

	reviewerID, ok := canonicalUUID(c.Param("reviewerId"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reviewer ID"})
	}

	var req struct {
		ReviewerLevel int `json:"reviewer_level"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse reviewer update request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	view, err := h.service.UpdateLevel(c.Request().Context(), userID, companyID, reviewerID, req.ReviewerLevel)
	if err != nil {
		return respondError(c, log, err, "Unauthorized to update reviewer levels.", "Failed to update reviewer level")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":  true,
		"reviewer": view,
	})
}

// RemoveReviewer deletes a reviewer
func (h *ReviewerHandler) RemoveReviewer(c echo.Context) error {
	log := logger.FromEcho(c)
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return err
	}

	reviewerID, ok := canonicalUUID(c.Param("reviewerId"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reviewer ID"})
	}

	if err := h.service.RemoveReviewer(c.Request().Context(), userID, companyID, reviewerID); err != nil {
		return respondError(c, log, err, "Unauthorized to remove company reviewers.", "Failed to remove company reviewer")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Reviewer removed successfully",
	})
}

// ReorderReviewers applies a bulk level assignment. ?strict=true requires a
// full permutation of the chain.
func (h *ReviewerHandler) ReorderReviewers(c echo.Context) error {
	log := logger.FromEcho(c)
	userID, companyID, ok, err := scope(c, log)
	if !ok {
		return err
	}

	strict := false
	if raw := c.QueryParam("strict"); raw != "" {
		if strict, err = strconv.ParseBool(raw); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid strict flag"})
		}
	}

	var req struct {
		Reviewers []reviewer.Assignment `json:"reviewers"`
	}
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse reorder request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Reviewers array is required"})
	}
	for i, a := range req.Reviewers {
		id, ok := canonicalUUID(a.ID)
		if !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reviewer ID"})
		}
		req.Reviewers[i].ID = id
	}

	if err := h.service.Reorder(c.Request().Context(), userID, companyID, req.Reviewers, strict); err != nil {
		return respondError(c, log, err, "Unauthorized to reorder reviewers.", "Failed to reorder reviewers")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "Reviewers reordered successfully",
	})
}
