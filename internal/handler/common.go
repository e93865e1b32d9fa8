package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/suteetoe/payroll/internal/middleware"
	"github.com/suteetoe/payroll/pkg/apperror"
	"go.uber.org/zap"
)

// principal returns the authenticated user ID set by JWTAuthMiddleware
func principal(c echo.Context) (string, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		return "", false
	}
	return claims.UserID(), true
}

// canonicalUUID normalizes a UUID path or body value
func canonicalUUID(raw string) (string, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// respondError maps a service error onto the response. forbidden replaces
// the message for authorization failures.
func respondError(c echo.Context, log *zap.Logger, err error, forbidden, fallback string) error {
	status := apperror.HTTPStatus(err)
	msg := apperror.Message(err, fallback)
	if status == http.StatusForbidden && forbidden != "" {
		msg = forbidden
	}

	if status >= http.StatusInternalServerError {
		log.Error(fallback, zap.Int("status", status), zap.Error(err))
	} else {
		log.Warn(fallback, zap.Int("status", status), zap.Error(err))
	}
	return c.JSON(status, echo.Map{"error": msg})
}
