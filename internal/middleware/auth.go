package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/suteetoe/payroll/pkg/jwtutil"
	"github.com/suteetoe/payroll/pkg/logger"
	"go.uber.org/zap"
)

// UserContextKey is where the validated claims are stored on the echo context
const UserContextKey = "user"

// JWTAuthMiddleware creates a middleware that validates JWT tokens
func JWTAuthMiddleware(jwtUtil *jwtutil.JWTUtil) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				log.Warn("Missing authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Missing authorization header"})
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" || token == "" {
				log.Warn("Invalid authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid authorization header format"})
			}

			claims, err := jwtUtil.ValidateToken(token)
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Invalid or expired token"})
			}

			c.Set(UserContextKey, claims)

			// Later handlers and the service layer log with the principal attached
			userLog := log.With(zap.String("user_id", claims.UserID()))
			logger.Attach(c, userLog)

			log.Debug("JWT token validated successfully",
				zap.String("user_id", claims.UserID()),
				zap.String("email", claims.Email))

			return next(c)
		}
	}
}

// Claims returns the claims stored by JWTAuthMiddleware
func Claims(c echo.Context) (*jwtutil.UserClaims, bool) {
	claims, ok := c.Get(UserContextKey).(*jwtutil.UserClaims)
	return claims, ok && claims != nil
}
