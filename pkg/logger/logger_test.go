package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(&LogConfig{Level: "debug", Environment: "production", ServiceName: "payroll"}))
	assert.NotNil(t, GetLogger())
	assert.True(t, GetLogger().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(&LogConfig{Level: "bogus", Environment: "development", ServiceName: "payroll"}))
	assert.False(t, GetLogger().Core().Enabled(zap.DebugLevel))
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	assert.Same(t, GetLogger(), FromContext(context.Background()))

	l := zap.NewNop()
	assert.Same(t, l, FromContext(WithContext(context.Background(), l)))
}

func TestMiddlewareStoresRequestLogger(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-1")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var fromEcho, fromCtx *zap.Logger
	h := Middleware()(func(c echo.Context) error {
		fromEcho = FromEcho(c)
		fromCtx = FromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	require.NoError(t, h(c))
	assert.NotNil(t, fromEcho)
	assert.Same(t, fromEcho, fromCtx)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
