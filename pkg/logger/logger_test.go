package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNewZapLogger_AtomicLevel(t *testing.T) {
	log, level, err := NewZapLogger(Config{Level: "warn", Output: "stderr"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "[MASKED]", maskToken("Bearer x"))
	assert.Equal(t, "Bearer eyJ...34567", maskToken("Bearer eyJhbGciOiJIUzI1NiJ9.1234567"))
}

func TestWithEchoLogger_ErrorHandler(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	e := echo.New()
	WithEchoLogger(e, zap.New(core))

	e.GET("/conflict", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, echo.Map{"error": "already done", "code": "INVALID_STATUS"})
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"already done","code":"INVALID_STATUS"}`, rec.Body.String())
	assert.Zero(t, logs.Len())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("HTTP error").Len())
}
