package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/semo-recurring/internal/middleware/auth"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	engine *usecase.Engine
	logger *zap.Logger
}

func NewAnalyticsHandler(engine *usecase.Engine, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		engine: engine,
		logger: logger,
	}
}

// GetSubscriptionAnalytics handles GET /analytics/subscriptions/:id
func (h *AnalyticsHandler) GetSubscriptionAnalytics(c echo.Context) error {
	a, err := h.engine.GetSubscriptionAnalytics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"analytics":    a,
		"success_rate": percent(a.SuccessRateBps),
	})
}

// GetPayerStats handles GET /analytics/payers/:payer
func (h *AnalyticsHandler) GetPayerStats(c echo.Context) error {
	s, err := h.engine.GetPayerStats(c.Request().Context(), c.Param("payer"))
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"stats":       s,
		"reliability": percent(s.ReliabilityScoreBps),
	})
}

// GetGlobalStats handles GET /analytics/global
func (h *AnalyticsHandler) GetGlobalStats(c echo.Context) error {
	g, err := h.engine.GetGlobalStats(c.Request().Context())
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, g)
}

// ListHistory handles GET /history for the caller
func (h *AnalyticsHandler) ListHistory(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		return err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return err
	}

	entries, err := h.engine.ListHistory(c.Request().Context(), user.Subject, limit, offset)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// CalculateFee handles GET /fees?amount=
func (h *AnalyticsHandler) CalculateFee(c echo.Context) error {
	amount, err := strconv.ParseInt(c.QueryParam("amount"), 10, 64)
	if err != nil || amount < 0 {
		return invalidParam("amount")
	}

	fee, err := h.engine.CalculateFee(c.Request().Context(), amount)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"amount": amount, "fee": fee, "net": amount - fee})
}

// percent renders basis points as a two-decimal percentage string
func percent(bps int64) string {
	return decimal.New(bps, -2).StringFixed(2)
}
