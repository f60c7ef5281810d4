package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/wekeepgrowing/semo-recurring/internal/middleware/auth"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

type AdminHandler struct {
	engine *usecase.Engine
	logger *zap.Logger
}

func NewAdminHandler(engine *usecase.Engine, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		engine: engine,
		logger: logger,
	}
}

// GetSettings handles GET /admin/settings
func (h *AdminHandler) GetSettings(c echo.Context) error {
	s, err := h.engine.GetSettings(c.Request().Context())
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

// SetPlatformFee handles PUT /admin/settings/fee
func (h *AdminHandler) SetPlatformFee(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req SetFeeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	s, err := h.engine.SetPlatformFee(c.Request().Context(), user.Subject, req.PlatformFeeBps)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

// SetRetry handles PUT /admin/settings/retry
func (h *AdminHandler) SetRetry(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req SetRetryRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	s, err := h.engine.UpdateRetrySettings(c.Request().Context(), user.Subject, usecase.RetrySettingsUpdate{
		Enabled:     req.Enabled,
		MaxAttempts: req.MaxAttempts,
		Delay:       req.Delay,
	})
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

// SetRefundWindow handles PUT /admin/settings/refund-window
func (h *AdminHandler) SetRefundWindow(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req SetRefundWindowRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	s, err := h.engine.SetRefundWindow(c.Request().Context(), user.Subject, req.RefundWindow)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, s)
}

// GetClock handles GET /clock
func (h *AdminHandler) GetClock(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"tick": h.engine.Now()})
}

// AdvanceClock handles POST /admin/clock/advance
func (h *AdminHandler) AdvanceClock(c echo.Context) error {
	var req AdvanceClockRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	tick, err := h.engine.AdvanceClock(c.Request().Context(), req.Ticks)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	h.logger.Info("Logical clock advanced", zap.Uint64("ticks", req.Ticks), zap.Uint64("tick", tick))
	return c.JSON(http.StatusOK, echo.Map{"tick": tick})
}
