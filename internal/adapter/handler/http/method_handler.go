package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/middleware/auth"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

type MethodHandler struct {
	engine *usecase.Engine
	logger *zap.Logger
}

func NewMethodHandler(engine *usecase.Engine, logger *zap.Logger) *MethodHandler {
	return &MethodHandler{
		engine: engine,
		logger: logger,
	}
}

// RegisterMethod handles POST /methods
func (h *MethodHandler) RegisterMethod(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req RegisterMethodRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	methodType, err := model.ParsePaymentMethodType(req.MethodType)
	if err != nil {
		return apperrors.ToHTTPError(apperrors.Detail(customErr.ErrInvalidPaymentMethod, "%q", req.MethodType))
	}

	index, err := h.engine.RegisterPaymentMethod(c.Request().Context(), user.Subject, usecase.RegisterMethodRequest{
		MethodType:            methodType,
		IsDefault:             req.IsDefault,
		AutoRechargeEnabled:   req.AutoRechargeEnabled,
		AutoRechargeThreshold: req.AutoRechargeThreshold,
		AutoRechargeAmount:    req.AutoRechargeAmount,
	})
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"method_index": index})
}

// ListMethods handles GET /methods
func (h *MethodHandler) ListMethods(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	methods, err := h.engine.ListPaymentMethods(c.Request().Context(), user.Subject)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, methods)
}

// Deposit handles POST /methods/:index/deposit
func (h *MethodHandler) Deposit(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	index, err := methodIndex(c)
	if err != nil {
		return err
	}

	var req DepositRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	method, err := h.engine.DepositEscrow(c.Request().Context(), user.Subject, index, req.Amount)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, method)
}

// Deactivate handles DELETE /methods/:index
func (h *MethodHandler) Deactivate(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	index, err := methodIndex(c)
	if err != nil {
		return err
	}

	if err := h.engine.DeactivatePaymentMethod(c.Request().Context(), user.Subject, index); err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func methodIndex(c echo.Context) (int, error) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index <= 0 {
		return 0, invalidParam("index")
	}
	return index, nil
}
