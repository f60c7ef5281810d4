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

type PaymentHandler struct {
	engine *usecase.Engine
	logger *zap.Logger
}

func NewPaymentHandler(engine *usecase.Engine, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{
		engine: engine,
		logger: logger,
	}
}

// SchedulePayment handles POST /payments
func (h *PaymentHandler) SchedulePayment(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req SchedulePaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	method, err := model.ParsePaymentMethodType(req.PaymentMethod)
	if err != nil {
		return apperrors.ToHTTPError(apperrors.Detail(customErr.ErrInvalidPaymentMethod, "%q", req.PaymentMethod))
	}

	id, err := h.engine.Schedule(c.Request().Context(), user.Subject, usecase.ScheduleRequest{
		SubscriptionID: req.SubscriptionID,
		Payee:          req.Payee,
		Amount:         req.Amount,
		Method:         method,
		ScheduledAt:    req.ScheduledAt,
	})
	if err != nil {
		return apperrors.ToHTTPError(err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"payment_id": id})
}

// ExecutePayment handles POST /payments/:id/execute
func (h *PaymentHandler) ExecutePayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	result, err := h.engine.Execute(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ReportFailure handles POST /payments/:id/failures
func (h *PaymentHandler) ReportFailure(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	var req ReportFailureRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	decision, err := h.engine.ReportFailure(c.Request().Context(), user.Subject, id, req.Reason)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, decision)
}

// CancelPayment handles POST /payments/:id/cancel
func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	if err := h.engine.Cancel(c.Request().Context(), user.Subject, id); err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"payment_id": id, "status": model.PaymentStatusCancelled})
}

// RefundPayment handles POST /payments/:id/refunds
func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	var req RefundPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	refundID, err := h.engine.Refund(c.Request().Context(), user.Subject, usecase.RefundRequest{
		PaymentID: id,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"refund_id": refundID})
}

// GetPayment handles GET /payments/:id
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	payment, err := h.engine.GetPayment(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, payment)
}

// ListExecutions handles GET /payments/:id/executions
func (h *PaymentHandler) ListExecutions(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	executions, err := h.engine.ListExecutions(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, executions)
}

// IsPaymentDue handles GET /payments/:id/due
func (h *PaymentHandler) IsPaymentDue(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	due, err := h.engine.IsPaymentDue(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"payment_id": id, "due": due, "tick": h.engine.Now()})
}

// IsRefundEligible handles GET /payments/:id/refund-eligibility
func (h *PaymentHandler) IsRefundEligible(c echo.Context) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}

	eligible, err := h.engine.IsRefundEligible(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"payment_id": id, "eligible": eligible, "tick": h.engine.Now()})
}

// ListDuePayments handles GET /payments/due
func (h *PaymentHandler) ListDuePayments(c echo.Context) error {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		return err
	}

	payments, err := h.engine.ListDuePayments(c.Request().Context(), limit)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, payments)
}

// GetRefund handles GET /refunds/:id
func (h *PaymentHandler) GetRefund(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return invalidParam("id")
	}

	refund, err := h.engine.GetRefund(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTPError(err)
	}
	return c.JSON(http.StatusOK, refund)
}

func paymentID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidParam("id")
	}
	return id, nil
}

func intQuery(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, invalidParam(name)
	}
	return v, nil
}

func invalidParam(name string) error {
	return echo.NewHTTPError(http.StatusBadRequest, echo.Map{
		"error": "Invalid " + name,
		"code":  apperrors.ErrInvalidArgument,
	})
}
