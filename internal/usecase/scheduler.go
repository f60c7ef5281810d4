package usecase

import (
	"context"

	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// ScheduleRequest describes a future payment from the caller to Payee
type ScheduleRequest struct {
	SubscriptionID string
	Payee          string
	Amount         int64
	Method         model.PaymentMethodType
	ScheduledAt    uint64
}

// Schedule stores a pending payment owned by caller and returns its id.
// Nothing moves on the ledger until the payment is executed.
func (e *Engine) Schedule(ctx context.Context, caller string, req ScheduleRequest) (int64, error) {
	now := e.clock.Now()

	if caller == "" {
		return 0, customErr.ErrUnauthorized
	}
	if req.Amount <= 0 {
		return 0, apperrors.Detail(customErr.ErrInvalidAmount, "amount %d", req.Amount)
	}
	if req.ScheduledAt < now {
		return 0, apperrors.Detail(customErr.ErrInvalidSchedule, "scheduled at %d before now %d", req.ScheduledAt, now)
	}
	if !req.Method.Valid() {
		return 0, apperrors.Detail(customErr.ErrInvalidPaymentMethod, "%q", string(req.Method))
	}

	payment := &model.ScheduledPayment{
		SubscriptionID: req.SubscriptionID,
		Payer:          caller,
		Payee:          req.Payee,
		Amount:         req.Amount,
		PaymentMethod:  req.Method,
		ScheduledAt:    req.ScheduledAt,
		Status:         model.PaymentStatusPending,
		CreatedAt:      now,
	}

	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		if err := tx.InsertPayment(payment); err != nil {
			return err
		}
		return tx.AppendHistory(&model.HistoryEntry{
			Payer:           caller,
			PaymentID:       payment.ID,
			Kind:            model.HistoryKindPayment,
			Amount:          payment.Amount,
			LoggedAt:        now,
			ResultingStatus: model.PaymentStatusPending,
		})
	})
	if err != nil {
		e.logger.Error("Failed to schedule payment",
			zap.String("payer", caller),
			zap.String("subscription_id", req.SubscriptionID),
			zap.Error(err))
		return 0, apperrors.Wrap(err, "failed to schedule payment")
	}

	e.logger.Info("Payment scheduled",
		zap.Int64("payment_id", payment.ID),
		zap.String("subscription_id", payment.SubscriptionID),
		zap.String("payer", payment.Payer),
		zap.String("payee", payment.Payee),
		zap.Int64("amount", payment.Amount),
		zap.Uint64("scheduled_at", payment.ScheduledAt))

	e.publish(ctx, event.Envelope{
		Type:           event.PaymentScheduled,
		PaymentID:      payment.ID,
		Payer:          payment.Payer,
		SubscriptionID: payment.SubscriptionID,
		Amount:         payment.Amount,
		Tick:           now,
		Data:           map[string]interface{}{"scheduled_at": payment.ScheduledAt, "method": payment.PaymentMethod},
	})
	return payment.ID, nil
}

// Cancel moves a pending payment of caller to Cancelled
func (e *Engine) Cancel(ctx context.Context, caller string, paymentID int64) error {
	now := e.clock.Now()

	var payment *model.ScheduledPayment
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		p, err := tx.LockPayment(paymentID)
		if err != nil {
			return err
		}
		if p.Payer != caller {
			return customErr.ErrUnauthorized
		}
		if p.Status != model.PaymentStatusPending {
			return apperrors.Detail(customErr.ErrInvalidStatus, "payment %d is %s", p.ID, p.Status)
		}

		p.Status = model.PaymentStatusCancelled
		p.NextRetryAt = 0
		if err := tx.SavePayment(p); err != nil {
			return err
		}
		payment = p
		return tx.AppendHistory(&model.HistoryEntry{
			Payer:           p.Payer,
			PaymentID:       p.ID,
			Kind:            model.HistoryKindCancel,
			Amount:          p.Amount,
			LoggedAt:        now,
			ResultingStatus: model.PaymentStatusCancelled,
		})
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Failed to cancel payment", zap.Int64("payment_id", paymentID), zap.String("caller", caller))
		return err
	}

	e.logger.Info("Payment cancelled",
		zap.Int64("payment_id", payment.ID),
		zap.String("payer", payment.Payer))

	e.publish(ctx, event.Envelope{
		Type:           event.PaymentCancelled,
		PaymentID:      payment.ID,
		Payer:          payment.Payer,
		SubscriptionID: payment.SubscriptionID,
		Amount:         payment.Amount,
		Tick:           now,
	})
	return nil
}
