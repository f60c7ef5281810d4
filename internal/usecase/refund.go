package usecase

import (
	"context"
	"fmt"

	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// RefundRequest asks for Amount of a successful payment back
type RefundRequest struct {
	PaymentID int64
	Amount    int64
	Reason    string
}

// Refund returns part or all of a successful payment to its payer and
// moves the payment to Refunded. A payment is refunded at most once.
func (e *Engine) Refund(ctx context.Context, caller string, req RefundRequest) (int64, error) {
	now := e.clock.Now()

	var (
		payment *model.ScheduledPayment
		refund  *model.Refund
	)
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		settings, err := tx.LoadSettings()
		if err != nil {
			return err
		}

		p, err := tx.LockPayment(req.PaymentID)
		if err != nil {
			return err
		}
		if p.Payer != caller {
			return customErr.ErrUnauthorized
		}
		if p.Status != model.PaymentStatusSuccess {
			return apperrors.Detail(customErr.ErrRefundNotAllowed, "payment %d is %s", p.ID, p.Status)
		}
		if req.Amount <= 0 || req.Amount > p.Amount {
			return apperrors.Detail(customErr.ErrInvalidAmount, "refund %d of %d", req.Amount, p.Amount)
		}
		if !withinRefundWindow(p, settings, now) {
			return apperrors.Detail(customErr.ErrRefundNotAllowed, "refund window closed at %d", p.ProcessedAt+settings.RefundWindow)
		}

		feeRefunded := ProportionalFee(p.FeeCharged, req.Amount, p.Amount)
		originalRef := ""
		if p.ExternalTxRef != nil {
			originalRef = *p.ExternalTxRef
		}

		receipt, err := e.ledger.ReverseValue(ctx, ledger.Reversal{
			From:        p.Payee,
			To:          p.Payer,
			Amount:      req.Amount,
			FeeRefunded: feeRefunded,
			OriginalRef: originalRef,
			Reference:   fmt.Sprintf("payment-%d-refund", p.ID),
		})
		if err != nil {
			return apperrors.NewAppError(apperrors.ErrExecutionFailed, "value reversal failed", err)
		}

		r := &model.Refund{
			PaymentID:      p.ID,
			SubscriptionID: p.SubscriptionID,
			Requester:      caller,
			OriginalAmount: p.Amount,
			RefundAmount:   req.Amount,
			FeeRefunded:    feeRefunded,
			Reason:         req.Reason,
			Status:         model.RefundStatusProcessed,
			RequestedAt:    now,
			ProcessedAt:    now,
			ApprovedBy:     caller,
			ExternalTxRef:  strPtr(receipt.Reference),
		}
		if err := tx.InsertRefund(r); err != nil {
			return err
		}

		p.Status = model.PaymentStatusRefunded
		if err := tx.SavePayment(p); err != nil {
			return err
		}

		if err := tx.UpdateSubscriptionAnalytics(p.SubscriptionID, func(a *model.SubscriptionAnalytics) {
			a.RecordRefund(req.Amount)
		}); err != nil {
			return err
		}
		if err := tx.UpdatePayerStats(p.Payer, func(s *model.PayerStats) {
			s.RecordRefund()
		}); err != nil {
			return err
		}
		if err := tx.UpdateGlobalStats(func(g *model.GlobalStats) {
			g.RecordRefund(req.Amount)
		}); err != nil {
			return err
		}

		payment = p
		refund = r
		return tx.AppendHistory(&model.HistoryEntry{
			Payer:           p.Payer,
			PaymentID:       p.ID,
			Kind:            model.HistoryKindRefund,
			Amount:          req.Amount,
			LoggedAt:        now,
			ResultingStatus: model.PaymentStatusRefunded,
		})
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Refund rejected", zap.Int64("payment_id", req.PaymentID), zap.String("caller", caller))
		return 0, err
	}

	e.logger.Info("Payment refunded",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("refund_id", refund.ID),
		zap.Int64("refund_amount", refund.RefundAmount),
		zap.Int64("fee_refunded", refund.FeeRefunded))

	e.publish(ctx, event.Envelope{
		Type:           event.PaymentRefunded,
		PaymentID:      payment.ID,
		Payer:          payment.Payer,
		SubscriptionID: payment.SubscriptionID,
		Amount:         refund.RefundAmount,
		Tick:           now,
		Data:           map[string]interface{}{"refund_id": refund.ID, "fee_refunded": refund.FeeRefunded, "reason": refund.Reason},
	})
	return refund.ID, nil
}

// withinRefundWindow holds while now <= processedAt + refundWindow
func withinRefundWindow(p *model.ScheduledPayment, s *model.EngineSettings, now uint64) bool {
	return now <= p.ProcessedAt+s.RefundWindow
}
