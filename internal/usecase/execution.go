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

// ExecutionResult is the outcome of a successful execution
type ExecutionResult struct {
	PaymentID     int64  `json:"payment_id"`
	Attempt       int    `json:"attempt"`
	AmountCharged int64  `json:"amount_charged"`
	FeeCharged    int64  `json:"fee_charged"`
	ExternalTxRef string `json:"external_tx_ref"`
}

// Execute charges a due pending payment exactly once. The status check,
// the ledger transfer and every record update happen while the payment is
// locked, so a concurrent second call observes Success and fails with
// InvalidStatus. A ledger failure leaves the payment untouched and
// returns ExecutionFailed; reporting it is up to the caller.
func (e *Engine) Execute(ctx context.Context, paymentID int64) (*ExecutionResult, error) {
	now := e.clock.Now()

	var (
		payment  *model.ScheduledPayment
		result   *ExecutionResult
		recharge int64
	)
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		settings, err := tx.LoadSettings()
		if err != nil {
			return err
		}

		p, err := tx.LockPayment(paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentStatusPending {
			return apperrors.Detail(customErr.ErrInvalidStatus, "payment %d is %s", p.ID, p.Status)
		}
		if now < p.ScheduledAt {
			return apperrors.Detail(customErr.ErrInvalidSchedule, "payment %d due at %d, now %d", p.ID, p.ScheduledAt, now)
		}

		fee := PlatformFee(p.Amount, settings.PlatformFeeBps)
		attempt := p.RetryCount + 1

		from := p.Payer
		var escrow *model.PaymentMethod
		if p.PaymentMethod == model.PaymentMethodEscrow {
			escrow, err = lockEscrowMethod(tx, p.Payer)
			if err != nil {
				return err
			}
			if escrow.EscrowBalance < p.Amount {
				return apperrors.Detail(customErr.ErrExecutionFailed, "escrow balance %d below amount %d", escrow.EscrowBalance, p.Amount)
			}
			from = ledger.EscrowAccount(p.Payer)
		}

		receipt, err := e.ledger.TransferValue(ctx, ledger.Transfer{
			From:        from,
			To:          p.Payee,
			Amount:      p.Amount,
			PlatformFee: fee,
			Reference:   fmt.Sprintf("payment-%d-attempt-%d", p.ID, attempt),
		})
		if err != nil {
			return apperrors.NewAppError(apperrors.ErrExecutionFailed, "value transfer failed", err)
		}

		if escrow != nil {
			escrow.EscrowBalance -= p.Amount
			escrow.LastUsed = now
			recharge = e.autoRecharge(ctx, escrow, p.ID)
			if err := tx.SavePaymentMethod(escrow); err != nil {
				return err
			}
		}

		p.Status = model.PaymentStatusSuccess
		p.ProcessedAt = now
		p.FeeCharged = fee
		p.NextRetryAt = 0
		p.ExternalTxRef = strPtr(receipt.Reference)
		if err := tx.SavePayment(p); err != nil {
			return err
		}

		if err := tx.InsertExecution(&model.PaymentExecution{
			PaymentID:     p.ID,
			AttemptNumber: attempt,
			ExecutedAt:    now,
			AmountCharged: p.Amount,
			FeeCharged:    fee,
			Success:       true,
			ExternalTxRef: strPtr(receipt.Reference),
		}); err != nil {
			return err
		}

		if err := recordSuccess(tx, p, fee, now); err != nil {
			return err
		}

		if err := tx.AppendHistory(&model.HistoryEntry{
			Payer:           p.Payer,
			PaymentID:       p.ID,
			Kind:            model.HistoryKindPayment,
			Amount:          p.Amount,
			LoggedAt:        now,
			ResultingStatus: model.PaymentStatusSuccess,
		}); err != nil {
			return err
		}

		payment = p
		result = &ExecutionResult{
			PaymentID:     p.ID,
			Attempt:       attempt,
			AmountCharged: p.Amount,
			FeeCharged:    fee,
			ExternalTxRef: receipt.Reference,
		}
		return nil
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Payment execution rejected", zap.Int64("payment_id", paymentID), zap.Uint64("tick", now))
		return nil, err
	}

	e.logger.Info("Payment executed",
		zap.Int64("payment_id", payment.ID),
		zap.String("payer", payment.Payer),
		zap.Int("attempt", result.Attempt),
		zap.Int64("amount", result.AmountCharged),
		zap.Int64("fee", result.FeeCharged),
		zap.Int64("escrow_recharged", recharge))

	e.publish(ctx, event.Envelope{
		Type:           event.PaymentExecuted,
		PaymentID:      payment.ID,
		Payer:          payment.Payer,
		SubscriptionID: payment.SubscriptionID,
		Amount:         payment.Amount,
		Tick:           now,
		Data:           map[string]interface{}{"fee": result.FeeCharged, "attempt": result.Attempt, "external_tx_ref": result.ExternalTxRef},
	})
	return result, nil
}

// recordSuccess updates all three analytics scopes for a successful charge
func recordSuccess(tx domainRepo.Tx, p *model.ScheduledPayment, fee int64, now uint64) error {
	if err := tx.UpdateSubscriptionAnalytics(p.SubscriptionID, func(a *model.SubscriptionAnalytics) {
		a.RecordSuccess(p.Amount, fee, now)
	}); err != nil {
		return err
	}
	if err := tx.UpdatePayerStats(p.Payer, func(s *model.PayerStats) {
		s.RecordSuccess(p.Amount, fee)
	}); err != nil {
		return err
	}
	return tx.UpdateGlobalStats(func(g *model.GlobalStats) {
		g.RecordSuccess(p.Amount, fee)
	})
}

// lockEscrowMethod picks the payer's default escrow method, or the first
// active one, and locks it.
func lockEscrowMethod(tx domainRepo.Tx, payer string) (*model.PaymentMethod, error) {
	methods, err := tx.ListPaymentMethods(payer)
	if err != nil {
		return nil, err
	}

	index := 0
	for _, m := range methods {
		if !m.IsActive || m.MethodType != model.PaymentMethodEscrow {
			continue
		}
		if m.IsDefault {
			index = m.MethodIndex
			break
		}
		if index == 0 {
			index = m.MethodIndex
		}
	}
	if index == 0 {
		return nil, apperrors.Detail(customErr.ErrExecutionFailed, "payer %s has no active escrow method", payer)
	}

	m, err := tx.LockPaymentMethod(payer, index)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, apperrors.Detail(customErr.ErrExecutionFailed, "escrow method %d deactivated", index)
	}
	return m, nil
}

// autoRecharge tops up an escrow method that fell below its threshold.
// It is best effort: a failed recharge never fails the execution.
func (e *Engine) autoRecharge(ctx context.Context, m *model.PaymentMethod, paymentID int64) int64 {
	if !m.NeedsRecharge() {
		return 0
	}

	_, err := e.ledger.TransferValue(ctx, ledger.Transfer{
		From:      m.Payer,
		To:        ledger.EscrowAccount(m.Payer),
		Amount:    m.AutoRechargeAmount,
		Reference: fmt.Sprintf("payment-%d-recharge-%d", paymentID, m.MethodIndex),
	})
	if err != nil {
		e.logger.Warn("Escrow auto-recharge failed",
			zap.String("payer", m.Payer),
			zap.Int("method_index", m.MethodIndex),
			zap.Int64("amount", m.AutoRechargeAmount),
			zap.Error(err))
		return 0
	}

	m.EscrowBalance += m.AutoRechargeAmount
	return m.AutoRechargeAmount
}
