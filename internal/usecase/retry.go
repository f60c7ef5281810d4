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

// RetryDecision is the outcome of a reported failure
type RetryDecision struct {
	PaymentID      int64               `json:"payment_id"`
	RetryScheduled bool                `json:"retry_scheduled"`
	NextRetryAt    uint64              `json:"next_retry_at"`
	Attempt        int                 `json:"attempt"`
	Status         model.PaymentStatus `json:"status"`
}

// ReportFailure records a failed execution attempt and decides whether the
// payment gets another attempt. Only the admin and driver principals may
// report failures. The engine never fires the retry itself.
func (e *Engine) ReportFailure(ctx context.Context, caller string, paymentID int64, reason string) (*RetryDecision, error) {
	now := e.clock.Now()

	var (
		payment  *model.ScheduledPayment
		decision *RetryDecision
	)
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		settings, err := tx.LoadSettings()
		if err != nil {
			return err
		}
		if !e.isDriver(settings, caller) {
			return customErr.ErrOwnerOnly
		}

		p, err := tx.LockPayment(paymentID)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentStatusPending {
			return apperrors.Detail(customErr.ErrInvalidStatus, "payment %d is %s", p.ID, p.Status)
		}

		attempt := p.RetryCount + 1
		if err := tx.InsertExecution(&model.PaymentExecution{
			PaymentID:     p.ID,
			AttemptNumber: attempt,
			ExecutedAt:    now,
			AmountCharged: p.Amount,
			FeeCharged:    0,
			Success:       false,
			ErrorMessage:  strPtr(reason),
		}); err != nil {
			return err
		}

		p.RetryCount = attempt
		p.LastRetryAt = now
		p.FailureReason = strPtr(reason)

		decision = &RetryDecision{PaymentID: p.ID, Attempt: attempt}
		if p.RetryCount < settings.MaxRetryAttempts && settings.RetryEnabled {
			p.NextRetryAt = now + settings.RetryDelay
			decision.RetryScheduled = true
			decision.NextRetryAt = p.NextRetryAt
		} else {
			p.Status = model.PaymentStatusFailed
			p.NextRetryAt = 0
		}
		decision.Status = p.Status

		if err := tx.SavePayment(p); err != nil {
			return err
		}

		if err := recordFailure(tx, p); err != nil {
			return err
		}

		payment = p
		return tx.AppendHistory(&model.HistoryEntry{
			Payer:           p.Payer,
			PaymentID:       p.ID,
			Kind:            model.HistoryKindRetry,
			Amount:          p.Amount,
			LoggedAt:        now,
			ResultingStatus: p.Status,
		})
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Failure report rejected", zap.Int64("payment_id", paymentID), zap.String("caller", caller))
		return nil, err
	}

	envType := event.PaymentRetryScheduled
	if decision.RetryScheduled {
		e.logger.Info("Payment retry scheduled",
			zap.Int64("payment_id", payment.ID),
			zap.Int("attempt", decision.Attempt),
			zap.Uint64("next_retry_at", decision.NextRetryAt),
			zap.String("reason", reason))
	} else {
		envType = event.PaymentFailed
		e.logger.Warn("Payment failed permanently",
			zap.Int64("payment_id", payment.ID),
			zap.String("payer", payment.Payer),
			zap.Int("attempts", decision.Attempt),
			zap.String("reason", reason))
	}

	e.publish(ctx, event.Envelope{
		Type:           envType,
		PaymentID:      payment.ID,
		Payer:          payment.Payer,
		SubscriptionID: payment.SubscriptionID,
		Amount:         payment.Amount,
		Tick:           now,
		Data:           map[string]interface{}{"attempt": decision.Attempt, "next_retry_at": decision.NextRetryAt, "reason": reason},
	})
	return decision, nil
}

// recordFailure counts a failed attempt in all three analytics scopes
func recordFailure(tx domainRepo.Tx, p *model.ScheduledPayment) error {
	if err := tx.UpdateSubscriptionAnalytics(p.SubscriptionID, func(a *model.SubscriptionAnalytics) {
		a.RecordFailure()
	}); err != nil {
		return err
	}
	if err := tx.UpdatePayerStats(p.Payer, func(s *model.PayerStats) {
		s.RecordFailure()
	}); err != nil {
		return err
	}
	return tx.UpdateGlobalStats(func(g *model.GlobalStats) {
		g.RecordFailure()
	})
}
