package usecase

import (
	"context"

	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
)

// IsPaymentDue reports whether the payment may be executed now: pending,
// scheduled time reached and any retry delay elapsed.
func (e *Engine) IsPaymentDue(ctx context.Context, paymentID int64) (bool, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	now := e.clock.Now()
	if p.Status != model.PaymentStatusPending || now < p.ScheduledAt {
		return false, nil
	}
	return p.NextRetryAt == 0 || now >= p.NextRetryAt, nil
}

// IsRefundEligible reports whether the payment succeeded and its refund
// window is still open.
func (e *Engine) IsRefundEligible(ctx context.Context, paymentID int64) (bool, error) {
	p, err := e.store.GetPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	if p.Status != model.PaymentStatusSuccess {
		return false, nil
	}
	s, err := e.settings(ctx)
	if err != nil {
		return false, err
	}
	return withinRefundWindow(p, s, e.clock.Now()), nil
}

func (e *Engine) GetPayment(ctx context.Context, paymentID int64) (*model.ScheduledPayment, error) {
	return e.store.GetPayment(ctx, paymentID)
}

// ListDuePayments returns up to limit payments executable at the current tick
func (e *Engine) ListDuePayments(ctx context.Context, limit int) ([]*model.ScheduledPayment, error) {
	return e.store.ListDuePayments(ctx, e.clock.Now(), limit)
}

func (e *Engine) GetExecution(ctx context.Context, paymentID int64, attempt int) (*model.PaymentExecution, error) {
	return e.store.GetExecution(ctx, paymentID, attempt)
}

func (e *Engine) ListExecutions(ctx context.Context, paymentID int64) ([]*model.PaymentExecution, error) {
	return e.store.ListExecutions(ctx, paymentID)
}

func (e *Engine) GetRefund(ctx context.Context, refundID int64) (*model.Refund, error) {
	return e.store.GetRefund(ctx, refundID)
}

func (e *Engine) GetPaymentMethod(ctx context.Context, payer string, index int) (*model.PaymentMethod, error) {
	return e.store.GetPaymentMethod(ctx, payer, index)
}

func (e *Engine) ListPaymentMethods(ctx context.Context, payer string) ([]*model.PaymentMethod, error) {
	return e.store.ListPaymentMethods(ctx, payer)
}

func (e *Engine) GetSubscriptionAnalytics(ctx context.Context, subscriptionID string) (*model.SubscriptionAnalytics, error) {
	return e.store.GetSubscriptionAnalytics(ctx, subscriptionID)
}

func (e *Engine) GetPayerStats(ctx context.Context, payer string) (*model.PayerStats, error) {
	return e.store.GetPayerStats(ctx, payer)
}

func (e *Engine) GetGlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	return e.store.GetGlobalStats(ctx)
}

// ListHistory returns a page of the payer's transaction history
func (e *Engine) ListHistory(ctx context.Context, payer string, limit, offset int) ([]*model.HistoryEntry, error) {
	return e.store.ListHistory(ctx, payer, limit, offset)
}
