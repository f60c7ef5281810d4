package replay

import (
	"context"
	"fmt"
)

func (r *Runner) expect(ctx context.Context, step Step) error {
	exp := step.Expect

	if exp.Tick != nil && *exp.Tick != r.engine.Now() {
		return fmt.Errorf("tick: want %d, got %d", *exp.Tick, r.engine.Now())
	}

	var subscriptionID string
	if step.Payment != "" {
		id := r.payments[step.Payment]
		p, err := r.engine.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		subscriptionID = p.SubscriptionID

		if exp.Status != "" && exp.Status != string(p.Status) {
			return fmt.Errorf("%s status: want %s, got %s", step.Payment, exp.Status, p.Status)
		}
		if exp.RetryCount != nil && *exp.RetryCount != p.RetryCount {
			return fmt.Errorf("%s retry count: want %d, got %d", step.Payment, *exp.RetryCount, p.RetryCount)
		}
		if exp.Executions != nil {
			executions, err := r.engine.ListExecutions(ctx, id)
			if err != nil {
				return err
			}
			if *exp.Executions != len(executions) {
				return fmt.Errorf("%s executions: want %d, got %d", step.Payment, *exp.Executions, len(executions))
			}
		}
	}

	for account, want := range exp.Balances {
		if got := r.ledger.Balance(account); got != want {
			return fmt.Errorf("balance of %s: want %d, got %d", account, want, got)
		}
	}

	if exp.Global != nil {
		g, err := r.engine.GetGlobalStats(ctx)
		if err != nil {
			return err
		}
		if err := exp.Global.check("global", counters{
			total:      g.TotalPayments,
			successful: g.SuccessfulPayments,
			failed:     g.FailedPayments,
			volume:     g.TotalVolume,
			fees:       g.TotalFees,
			refunds:    g.TotalRefunds,
		}); err != nil {
			return err
		}
	}

	if exp.Subscription != nil {
		if subscriptionID == "" {
			return fmt.Errorf("subscription expectations need a payment")
		}
		a, err := r.engine.GetSubscriptionAnalytics(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if err := exp.Subscription.check(subscriptionID, counters{
			total:      a.TotalPayments,
			successful: a.SuccessfulPayments,
			failed:     a.FailedPayments,
			volume:     a.TotalAmountPaid,
			fees:       a.TotalFeesPaid,
			refunds:    a.TotalRefunds,
		}); err != nil {
			return err
		}
	}
	return nil
}

type counters struct {
	total, successful, failed, volume, fees, refunds int64
}

func (c *Counters) check(scope string, got counters) error {
	for _, f := range []struct {
		name string
		want *int64
		got  int64
	}{
		{"total", c.Total, got.total},
		{"successful", c.Successful, got.successful},
		{"failed", c.Failed, got.failed},
		{"volume", c.Volume, got.volume},
		{"fees", c.Fees, got.fees},
		{"refunds", c.Refunds, got.refunds},
	} {
		if f.want != nil && *f.want != f.got {
			return fmt.Errorf("%s %s: want %d, got %d", scope, f.name, *f.want, f.got)
		}
	}
	return nil
}
