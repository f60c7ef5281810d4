package replay

import (
	"context"
	"fmt"
	"io"

	memLedger "github.com/wekeepgrowing/semo-recurring/internal/adapter/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/adapter/repository/memory"
	"github.com/wekeepgrowing/semo-recurring/internal/clock"
	"github.com/wekeepgrowing/semo-recurring/internal/driver"
	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// Treasury is the fee account of replayed engines
const Treasury = "treasury"

// StepError reports the first step that did not behave as scripted
type StepError struct {
	Step int
	Op   string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Report summarizes a completed run
type Report struct {
	Name  string
	Steps int
	Tick  uint64
}

// Runner owns a fresh engine for one scenario
type Runner struct {
	scenario *Scenario
	engine   *usecase.Engine
	ledger   *memLedger.MemoryLedger
	driver   *driver.Driver
	payments map[string]int64
	logger   *zap.Logger
}

// NewRunner builds an in-memory engine seeded from the scenario
func NewRunner(ctx context.Context, s *Scenario, logger *zap.Logger) (*Runner, error) {
	store := memory.NewStore(logger)
	ldg := memLedger.NewMemoryLedger(Treasury, logger)
	clk := clock.NewLogical(s.StartTick)
	engine := usecase.NewEngine(store, ldg, clk, nil, logger, usecase.EngineOptions{DriverPrincipals: []string{s.Driver}})

	if _, err := engine.EnsureSettings(ctx, seedSettings(s)); err != nil {
		return nil, err
	}
	for account, amount := range s.Balances {
		ldg.Credit(account, amount)
	}

	return &Runner{
		scenario: s,
		engine:   engine,
		ledger:   ldg,
		driver:   driver.New(engine, driver.Options{Principal: s.Driver}, logger),
		payments: make(map[string]int64),
		logger:   logger,
	}, nil
}

func seedSettings(s *Scenario) model.EngineSettings {
	settings := usecase.DefaultSettings(s.Admin)
	if o := s.Settings; o != nil {
		if o.PlatformFeeBps != nil {
			settings.PlatformFeeBps = *o.PlatformFeeBps
		}
		if o.MaxRetryAttempts != nil {
			settings.MaxRetryAttempts = *o.MaxRetryAttempts
		}
		if o.RetryDelay != nil {
			settings.RetryDelay = *o.RetryDelay
		}
		if o.RefundWindow != nil {
			settings.RefundWindow = *o.RefundWindow
		}
		if o.RetryEnabled != nil {
			settings.RetryEnabled = *o.RetryEnabled
		}
	}
	return settings
}

// Run executes every step in order and writes one line per step to out.
// It stops at the first step whose outcome differs from the script.
func (r *Runner) Run(ctx context.Context, out io.Writer) (*Report, error) {
	for i, step := range r.scenario.Steps {
		outcome, err := r.apply(ctx, step)
		outcome, err = checkOutcome(step, outcome, err)

		fmt.Fprintf(out, "%3d  tick=%-8d %-13s %s\n", i+1, r.engine.Now(), step.Op, outcome)
		if err != nil {
			return nil, &StepError{Step: i + 1, Op: step.Op, Err: err}
		}
	}

	return &Report{
		Name:  r.scenario.Name,
		Steps: len(r.scenario.Steps),
		Tick:  r.engine.Now(),
	}, nil
}

// checkOutcome compares a step result with its scripted error code
func checkOutcome(step Step, outcome string, err error) (string, error) {
	if step.Error == "" {
		if err != nil {
			return "error: " + err.Error(), err
		}
		return outcome, nil
	}
	if err == nil {
		return outcome, fmt.Errorf("expected %s, step succeeded", step.Error)
	}
	if code := apperrors.CodeOf(err); code != step.Error {
		return "error: " + err.Error(), fmt.Errorf("expected %s, got %s", step.Error, code)
	}
	return "rejected " + step.Error, nil
}

func (r *Runner) apply(ctx context.Context, step Step) (string, error) {
	switch step.Op {
	case OpAdvance:
		tick, err := r.engine.AdvanceClock(ctx, step.Ticks)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("tick %d", tick), nil

	case OpSchedule:
		method, err := parseMethod(step.Method, model.PaymentMethodDirectTransfer)
		if err != nil {
			return "", err
		}
		at := step.At
		if at == 0 {
			at = r.engine.Now() + step.In
		}
		id, err := r.engine.Schedule(ctx, step.As, usecase.ScheduleRequest{
			SubscriptionID: step.Subscription,
			Payee:          step.Payee,
			Amount:         step.Amount,
			Method:         method,
			ScheduledAt:    at,
		})
		if err != nil {
			return "", err
		}
		r.payments[step.Label] = id
		return fmt.Sprintf("%s = payment %d at %d", step.Label, id, at), nil

	case OpExecute:
		res, err := r.engine.Execute(ctx, r.payments[step.Payment])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s charged %d fee %d", step.Payment, res.AmountCharged, res.FeeCharged), nil

	case OpFail:
		reason := step.Reason
		if reason == "" {
			reason = "replayed failure"
		}
		d, err := r.engine.ReportFailure(ctx, r.caller(step, r.scenario.Driver), r.payments[step.Payment], reason)
		if err != nil {
			return "", err
		}
		if d.RetryScheduled {
			return fmt.Sprintf("%s attempt %d failed, retry at %d", step.Payment, d.Attempt, d.NextRetryAt), nil
		}
		return fmt.Sprintf("%s attempt %d failed, %s", step.Payment, d.Attempt, d.Status), nil

	case OpDrive:
		if step.Ticks > 0 {
			if _, err := r.engine.AdvanceClock(ctx, step.Ticks); err != nil {
				return "", err
			}
		}
		rep, err := r.driver.Tick(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("due %d executed %d failed %d retried %d exhausted %d skipped %d",
			rep.Due, rep.Executed, rep.Failed, rep.Retried, rep.Exhausted, rep.Skipped), nil

	case OpCancel:
		if err := r.engine.Cancel(ctx, step.As, r.payments[step.Payment]); err != nil {
			return "", err
		}
		return step.Payment + " cancelled", nil

	case OpRefund:
		id, err := r.engine.Refund(ctx, step.As, usecase.RefundRequest{
			PaymentID: r.payments[step.Payment],
			Amount:    step.Amount,
			Reason:    step.Reason,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s refund %d of %d", step.Payment, id, step.Amount), nil

	case OpRegister:
		method, err := parseMethod(step.Method, "")
		if err != nil {
			return "", err
		}
		index, err := r.engine.RegisterPaymentMethod(ctx, step.As, usecase.RegisterMethodRequest{
			MethodType:            method,
			IsDefault:             step.Default,
			AutoRechargeEnabled:   step.AutoRechargeAmount > 0,
			AutoRechargeThreshold: step.AutoRechargeThreshold,
			AutoRechargeAmount:    step.AutoRechargeAmount,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s method %d (%s)", step.As, index, method), nil

	case OpDeposit:
		m, err := r.engine.DepositEscrow(ctx, step.As, step.Index, step.Amount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s method %d escrow %d", step.As, m.MethodIndex, m.EscrowBalance), nil

	case OpSetFee:
		s, err := r.engine.SetPlatformFee(ctx, r.caller(step, r.scenario.Admin), step.Bps)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fee %d bps", s.PlatformFeeBps), nil

	case OpToggleRetry:
		enabled := step.Enabled != nil && *step.Enabled
		s, err := r.engine.ToggleRetrySystem(ctx, r.caller(step, r.scenario.Admin), enabled)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("retry enabled %t", s.RetryEnabled), nil

	case OpExpect:
		if err := r.expect(ctx, step); err != nil {
			return "", err
		}
		return "ok", nil
	}
	return "", fmt.Errorf("unknown op %q", step.Op)
}

func (r *Runner) caller(step Step, fallback string) string {
	if step.As != "" {
		return step.As
	}
	return fallback
}

func parseMethod(raw string, fallback model.PaymentMethodType) (model.PaymentMethodType, error) {
	if raw == "" && fallback != "" {
		return fallback, nil
	}
	method, err := model.ParsePaymentMethodType(raw)
	if err != nil {
		return "", apperrors.Detail(customErr.ErrInvalidPaymentMethod, "%q", raw)
	}
	return method, nil
}
