// Package driver is the external actor that moves the logical clock,
// executes due payments and reports their failures back to the engine.
package driver

import (
	"context"
	"math"

	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Engine is the part of the engine the driver calls
type Engine interface {
	ListDuePayments(ctx context.Context, limit int) ([]*model.ScheduledPayment, error)
	Execute(ctx context.Context, paymentID int64) (*usecase.ExecutionResult, error)
	ReportFailure(ctx context.Context, caller string, paymentID int64, reason string) (*usecase.RetryDecision, error)
	AdvanceClock(ctx context.Context, n uint64) (uint64, error)
}

type Options struct {
	// Principal is the caller identity used for failure reports
	Principal   string
	TicksPerRun uint64
	BatchSize   int
	// RatePerSecond caps Execute calls; zero means unlimited
	RatePerSecond float64
}

// TickReport summarizes one driver pass
type TickReport struct {
	Tick      uint64 `json:"tick"`
	Due       int    `json:"due"`
	Executed  int    `json:"executed"`
	Failed    int    `json:"failed"`
	Retried   int    `json:"retried"`
	Exhausted int    `json:"exhausted"`
	Skipped   int    `json:"skipped"`
}

type Driver struct {
	engine  Engine
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(engine Engine, opts Options, logger *zap.Logger) *Driver {
	limit, burst := rate.Inf, 1
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		burst = int(math.Max(1, math.Ceil(opts.RatePerSecond)))
	}
	return &Driver{
		engine:  engine,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With(zap.String("component", "driver")),
	}
}

// Tick advances the clock, then executes every due payment of the batch.
// Execution failures are reported so the engine can schedule a retry or
// fail the payment. Payments that changed state underneath are skipped.
func (d *Driver) Tick(ctx context.Context) (TickReport, error) {
	var report TickReport
	if d.opts.TicksPerRun > 0 {
		tick, err := d.engine.AdvanceClock(ctx, d.opts.TicksPerRun)
		if err != nil {
			return report, err
		}
		report.Tick = tick
	}

	due, err := d.engine.ListDuePayments(ctx, d.opts.BatchSize)
	if err != nil {
		return report, err
	}
	report.Due = len(due)

	for _, p := range due {
		if err := d.limiter.Wait(ctx); err != nil {
			return report, err
		}
		d.run(ctx, p, &report)
	}

	if report.Due > 0 {
		d.logger.Info("Driver tick completed",
			zap.Uint64("tick", report.Tick),
			zap.Int("due", report.Due),
			zap.Int("executed", report.Executed),
			zap.Int("failed", report.Failed),
			zap.Int("retried", report.Retried),
			zap.Int("exhausted", report.Exhausted),
			zap.Int("skipped", report.Skipped))
	}
	return report, nil
}

func (d *Driver) run(ctx context.Context, p *model.ScheduledPayment, report *TickReport) {
	_, err := d.engine.Execute(ctx, p.ID)
	if err == nil {
		report.Executed++
		return
	}
	if apperrors.CodeOf(err) != apperrors.ErrExecutionFailed {
		d.logger.Debug("Skipping payment", zap.Int64("payment_id", p.ID), zap.Error(err))
		report.Skipped++
		return
	}

	report.Failed++
	decision, err := d.engine.ReportFailure(ctx, d.opts.Principal, p.ID, err.Error())
	if err != nil {
		apperrors.LogError(d.logger, err, "Failed to report payment failure", zap.Int64("payment_id", p.ID))
		report.Skipped++
		return
	}
	if decision.RetryScheduled {
		report.Retried++
	} else {
		report.Exhausted++
	}
}
