package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner fires Driver.Tick on a cron schedule. A run still in progress
// makes the next firing a no-op.
type Runner struct {
	mu     sync.Mutex
	driver *Driver
	spec   string
	cron   *cron.Cron
	logger *zap.Logger
}

func NewRunner(driver *Driver, spec string, logger *zap.Logger) *Runner {
	return &Runner{
		driver: driver,
		spec:   spec,
		logger: logger,
	}
}

// Start registers the job and starts the scheduler. ctx bounds every tick.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	cl := cronLogger{r.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.spec, func() {
		if _, err := r.driver.Tick(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Driver tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid driver schedule %q: %w", r.spec, err)
	}

	c.Start()
	r.cron = c
	r.logger.Info("Driver started", zap.String("schedule", r.spec))
	return nil
}

// Stop stops scheduling and waits for a running tick to finish or ctx to end
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.logger.Info("Driver stopped")
}

// cronLogger routes cron's own logging to zap
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
