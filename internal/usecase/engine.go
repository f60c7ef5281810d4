package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/semo-recurring/internal/clock"
	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// Default engine settings used when nothing else is configured
const (
	DefaultPlatformFeeBps   int64  = 150
	DefaultMaxRetryAttempts int    = 3
	DefaultRetryDelay       uint64 = 144
	DefaultRefundWindow     uint64 = 1008

	// MaxPlatformFeeBps caps the platform fee at 10%
	MaxPlatformFeeBps int64 = 1000
)

// EngineOptions configures an Engine
type EngineOptions struct {
	// DriverPrincipals may report execution failures besides the admin
	DriverPrincipals []string
}

// Engine is the recurring payment state machine. It holds no timers;
// time only moves through the injected clock.
type Engine struct {
	store     domainRepo.Store
	ledger    ledger.Ledger
	clock     clock.Source
	publisher event.Publisher
	logger    *zap.Logger
	drivers   map[string]bool
}

// NewEngine creates a new engine instance
func NewEngine(
	store domainRepo.Store,
	ldg ledger.Ledger,
	clk clock.Source,
	publisher event.Publisher,
	logger *zap.Logger,
	opts EngineOptions,
) *Engine {
	if publisher == nil {
		publisher = event.Nop{}
	}
	drivers := make(map[string]bool, len(opts.DriverPrincipals))
	for _, p := range opts.DriverPrincipals {
		if p != "" {
			drivers[p] = true
		}
	}
	return &Engine{
		store:     store,
		ledger:    ldg,
		clock:     clk,
		publisher: publisher,
		logger:    logger,
		drivers:   drivers,
	}
}

// DefaultSettings returns the built-in settings owned by admin
func DefaultSettings(admin string) model.EngineSettings {
	return model.EngineSettings{
		ID:               model.SettingsRowID,
		PlatformFeeBps:   DefaultPlatformFeeBps,
		MaxRetryAttempts: DefaultMaxRetryAttempts,
		RetryDelay:       DefaultRetryDelay,
		RefundWindow:     DefaultRefundWindow,
		RetryEnabled:     true,
		Admin:            admin,
	}
}

// EnsureSettings seeds the settings row on first start. Existing settings
// are left untouched and returned, and the clock resumes from the stored
// tick when that is ahead of it.
func (e *Engine) EnsureSettings(ctx context.Context, seed model.EngineSettings) (*model.EngineSettings, error) {
	if err := validateSettings(seed); err != nil {
		return nil, err
	}

	var current *model.EngineSettings
	var restore uint64
	seeded := false
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		now := e.clock.Now()
		s, err := tx.LockSettings()
		if err == nil {
			current = s
			if s.CurrentTick > now {
				restore = s.CurrentTick
				return nil
			}
			if s.CurrentTick == now {
				return nil
			}
			s.CurrentTick = now
			return tx.SaveSettings(s)
		}
		if !apperrors.Is(err, customErr.ErrNotFound) {
			return err
		}
		seed.ID = model.SettingsRowID
		seed.CurrentTick = now
		if err := tx.SaveSettings(&seed); err != nil {
			return err
		}
		current = &seed
		seeded = true
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to ensure engine settings")
	}

	if restore > 0 {
		if err := e.clock.Set(restore); err != nil {
			return nil, apperrors.Wrap(err, "failed to restore logical clock")
		}
		e.logger.Info("Logical clock restored", zap.Uint64("tick", restore))
	}

	if seeded {
		e.logger.Info("Engine settings seeded",
			zap.Int64("platform_fee_bps", current.PlatformFeeBps),
			zap.Int("max_retry_attempts", current.MaxRetryAttempts),
			zap.Uint64("retry_delay", current.RetryDelay),
			zap.Uint64("refund_window", current.RefundWindow),
			zap.Bool("retry_enabled", current.RetryEnabled),
			zap.String("admin", current.Admin))
	}
	return current, nil
}

func validateSettings(s model.EngineSettings) error {
	if s.Admin == "" {
		return apperrors.NewAppError(apperrors.ErrInvalidArgument, "engine admin is required", nil)
	}
	if s.PlatformFeeBps < 0 || s.PlatformFeeBps > MaxPlatformFeeBps {
		return apperrors.Detail(customErr.ErrInvalidAmount, "platform fee %d bps", s.PlatformFeeBps)
	}
	if s.MaxRetryAttempts < 1 || s.RetryDelay == 0 || s.RefundWindow == 0 {
		return apperrors.Detail(customErr.ErrInvalidAmount, "retry policy and refund window must be positive")
	}
	return nil
}

// isDriver reports whether caller may report execution failures
func (e *Engine) isDriver(settings *model.EngineSettings, caller string) bool {
	return caller != "" && (caller == settings.Admin || e.drivers[caller])
}

// publish delivers an event after commit. Failures are only logged.
func (e *Engine) publish(ctx context.Context, env event.Envelope) {
	env.ID = uuid.NewString()
	if err := e.publisher.Publish(ctx, env); err != nil {
		e.logger.Warn("Failed to publish engine event",
			zap.String("type", string(env.Type)),
			zap.Int64("payment_id", env.PaymentID),
			zap.Error(err))
	}
}

// Now returns the current logical tick
func (e *Engine) Now() uint64 {
	return e.clock.Now()
}

// Ready reports whether the backing store is usable
func (e *Engine) Ready(ctx context.Context) error {
	return e.store.Ready(ctx)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
