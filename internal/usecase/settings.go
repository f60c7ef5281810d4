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

// SetPlatformFee sets the fee charged on future executions
func (e *Engine) SetPlatformFee(ctx context.Context, caller string, bps int64) (*model.EngineSettings, error) {
	return e.updateSettings(ctx, caller, "platform_fee", func(s *model.EngineSettings) error {
		if bps < 0 || bps > MaxPlatformFeeBps {
			return apperrors.Detail(customErr.ErrInvalidAmount, "platform fee %d bps exceeds %d", bps, MaxPlatformFeeBps)
		}
		s.PlatformFeeBps = bps
		return nil
	})
}

// ToggleRetrySystem enables or disables retries for future failure reports
func (e *Engine) ToggleRetrySystem(ctx context.Context, caller string, enabled bool) (*model.EngineSettings, error) {
	return e.updateSettings(ctx, caller, "retry_enabled", func(s *model.EngineSettings) error {
		s.RetryEnabled = enabled
		return nil
	})
}

// SetRetryPolicy changes the attempt limit and the fixed retry delay
func (e *Engine) SetRetryPolicy(ctx context.Context, caller string, maxAttempts int, delay uint64) (*model.EngineSettings, error) {
	return e.UpdateRetrySettings(ctx, caller, RetrySettingsUpdate{MaxAttempts: &maxAttempts, Delay: &delay})
}

// RetrySettingsUpdate changes any subset of the retry settings. Nil
// fields keep their current value.
type RetrySettingsUpdate struct {
	Enabled     *bool
	MaxAttempts *int
	Delay       *uint64
}

// UpdateRetrySettings applies u in one step: either every field changes
// or none does.
func (e *Engine) UpdateRetrySettings(ctx context.Context, caller string, u RetrySettingsUpdate) (*model.EngineSettings, error) {
	return e.updateSettings(ctx, caller, "retry", func(s *model.EngineSettings) error {
		maxAttempts, delay := s.MaxRetryAttempts, s.RetryDelay
		if u.MaxAttempts != nil {
			maxAttempts = *u.MaxAttempts
		}
		if u.Delay != nil {
			delay = *u.Delay
		}
		if maxAttempts < 1 || delay == 0 {
			return apperrors.Detail(customErr.ErrInvalidAmount, "max attempts %d, delay %d", maxAttempts, delay)
		}
		s.MaxRetryAttempts = maxAttempts
		s.RetryDelay = delay
		if u.Enabled != nil {
			s.RetryEnabled = *u.Enabled
		}
		return nil
	})
}

// SetRefundWindow changes how long after execution a refund is allowed
func (e *Engine) SetRefundWindow(ctx context.Context, caller string, window uint64) (*model.EngineSettings, error) {
	return e.updateSettings(ctx, caller, "refund_window", func(s *model.EngineSettings) error {
		if window == 0 {
			return apperrors.Detail(customErr.ErrInvalidAmount, "refund window must be positive")
		}
		s.RefundWindow = window
		return nil
	})
}

// GetSettings returns the current engine settings
func (e *Engine) GetSettings(ctx context.Context) (*model.EngineSettings, error) {
	return e.settings(ctx)
}

func (e *Engine) updateSettings(ctx context.Context, caller, field string, fn func(s *model.EngineSettings) error) (*model.EngineSettings, error) {
	var updated *model.EngineSettings
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		s, err := tx.LockSettings()
		if err != nil {
			return err
		}
		if caller == "" || caller != s.Admin {
			return customErr.ErrOwnerOnly
		}
		if err := fn(s); err != nil {
			return err
		}
		if err := tx.SaveSettings(s); err != nil {
			return err
		}
		updated = s
		return nil
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Settings change rejected", zap.String("field", field), zap.String("caller", caller))
		return nil, err
	}

	e.logger.Info("Engine settings changed",
		zap.String("field", field),
		zap.Int64("platform_fee_bps", updated.PlatformFeeBps),
		zap.Int("max_retry_attempts", updated.MaxRetryAttempts),
		zap.Uint64("retry_delay", updated.RetryDelay),
		zap.Uint64("refund_window", updated.RefundWindow),
		zap.Bool("retry_enabled", updated.RetryEnabled))

	e.publish(ctx, event.Envelope{
		Type: event.SettingsChanged,
		Tick: e.clock.Now(),
		Data: map[string]interface{}{"field": field},
	})
	return updated, nil
}
