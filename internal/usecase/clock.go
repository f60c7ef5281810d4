package usecase

import (
	"context"

	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// AdvanceClock moves the logical clock forward by n ticks and stores the
// new tick with the settings so a restarted engine resumes from it.
// Advances are serialized by the settings lock.
func (e *Engine) AdvanceClock(ctx context.Context, n uint64) (uint64, error) {
	var tick uint64
	err := e.store.Transact(ctx, func(tx domainRepo.Tx) error {
		s, err := tx.LockSettings()
		if err != nil {
			return err
		}
		tick = e.clock.Advance(n)
		s.CurrentTick = tick
		return tx.SaveSettings(s)
	})
	if err != nil {
		apperrors.LogError(e.logger, err, "Failed to advance logical clock", zap.Uint64("ticks", n))
		return e.clock.Now(), err
	}

	e.logger.Debug("Logical clock advanced", zap.Uint64("ticks", n), zap.Uint64("tick", tick))
	return tick, nil
}
