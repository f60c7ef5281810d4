package usecase

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
)

var basisPoints = decimal.NewFromInt(model.BasisPoints)

// PlatformFee returns floor(amount * bps / 10000) without int64 overflow
// in the intermediate product.
func PlatformFee(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).QuoRem(basisPoints, 0)
	return q.IntPart()
}

// ProportionalFee returns floor(fee * part / whole), the share of fee
// attributable to part of the original amount.
func ProportionalFee(fee, part, whole int64) int64 {
	if fee <= 0 || part <= 0 || whole <= 0 {
		return 0
	}
	q, _ := decimal.NewFromInt(fee).Mul(decimal.NewFromInt(part)).QuoRem(decimal.NewFromInt(whole), 0)
	return q.IntPart()
}

// CalculateFee returns the platform fee for amount at the current fee rate
func (e *Engine) CalculateFee(ctx context.Context, amount int64) (int64, error) {
	settings, err := e.settings(ctx)
	if err != nil {
		return 0, err
	}
	return PlatformFee(amount, settings.PlatformFeeBps), nil
}

func (e *Engine) settings(ctx context.Context) (*model.EngineSettings, error) {
	s, err := e.store.LoadSettings(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load engine settings")
	}
	if s == nil {
		return nil, apperrors.NewAppError(apperrors.ErrInternal, "engine settings not seeded", nil)
	}
	return s, nil
}
