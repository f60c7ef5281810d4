package postgres

import (
	"errors"
	"fmt"

	domainErrors "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tx struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ domainRepo.Tx = (*tx)(nil)

func (t *tx) forUpdate() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// advisoryLock serializes writers of key until the transaction ends
func (t *tx) advisoryLock(key string) error {
	if err := t.db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
		return fmt.Errorf("failed to acquire advisory lock %s: %w", key, err)
	}
	return nil
}

func (t *tx) LockPayment(id int64) (*model.ScheduledPayment, error) {
	var p model.ScheduledPayment
	if err := t.forUpdate().First(&p, id).Error; err != nil {
		return nil, missing(err, "payment %d", id)
	}
	return &p, nil
}

func (t *tx) InsertPayment(p *model.ScheduledPayment) error {
	if err := t.db.Create(p).Error; err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// SavePayment writes every column and bumps Version. The version guard
// turns a write from outside the row lock into a conflict.
func (t *tx) SavePayment(p *model.ScheduledPayment) error {
	prev := p.Version
	p.Version++
	res := t.db.Model(p).Where("version = ?", prev).Select("*").Updates(p)
	if res.Error != nil {
		p.Version = prev
		return fmt.Errorf("failed to save payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		p.Version = prev
		return apperrors.NewAppError(apperrors.ErrConflict, fmt.Sprintf("payment %d modified concurrently", p.ID), nil)
	}
	return nil
}

func (t *tx) InsertExecution(e *model.PaymentExecution) error {
	if err := t.db.Create(e).Error; err != nil {
		return duplicate(err, "execution attempt")
	}
	return nil
}

func (t *tx) InsertRefund(r *model.Refund) error {
	if err := t.db.Create(r).Error; err != nil {
		return duplicate(err, "refund")
	}
	return nil
}

// LockPayerMethods takes the same advisory key as method index allocation;
// transaction-scoped advisory locks are re-entrant within a session.
func (t *tx) LockPayerMethods(payer string) error {
	return t.advisoryLock("method:" + payer)
}

func (t *tx) LockPaymentMethod(payer string, index int) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	err := t.forUpdate().Where("payer = ? AND method_index = ?", payer, index).First(&m).Error
	if err != nil {
		return nil, missing(err, "payment method %s/%d", payer, index)
	}
	return &m, nil
}

func (t *tx) ListPaymentMethods(payer string) ([]*model.PaymentMethod, error) {
	return listPaymentMethods(t.db, payer)
}

func (t *tx) InsertPaymentMethod(m *model.PaymentMethod) error {
	if err := t.advisoryLock("method:" + m.Payer); err != nil {
		return err
	}

	var last int
	err := t.db.Model(&model.PaymentMethod{}).
		Where("payer = ?", m.Payer).
		Select("COALESCE(MAX(method_index), 0)").
		Scan(&last).Error
	if err != nil {
		return fmt.Errorf("failed to allocate method index: %w", err)
	}

	m.MethodIndex = last + 1
	if err := t.db.Create(m).Error; err != nil {
		return fmt.Errorf("failed to insert payment method: %w", err)
	}
	return nil
}

func (t *tx) SavePaymentMethod(m *model.PaymentMethod) error {
	if err := t.db.Save(m).Error; err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

func (t *tx) AppendHistory(e *model.HistoryEntry) error {
	if err := t.advisoryLock("history:" + e.Payer); err != nil {
		return err
	}

	var last int64
	err := t.db.Model(&model.HistoryEntry{}).
		Where("payer = ?", e.Payer).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return fmt.Errorf("failed to allocate history sequence: %w", err)
	}

	e.Sequence = last + 1
	if err := t.db.Create(e).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// The analytics rows are created on first use and then updated under a
// row lock, which serializes concurrent updates of one scope.

func (t *tx) UpdateSubscriptionAnalytics(subscriptionID string, fn func(a *model.SubscriptionAnalytics)) error {
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.SubscriptionAnalytics{SubscriptionID: subscriptionID}).Error; err != nil {
		return fmt.Errorf("failed to create subscription analytics: %w", err)
	}

	var a model.SubscriptionAnalytics
	if err := t.forUpdate().Where("subscription_id = ?", subscriptionID).First(&a).Error; err != nil {
		return fmt.Errorf("failed to lock subscription analytics: %w", err)
	}
	fn(&a)
	if err := t.db.Save(&a).Error; err != nil {
		return fmt.Errorf("failed to save subscription analytics: %w", err)
	}
	return nil
}

func (t *tx) UpdatePayerStats(payer string, fn func(s *model.PayerStats)) error {
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.PayerStats{Payer: payer}).Error; err != nil {
		return fmt.Errorf("failed to create payer stats: %w", err)
	}

	var st model.PayerStats
	if err := t.forUpdate().Where("payer = ?", payer).First(&st).Error; err != nil {
		return fmt.Errorf("failed to lock payer stats: %w", err)
	}
	fn(&st)
	if err := t.db.Save(&st).Error; err != nil {
		return fmt.Errorf("failed to save payer stats: %w", err)
	}
	return nil
}

func (t *tx) UpdateGlobalStats(fn func(g *model.GlobalStats)) error {
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.GlobalStats{ID: model.GlobalStatsRowID}).Error; err != nil {
		return fmt.Errorf("failed to create global stats: %w", err)
	}

	var g model.GlobalStats
	if err := t.forUpdate().First(&g, model.GlobalStatsRowID).Error; err != nil {
		return fmt.Errorf("failed to lock global stats: %w", err)
	}
	fn(&g)
	if err := t.db.Save(&g).Error; err != nil {
		return fmt.Errorf("failed to save global stats: %w", err)
	}
	return nil
}

func (t *tx) LoadSettings() (*model.EngineSettings, error) {
	var s model.EngineSettings
	if err := t.db.First(&s, model.SettingsRowID).Error; err != nil {
		return nil, missing(err, "engine settings")
	}
	return &s, nil
}

func (t *tx) LockSettings() (*model.EngineSettings, error) {
	// covers the not-yet-seeded case, where there is no row to lock
	if err := t.advisoryLock("settings"); err != nil {
		return nil, err
	}
	var s model.EngineSettings
	if err := t.forUpdate().First(&s, model.SettingsRowID).Error; err != nil {
		return nil, missing(err, "engine settings")
	}
	return &s, nil
}

func (t *tx) SaveSettings(s *model.EngineSettings) error {
	s.ID = model.SettingsRowID
	if err := t.db.Save(s).Error; err != nil {
		return fmt.Errorf("failed to save engine settings: %w", err)
	}
	return nil
}

func missing(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Detail(domainErrors.ErrNotFound, format, args...)
	}
	return fmt.Errorf("database query failed: %w", err)
}

func duplicate(err error, what string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.NewAppError(apperrors.ErrConflict, "duplicate "+what, err)
	}
	return fmt.Errorf("failed to insert %s: %w", what, err)
}
