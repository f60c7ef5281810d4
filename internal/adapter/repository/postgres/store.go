// Package postgres implements the engine store on PostgreSQL through gorm.
// Record locks are SELECT ... FOR UPDATE row locks; per-payer sequences
// are serialized with transaction-scoped advisory locks.
package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store implements repository.Store
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ domainRepo.Store = (*Store)(nil)

// NewStore creates a new postgres store instance
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Transact runs fn inside one database transaction
func (s *Store) Transact(ctx context.Context, fn func(tx domainRepo.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&tx{db: gtx, logger: s.logger})
	})
}

// Ready pings the database
func (s *Store) Ready(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*model.ScheduledPayment, error) {
	var p model.ScheduledPayment
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, s.notFound(err, "payment %d", id)
	}
	return &p, nil
}

func (s *Store) ListDuePayments(ctx context.Context, now uint64, limit int) ([]*model.ScheduledPayment, error) {
	var payments []*model.ScheduledPayment
	query := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", model.PaymentStatusPending, now).
		Where("next_retry_at = 0 OR next_retry_at <= ?", now).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&payments).Error; err != nil {
		s.logger.Error("Failed to list due payments", zap.Uint64("now", now), zap.Error(err))
		return nil, fmt.Errorf("failed to list due payments: %w", err)
	}
	return payments, nil
}

func (s *Store) GetExecution(ctx context.Context, paymentID int64, attempt int) (*model.PaymentExecution, error) {
	var e model.PaymentExecution
	err := s.db.WithContext(ctx).
		Where("payment_id = ? AND attempt_number = ?", paymentID, attempt).
		First(&e).Error
	if err != nil {
		return nil, s.notFound(err, "execution %d/%d", paymentID, attempt)
	}
	return &e, nil
}

func (s *Store) ListExecutions(ctx context.Context, paymentID int64) ([]*model.PaymentExecution, error) {
	var executions []*model.PaymentExecution
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("attempt_number ASC").
		Find(&executions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, nil
}

func (s *Store) GetRefund(ctx context.Context, id int64) (*model.Refund, error) {
	var r model.Refund
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, s.notFound(err, "refund %d", id)
	}
	return &r, nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, payer string, index int) (*model.PaymentMethod, error) {
	var m model.PaymentMethod
	err := s.db.WithContext(ctx).
		Where("payer = ? AND method_index = ?", payer, index).
		First(&m).Error
	if err != nil {
		return nil, s.notFound(err, "payment method %s/%d", payer, index)
	}
	return &m, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context, payer string) ([]*model.PaymentMethod, error) {
	return listPaymentMethods(s.db.WithContext(ctx), payer)
}

func listPaymentMethods(db *gorm.DB, payer string) ([]*model.PaymentMethod, error) {
	var methods []*model.PaymentMethod
	err := db.Where("payer = ?", payer).Order("method_index ASC").Find(&methods).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	return methods, nil
}

func (s *Store) GetSubscriptionAnalytics(ctx context.Context, subscriptionID string) (*model.SubscriptionAnalytics, error) {
	var a model.SubscriptionAnalytics
	err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.SubscriptionAnalytics{SubscriptionID: subscriptionID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription analytics: %w", err)
	}
	return &a, nil
}

func (s *Store) GetPayerStats(ctx context.Context, payer string) (*model.PayerStats, error) {
	var st model.PayerStats
	err := s.db.WithContext(ctx).Where("payer = ?", payer).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.PayerStats{Payer: payer}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payer stats: %w", err)
	}
	return &st, nil
}

func (s *Store) GetGlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	var g model.GlobalStats
	err := s.db.WithContext(ctx).First(&g, model.GlobalStatsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.GlobalStats{ID: model.GlobalStatsRowID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global stats: %w", err)
	}
	return &g, nil
}

func (s *Store) ListHistory(ctx context.Context, payer string, limit, offset int) ([]*model.HistoryEntry, error) {
	var entries []*model.HistoryEntry
	query := s.db.WithContext(ctx).Where("payer = ?", payer).Order("sequence ASC")
	if offset > 0 {
		query = query.Offset(offset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list transaction history: %w", err)
	}
	return entries, nil
}

func (s *Store) LoadSettings(ctx context.Context) (*model.EngineSettings, error) {
	var settings model.EngineSettings
	err := s.db.WithContext(ctx).First(&settings, model.SettingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load engine settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Detail(domainErrors.ErrNotFound, format, args...)
	}
	s.logger.Error("Database query failed", zap.String("record", fmt.Sprintf(format, args...)), zap.Error(err))
	return fmt.Errorf("database query failed: %w", err)
}
