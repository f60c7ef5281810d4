package database

import (
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate creates or updates the engine tables
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	logger.Info("Running GORM auto-migrations...")
	err := db.AutoMigrate(
		&model.ScheduledPayment{},
		&model.PaymentExecution{},
		&model.Refund{},
		&model.PaymentMethod{},
		&model.HistoryEntry{},
		&model.SubscriptionAnalytics{},
		&model.PayerStats{},
		&model.GlobalStats{},
		&model.EngineSettings{},
	)
	if err != nil {
		logger.Error("Failed to run migrations", zap.Error(err))
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		logger.Error("Failed to create custom indexes", zap.Error(err))
		return err
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// createCustomIndexes creates indexes GORM tags cannot express
func createCustomIndexes(db *gorm.DB) error {
	// Driver scans only look at pending rows
	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_scheduled_payments_due ON scheduled_payments (scheduled_at, next_retry_at) WHERE status = 'pending'`).Error; err != nil {
		return err
	}
	return nil
}
