package model

// EngineSettings is the runtime-mutable engine configuration. A single row
// with ID 1 exists once the engine has been seeded.
type EngineSettings struct {
	ID               int64  `gorm:"primaryKey;autoIncrement:false" json:"-"`
	PlatformFeeBps   int64  `gorm:"not null" json:"platform_fee_bps"`
	MaxRetryAttempts int    `gorm:"not null" json:"max_retry_attempts"`
	RetryDelay       uint64 `gorm:"not null" json:"retry_delay"`
	RefundWindow     uint64 `gorm:"not null" json:"refund_window"`
	RetryEnabled     bool   `gorm:"not null" json:"retry_enabled"`
	Admin            string `gorm:"size:100;not null" json:"admin"`
	// CurrentTick is the last logical tick the clock was advanced to
	CurrentTick uint64 `gorm:"not null;default:0" json:"current_tick"`
}

// TableName specifies the table name for GORM
func (EngineSettings) TableName() string {
	return "engine_settings"
}

// SettingsRowID is the primary key of the single settings row.
const SettingsRowID int64 = 1
