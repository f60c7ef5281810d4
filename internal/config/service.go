package config

import "time"

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

// EngineConfig seeds the engine settings on first start
type EngineConfig struct {
	PlatformFeeBps   int64    `mapstructure:"platform_fee_bps"`
	MaxRetryAttempts int      `mapstructure:"max_retry_attempts"`
	RetryDelay       uint64   `mapstructure:"retry_delay"`
	RefundWindow     uint64   `mapstructure:"refund_window"`
	RetryEnabled     bool     `mapstructure:"retry_enabled"`
	Admin            string   `mapstructure:"admin"`
	DriverPrincipals []string `mapstructure:"driver_principals"`
	Treasury         string   `mapstructure:"treasury"`
	StartTick        uint64   `mapstructure:"start_tick"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Channel     string        `mapstructure:"channel"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// DriverConfig controls the in-process tick driver
type DriverConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a robfig/cron spec, e.g. "@every 10s"
	Schedule      string  `mapstructure:"schedule"`
	TicksPerRun   uint64  `mapstructure:"ticks_per_run"`
	BatchSize     int     `mapstructure:"batch_size"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Principal     string  `mapstructure:"principal"`
}

const (
	LedgerKindMemory = "memory"
	LedgerKindStripe = "stripe"
)

type LedgerConfig struct {
	Kind            string `mapstructure:"kind"`
	StripeSecretKey string `mapstructure:"stripe_secret_key"`
	Currency        string `mapstructure:"currency"`
}
