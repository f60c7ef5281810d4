package config

import (
	"fmt"

	pkgconfig "github.com/wekeepgrowing/semo-recurring/pkg/config"
	"github.com/wekeepgrowing/semo-recurring/pkg/logger"
)

// ServiceName selects configs/{env}/recurring.yaml and the RECURRING_ env prefix
const ServiceName = "recurring"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Log      logger.Config  `mapstructure:"log"`
	JWT      JWTConfig      `mapstructure:"jwt"`
}

// Load reads the service configuration. The returned source can be
// watched for changes.
func Load() (*Config, pkgconfig.Config, error) {
	source, err := pkgconfig.Load(ServiceName, Defaults())
	if err != nil {
		return nil, nil, err
	}

	cfg, err := Decode(source)
	if err != nil {
		return nil, nil, err
	}
	return cfg, source, nil
}

// Decode unmarshals and validates a loaded configuration
func Decode(source pkgconfig.Config) (*Config, error) {
	var cfg Config
	if err := source.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if c.Engine.Admin == "" {
		return fmt.Errorf("engine.admin is required")
	}
	switch c.Database.Driver {
	case DatabaseDriverMemory, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.Ledger.Kind {
	case LedgerKindMemory:
	case LedgerKindStripe:
		if c.Ledger.StripeSecretKey == "" {
			return fmt.Errorf("ledger.stripe_secret_key is required for the stripe ledger")
		}
	default:
		return fmt.Errorf("unknown ledger.kind %q", c.Ledger.Kind)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}

// Defaults returns the values used when neither file nor environment
// provide one.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"service.name":        ServiceName,
		"service.environment": "dev",
		"service.version":     "dev",

		"engine.platform_fee_bps":   150,
		"engine.max_retry_attempts": 3,
		"engine.retry_delay":        144,
		"engine.refund_window":      1008,
		"engine.retry_enabled":      true,
		"engine.start_tick":         0,
		"engine.treasury":           "treasury",

		"database.driver":             DatabaseDriverMemory,
		"database.host":               "localhost",
		"database.port":               5432,
		"database.name":               "recurring",
		"database.user":               "postgres",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     20,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "30m",
		"database.conn_max_idle_time": "5m",
		"database.auto_migrate":       true,

		"server.http.host": "0.0.0.0",
		"server.http.port": 8080,
		"server.grpc.host": "0.0.0.0",
		"server.grpc.port": 9090,

		"redis.enabled": false,
		"redis.addr":    "localhost:6379",
		"redis.channel": "recurring:events",

		"driver.enabled":         false,
		"driver.schedule":        "@every 10s",
		"driver.ticks_per_run":   1,
		"driver.batch_size":      100,
		"driver.rate_per_second": 50,
		"driver.principal":       "driver",

		"ledger.kind":     LedgerKindMemory,
		"ledger.currency": "usd",

		"log.level":  "info",
		"log.format": "json",
		"log.output": "stdout",
	}
}
