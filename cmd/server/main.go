package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	ledgerAdapter "github.com/wekeepgrowing/semo-recurring/internal/adapter/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/adapter/repository/memory"
	"github.com/wekeepgrowing/semo-recurring/internal/adapter/repository/postgres"
	"github.com/wekeepgrowing/semo-recurring/internal/clock"
	"github.com/wekeepgrowing/semo-recurring/internal/config"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	"github.com/wekeepgrowing/semo-recurring/internal/driver"
	"github.com/wekeepgrowing/semo-recurring/internal/infrastructure/database"
	"github.com/wekeepgrowing/semo-recurring/internal/infrastructure/events"
	grpcServer "github.com/wekeepgrowing/semo-recurring/internal/infrastructure/grpc"
	httpServer "github.com/wekeepgrowing/semo-recurring/internal/infrastructure/http"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	"github.com/wekeepgrowing/semo-recurring/pkg/logger"
	"github.com/wekeepgrowing/semo-recurring/pkg/messaging"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, source, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, level, err := logger.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger = zapLogger.With(
		zap.String("service", cfg.Service.Name),
		zap.String("environment", cfg.Service.Environment),
		zap.String("version", cfg.Service.Version),
	)

	// Only the log level is reloaded; everything else needs a restart
	if source.File() != "" {
		source.OnChange(func(name string) {
			next, err := config.Decode(source)
			if err != nil {
				zapLogger.Warn("Ignoring invalid config change", zap.String("file", name), zap.Error(err))
				return
			}
			level.SetLevel(logger.ParseLevel(next.Log.Level))
			zapLogger.Info("Log level reloaded", zap.String("level", next.Log.Level))
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := newStore(cfg, zapLogger)
	defer closeStore()

	publisher, closePublisher := newPublisher(ctx, cfg, zapLogger)
	defer closePublisher()

	principals := cfg.Engine.DriverPrincipals
	if cfg.Driver.Enabled && cfg.Driver.Principal != "" {
		principals = append(principals, cfg.Driver.Principal)
	}

	clk := clock.NewLogical(cfg.Engine.StartTick)
	engine := usecase.NewEngine(store, newLedger(cfg, zapLogger), clk, publisher, zapLogger,
		usecase.EngineOptions{DriverPrincipals: principals})

	if _, err := engine.EnsureSettings(ctx, model.EngineSettings{
		PlatformFeeBps:   cfg.Engine.PlatformFeeBps,
		MaxRetryAttempts: cfg.Engine.MaxRetryAttempts,
		RetryDelay:       cfg.Engine.RetryDelay,
		RefundWindow:     cfg.Engine.RefundWindow,
		RetryEnabled:     cfg.Engine.RetryEnabled,
		Admin:            cfg.Engine.Admin,
	}); err != nil {
		zapLogger.Fatal("Failed to seed engine settings", zap.Error(err))
	}

	var runner *driver.Runner
	if cfg.Driver.Enabled {
		d := driver.New(engine, driver.Options{
			Principal:     cfg.Driver.Principal,
			TicksPerRun:   cfg.Driver.TicksPerRun,
			BatchSize:     cfg.Driver.BatchSize,
			RatePerSecond: cfg.Driver.RatePerSecond,
		}, zapLogger)
		runner = driver.NewRunner(d, cfg.Driver.Schedule, zapLogger)
		if err := runner.Start(ctx); err != nil {
			zapLogger.Fatal("Failed to start driver", zap.Error(err))
		}
	}

	// Initialize servers
	grpcSrv := grpcServer.NewServer(cfg, zapLogger, engine)
	httpSrv := httpServer.NewServer(cfg, zapLogger, engine)

	// Start servers
	go func() {
		if err := grpcSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start gRPC server", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.Start(); err != nil {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zapLogger.Info("Shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if runner != nil {
		runner.Stop(shutdownCtx)
	}
	cancel()

	if err := grpcSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shutdown gRPC server", zap.Error(err))
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}

	zapLogger.Info("Servers shut down successfully")
}

func newStore(cfg *config.Config, log *zap.Logger) (domainRepo.Store, func()) {
	if cfg.Database.Driver == config.DatabaseDriverMemory {
		log.Warn("Using in-memory store; state is lost on restart")
		return memory.NewStore(log), func() {}
	}

	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, log); err != nil {
			log.Fatal("Failed to run database migrations", zap.Error(err))
		}
	}
	return postgres.NewStore(db, log), func() {
		if err := database.Close(db, log); err != nil {
			log.Error("Failed to close database connection", zap.Error(err))
		}
	}
}

func newLedger(cfg *config.Config, log *zap.Logger) ledger.Ledger {
	if cfg.Ledger.Kind == config.LedgerKindStripe {
		return ledgerAdapter.NewStripeLedger(cfg.Ledger.StripeSecretKey, cfg.Ledger.Currency, log)
	}
	log.Warn("Using in-memory ledger")
	return ledgerAdapter.NewMemoryLedger(cfg.Engine.Treasury, log)
}

func newPublisher(ctx context.Context, cfg *config.Config, log *zap.Logger) (event.Publisher, func()) {
	if !cfg.Redis.Enabled {
		return event.Nop{}, func() {}
	}

	client, err := messaging.NewRedisClient(ctx, messaging.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PingTimeout: cfg.Redis.PingTimeout,
	})
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	log.Info("Publishing engine events to Redis",
		zap.String("addr", cfg.Redis.Addr),
		zap.String("channel", cfg.Redis.Channel))

	return events.NewRedisPublisher(client, cfg.Redis.Channel, log), func() {
		if err := client.Close(); err != nil {
			log.Error("Failed to close Redis client", zap.Error(err))
		}
	}
}
