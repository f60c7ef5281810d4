// Command events tails the engine's Redis event channel and prints each
// envelope as a JSON line on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wekeepgrowing/semo-recurring/internal/config"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/infrastructure/events"
	"github.com/wekeepgrowing/semo-recurring/pkg/logger"
	"github.com/wekeepgrowing/semo-recurring/pkg/messaging"
	"go.uber.org/zap"
)

func main() {
	payer := flag.String("payer", "", "only events for this payer")
	flag.Parse()

	cfg, _, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := cfg.Log
	logCfg.Output = "stderr"
	zapLogger, _, err := logger.NewZapLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	if !cfg.Redis.Enabled {
		zapLogger.Fatal("Redis is disabled; nothing to tail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := messaging.NewRedisClient(ctx, messaging.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PingTimeout: cfg.Redis.PingTimeout,
	})
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer client.Close()

	channel := cfg.Redis.Channel
	if *payer != "" {
		channel = events.PayerChannel(channel, *payer)
	}

	out := json.NewEncoder(os.Stdout)
	err = events.Tail(ctx, client, channel, zapLogger, func(e event.Envelope) error {
		return out.Encode(e)
	})
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		zapLogger.Fatal("Event tail stopped", zap.Error(err))
	}
}
