package events

import (
	"context"
	"encoding/json"

	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/pkg/messaging"
	"go.uber.org/zap"
)

// Tail subscribes to channel and hands each decoded envelope to fn until ctx
// ends or fn fails. Payloads that are not envelopes are logged and skipped.
// Callers should cancel ctx after Tail returns so the subscription is released.
func Tail(ctx context.Context, client messaging.RedisClient, channel string, logger *zap.Logger, fn func(event.Envelope) error) error {
	messages, err := client.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	logger.Info("Tailing events", zap.String("channel", channel))

	for msg := range messages {
		var e event.Envelope
		if err := json.Unmarshal(msg.Payload, &e); err != nil || e.ID == "" {
			logger.Warn("Skipping malformed event",
				zap.String("channel", msg.Channel),
				zap.ByteString("payload", msg.Payload),
				zap.Error(err))
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return ctx.Err()
}
