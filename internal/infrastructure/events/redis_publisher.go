// Package events delivers engine events to Redis pub/sub.
package events

import (
	"context"

	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/pkg/messaging"
	"go.uber.org/zap"
)

// RedisPublisher publishes every event on the shared channel and, when the
// event names a payer, on the payer's own channel.
type RedisPublisher struct {
	client  messaging.RedisClient
	channel string
	logger  *zap.Logger
}

var _ event.Publisher = (*RedisPublisher)(nil)

func NewRedisPublisher(client messaging.RedisClient, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, e event.Envelope) error {
	if err := p.client.Publish(ctx, p.channel, e); err != nil {
		return err
	}
	if e.Payer != "" {
		if err := p.client.Publish(ctx, PayerChannel(p.channel, e.Payer), e); err != nil {
			return err
		}
	}

	p.logger.Debug("Event published",
		zap.String("id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("channel", p.channel))
	return nil
}

// PayerChannel names the per-payer channel under base
func PayerChannel(base, payer string) string {
	return base + ":" + payer
}
