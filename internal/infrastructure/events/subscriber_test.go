package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/pkg/messaging"
)

func feed(t *testing.T, payloads ...interface{}) <-chan messaging.Message {
	ch := make(chan messaging.Message, len(payloads))
	for _, p := range payloads {
		raw, ok := p.([]byte)
		if !ok {
			var err error
			raw, err = json.Marshal(p)
			require.NoError(t, err)
		}
		ch <- messaging.Message{Channel: "recurring:events", Payload: raw}
	}
	close(ch)
	return ch
}

func TestTail(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes envelopes and skips garbage", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Subscribe", mock.Anything, "recurring:events:alice").Return(feed(t,
			event.Envelope{ID: "e-1", Type: event.PaymentScheduled, PaymentID: 1, Payer: "alice", Tick: 1000},
			[]byte("not json"),
			map[string]string{"hello": "world"},
			event.Envelope{ID: "e-2", Type: event.PaymentExecuted, PaymentID: 1, Payer: "alice", Amount: 500, Tick: 1010},
		), nil)

		var got []event.Envelope
		err := Tail(ctx, client, PayerChannel("recurring:events", "alice"), zap.NewNop(), func(e event.Envelope) error {
			got = append(got, e)
			return nil
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "e-1", got[0].ID)
		assert.Equal(t, event.PaymentExecuted, got[1].Type)
		assert.Equal(t, int64(500), got[1].Amount)
		client.AssertExpectations(t)
	})

	t.Run("handler error stops the tail", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Subscribe", mock.Anything, "recurring:events").Return(feed(t,
			event.Envelope{ID: "e-1", Type: event.PaymentScheduled},
			event.Envelope{ID: "e-2", Type: event.PaymentScheduled},
		), nil)

		calls := 0
		err := Tail(ctx, client, "recurring:events", zap.NewNop(), func(e event.Envelope) error {
			calls++
			return errors.New("stdout closed")
		})
		assert.EqualError(t, err, "stdout closed")
		assert.Equal(t, 1, calls)
	})

	t.Run("subscribe failure", func(t *testing.T) {
		client := new(MockRedisClient)
		var none <-chan messaging.Message
		client.On("Subscribe", mock.Anything, "recurring:events").Return(none, errors.New("connection refused"))

		err := Tail(ctx, client, "recurring:events", zap.NewNop(), func(event.Envelope) error { return nil })
		assert.EqualError(t, err, "connection refused")
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		client := new(MockRedisClient)
		client.On("Subscribe", mock.Anything, "recurring:events").Return(feed(t), nil)

		err := Tail(cctx, client, "recurring:events", zap.NewNop(), func(event.Envelope) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
