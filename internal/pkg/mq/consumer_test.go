package mq

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAck struct {
	acked    int
	nacked   int
	requeued bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error {
	f.acked++
	return nil
}

func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func delivery(ack *fakeAck) amqp091.Delivery {
	return amqp091.Delivery{Acknowledger: ack, RoutingKey: "academic.activity.graded", Body: []byte(`{}`)}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name        string
		handler     MessageHandler
		wantAcked   int
		wantNacked  int
		wantRequeue bool
	}{
		{
			name:      "success acks",
			handler:   func(ctx context.Context, key string, body []byte) error { return nil },
			wantAcked: 1,
		},
		{
			name: "rejected is dropped",
			handler: func(ctx context.Context, key string, body []byte) error {
				return fmt.Errorf("bad envelope: %w", ErrReject)
			},
			wantNacked: 1,
		},
		{
			name:        "transient error requeues",
			handler:     func(ctx context.Context, key string, body []byte) error { return errors.New("db down") },
			wantNacked:  1,
			wantRequeue: true,
		},
		{
			name:       "panic is dropped",
			handler:    func(ctx context.Context, key string, body []byte) error { panic("boom") },
			wantNacked: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			c := &Consumer{handler: tt.handler}

			c.handle(context.Background(), delivery(ack))

			assert.Equal(t, tt.wantAcked, ack.acked)
			assert.Equal(t, tt.wantNacked, ack.nacked)
			assert.Equal(t, tt.wantRequeue, ack.requeued)
		})
	}
}

func TestConsume_ShutdownIsClean(t *testing.T) {
	// both select cases are ready at once, so repeat to cover either pick
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		deliveries := make(chan amqp091.Delivery)
		cancel()
		close(deliveries)

		c := &Consumer{handler: func(ctx context.Context, key string, body []byte) error { return nil }}
		require.NoError(t, c.consume(ctx, deliveries))
	}
}

func TestConsume_HandlesUntilClosed(t *testing.T) {
	ack := &fakeAck{}
	deliveries := make(chan amqp091.Delivery, 2)
	deliveries <- delivery(ack)
	deliveries <- delivery(ack)
	close(deliveries)

	c := &Consumer{handler: func(ctx context.Context, key string, body []byte) error { return nil }}
	err := c.consume(context.Background(), deliveries)

	assert.ErrorIs(t, err, ErrDeliveriesClosed)
	assert.Equal(t, 2, ack.acked)
}
