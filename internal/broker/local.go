package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pos-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LocalBus is an in-process stand-in for a Kafka topic, used when Kafka is
// disabled. Messages are delivered in publish order by StartConsuming.
type LocalBus struct {
	messages chan kafka.Message
	logger   *zap.Logger
}

// NewLocalBus creates a bus that buffers up to size undelivered messages
func NewLocalBus(size int) *LocalBus {
	return &LocalBus{
		messages: make(chan kafka.Message, size),
		logger:   util.GetLogger(),
	}
}

// PublishEvent queues an event, blocking while the buffer is full
func (b *LocalBus) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{Key: []byte(key), Value: eventBytes, Time: time.Now()}
	select {
	case b.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartConsuming delivers queued messages to handler until ctx is cancelled
func (b *LocalBus) StartConsuming(ctx context.Context, handler MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.messages:
			if err := handler(ctx, msg); err != nil {
				b.logger.Error("Error handling local message", zap.String("key", string(msg.Key)), zap.Error(err))
			}
		}
	}
}

// Close is a no-op; undelivered messages are discarded with the bus
func (b *LocalBus) Close() error {
	return nil
}
