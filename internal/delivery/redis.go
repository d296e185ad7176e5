package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"

	"tracespool/internal/queue"
)

// RedisSink publishes envelopes to a Redis stream.
type RedisSink struct {
	stream    string
	client    redis.UniversalClient
	publisher message.Publisher
}

// NewRedisSink connects a watermill publisher to the Redis server at addr.
func NewRedisSink(addr, stream string, logger *slog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return newRedisSink(client, stream, logger)
}

func newRedisSink(client redis.UniversalClient, stream string, logger *slog.Logger) (*RedisSink, error) {
	var wmLogger watermill.LoggerAdapter = watermill.NopLogger{}
	if logger != nil {
		wmLogger = watermill.NewSlogLogger(logger)
	}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, wmLogger)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create redis stream publisher: %w", err)
	}
	return &RedisSink{stream: stream, client: client, publisher: pub}, nil
}

// Deliver publishes one message whose UUID is the item's idempotency key.
func (s *RedisSink) Deliver(ctx context.Context, item queue.Item) error {
	payload, err := json.Marshal(NewEnvelope(item))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	msg := message.NewMessage(item.ID, payload)
	msg.Metadata.Set("session_id", item.SessionID)
	msg.SetContext(ctx)
	if err := s.publisher.Publish(s.stream, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", s.stream, err)
	}
	return nil
}

// Close shuts down the publisher and the Redis client.
func (s *RedisSink) Close() error {
	pubErr := s.publisher.Close()
	clientErr := s.client.Close()
	if pubErr != nil {
		return pubErr
	}
	return clientErr
}
