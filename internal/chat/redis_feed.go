package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

const feedChannelPrefix = "chat:location:"

func feedChannel(location string) string { return feedChannelPrefix + location }

// RedisFeed fans messages out over Redis pub/sub, one channel per location.
type RedisFeed struct {
	client *redis.Client
	tracer trace.Tracer
	logger *logging.Logger
}

// NewRedisFeed creates a Feed over Redis pub/sub, one channel per location.
func NewRedisFeed(client *redis.Client, logger *logging.Logger) *RedisFeed {
	if client == nil {
		panic("chat: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisFeed{client: client, tracer: otel.Tracer("roleplay.internal.chat.feed"), logger: logger}
}

func (f *RedisFeed) Publish(ctx context.Context, m Message) error {
	ctx, span := f.tracer.Start(ctx, "chat.feed.publish")
	defer span.End()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("chat: marshal message: %w", err)
	}
	if err := f.client.Publish(ctx, feedChannel(m.Location), data).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: publish message: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, location string) (FeedSubscription, error) {
	pubsub := f.client.Subscribe(ctx, feedChannel(location))
	// Wait for the subscribe confirmation so nothing published after we
	// return can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("chat: subscribe %s: %w", location, err)
	}
	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
		done:   make(chan struct{}),
	}
	go sub.pump(f.logger)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) pump(logger *logging.Logger) {
	defer close(s.out)
	in := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			var m Message
			if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
				logger.Warn("chat: dropping undecodable feed payload", "channel", raw.Channel, "error", err)
				continue
			}
			select {
			case s.out <- m:
			case <-s.done:
				return
			}
		}
	}
}
