package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
)

const (
	channelKeyPrefix = "presence:channel:"
	userKeyPrefix    = "presence:user:"
	syncPrefix       = "presence:sync:"
)

// DefaultRecordTTL bounds how long a record outlives a crashed process.
const DefaultRecordTTL = 2 * time.Minute

// RedisStore keeps one hash per channel (user id -> JSON payload), one
// set per user listing their channels, and a pub/sub channel per
// channel for change signals.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore creates a Store whose records expire after ttl without a
// heartbeat.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("presence: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &RedisStore{client: client, ttl: ttl, tracer: otel.Tracer("roleplay.internal.presence")}
}

func (s *RedisStore) Announce(ctx context.Context, ch chat.Channel, userID string, p Payload) error {
	ctx, span := s.tracer.Start(ctx, "presence.announce")
	defer span.End()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("presence: marshal payload: %w", err)
	}
	key := ch.Key()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, channelKeyPrefix+key, userID, data)
	pipe.Expire(ctx, channelKeyPrefix+key, s.ttl)
	pipe.SAdd(ctx, userKeyPrefix+userID, key)
	pipe.Expire(ctx, userKeyPrefix+userID, s.ttl)
	pipe.Publish(ctx, syncPrefix+key, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("presence: announce: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, ch chat.Channel, userID string) error {
	ctx, span := s.tracer.Start(ctx, "presence.remove")
	defer span.End()

	key := ch.Key()
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, channelKeyPrefix+key, userID)
	pipe.SRem(ctx, userKeyPrefix+userID, key)
	pipe.Publish(ctx, syncPrefix+key, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("presence: remove: %w", err)
	}
	return nil
}

func (s *RedisStore) Members(ctx context.Context, ch chat.Channel) (map[string]Payload, error) {
	ctx, span := s.tracer.Start(ctx, "presence.members")
	defer span.End()

	raw, err := s.client.HGetAll(ctx, channelKeyPrefix+ch.Key()).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("presence: members: %w", err)
	}
	out := make(map[string]Payload, len(raw))
	for id, item := range raw {
		var p Payload
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			span.RecordError(err)
			continue
		}
		out[id] = p
	}
	return out, nil
}

func (s *RedisStore) LiveUsers(ctx context.Context, ids []string) (map[string]bool, error) {
	ctx, span := s.tracer.Start(ctx, "presence.live_users")
	defer span.End()

	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SCard(ctx, userKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		span.RecordError(err)
		return nil, fmt.Errorf("presence: live users: %w", err)
	}
	for i, id := range ids {
		out[id] = cmds[i].Val() > 0
	}
	return out, nil
}

func (s *RedisStore) Watch(ctx context.Context, ch chat.Channel) (Watch, error) {
	pubsub := s.client.Subscribe(ctx, syncPrefix+ch.Key())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("presence: watch: %w", err)
	}
	w := &redisWatch{pubsub: pubsub, ch: make(chan struct{}, 1), done: make(chan struct{})}
	go w.pump()
	return w, nil
}

type redisWatch struct {
	pubsub *redis.PubSub
	ch     chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (w *redisWatch) Changes() <-chan struct{} { return w.ch }

func (w *redisWatch) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.pubsub.Close()
	})
	return err
}

func (w *redisWatch) pump() {
	in := w.pubsub.Channel()
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-in:
			if !ok {
				return
			}
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}
