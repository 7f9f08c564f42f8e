package treatment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// StatusFeed is the treatment-status live stream, one topic per patient.
type StatusFeed interface {
	PublishStatus(ctx context.Context, r Request) error
	SubscribeStatus(ctx context.Context, patientID string) (StatusSubscription, error)
}

// StatusSubscription delivers request updates for one patient.
type StatusSubscription interface {
	Updates() <-chan Request
	Close() error
}

func statusChannel(patientID string) string { return "treatment:patient:" + patientID }

// RedisStatusFeed publishes transitions over Redis pub/sub.
type RedisStatusFeed struct {
	client *redis.Client
	tracer trace.Tracer
}

// NewRedisStatusFeed creates a StatusFeed over Redis pub/sub.
func NewRedisStatusFeed(client *redis.Client) *RedisStatusFeed {
	if client == nil {
		panic("treatment: redis client required")
	}
	return &RedisStatusFeed{client: client, tracer: otel.Tracer("roleplay.internal.treatment.feed")}
}

func (f *RedisStatusFeed) PublishStatus(ctx context.Context, r Request) error {
	ctx, span := f.tracer.Start(ctx, "treatment.feed.publish")
	defer span.End()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("treatment: marshal status: %w", err)
	}
	if err := f.client.Publish(ctx, statusChannel(r.PatientID), data).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("treatment: publish status: %w", err)
	}
	return nil
}

func (f *RedisStatusFeed) SubscribeStatus(ctx context.Context, patientID string) (StatusSubscription, error) {
	pubsub := f.client.Subscribe(ctx, statusChannel(patientID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("treatment: subscribe status: %w", err)
	}
	sub := &redisStatusSubscription{pubsub: pubsub, out: make(chan Request, 16), done: make(chan struct{})}
	go sub.pump()
	return sub, nil
}

type redisStatusSubscription struct {
	pubsub *redis.PubSub
	out    chan Request
	done   chan struct{}
	once   sync.Once
}

func (s *redisStatusSubscription) Updates() <-chan Request { return s.out }

func (s *redisStatusSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisStatusSubscription) pump() {
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
			var r Request
			if err := json.Unmarshal([]byte(raw.Payload), &r); err != nil {
				continue
			}
			select {
			case s.out <- r:
			case <-s.done:
				return
			}
		}
	}
}

// MemoryStatusFeed is an in-process StatusFeed. Slow subscribers drop
// updates rather than block the workflow; each update carries the full
// request so the next one supersedes anything missed.
type MemoryStatusFeed struct {
	mu   sync.Mutex
	subs map[string]map[*memoryStatusSubscription]struct{}
}

func NewMemoryStatusFeed() *MemoryStatusFeed {
	return &MemoryStatusFeed{subs: make(map[string]map[*memoryStatusSubscription]struct{})}
}

type memoryStatusSubscription struct {
	feed      *MemoryStatusFeed
	patientID string
	out       chan Request
	once      sync.Once
}

func (s *memoryStatusSubscription) Updates() <-chan Request { return s.out }

func (s *memoryStatusSubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs[s.patientID], s)
		close(s.out)
		s.feed.mu.Unlock()
	})
	return nil
}

func (f *MemoryStatusFeed) PublishStatus(_ context.Context, r Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[r.PatientID] {
		select {
		case sub.out <- r:
		default:
		}
	}
	return nil
}

func (f *MemoryStatusFeed) SubscribeStatus(_ context.Context, patientID string) (StatusSubscription, error) {
	sub := &memoryStatusSubscription{feed: f, patientID: patientID, out: make(chan Request, 16)}
	f.mu.Lock()
	if f.subs[patientID] == nil {
		f.subs[patientID] = make(map[*memoryStatusSubscription]struct{})
	}
	f.subs[patientID][sub] = struct{}{}
	f.mu.Unlock()
	return sub, nil
}

// Subscribers reports open subscriptions for a patient.
func (f *MemoryStatusFeed) Subscribers(patientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[patientID])
}
