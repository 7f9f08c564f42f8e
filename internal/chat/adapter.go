package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// DefaultPageSize is the history page size when none is configured.
const DefaultPageSize = 1000

// Adapter is the message store: the durable log plus the live feed.
// It is the only writer of messages.
type Adapter struct {
	log     Log
	feed    Feed
	timeout time.Duration
	now     func() time.Time
	logger  *logging.Logger
	metrics *metrics.RealtimeMetrics

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	lastAt map[string]time.Time
}

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) { a.now = now }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.RealtimeMetrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// NewAdapter creates the message store over log and feed. Every store
// call is bounded by timeout.
func NewAdapter(log Log, feed Feed, timeout time.Duration, logger *logging.Logger, opts ...AdapterOption) *Adapter {
	if log == nil || feed == nil {
		panic("chat: log and feed required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	a := &Adapter{
		log:     log,
		feed:    feed,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
		lastAt:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) channelLock(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	return l
}

// Append assigns id and created_at, persists m and publishes it.
// Appends to one channel are serialized so created_at is strictly
// increasing in write order and the feed sees the same order.
func (a *Adapter) Append(ctx context.Context, m Message) (Message, error) {
	m.SubLocation = NormalizeSubLocation(m.SubLocation)
	if m.Location == "" {
		return Message{}, errors.New("chat: location required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	key := ChannelOf(m).Key()
	lock := a.channelLock(key)
	lock.Lock()
	defer lock.Unlock()

	at := a.now().Truncate(time.Microsecond)
	if last, ok := a.lastAt[key]; ok && !at.After(last) {
		at = last.Add(time.Microsecond)
	}
	m.CreatedAt = at

	err := storage.Do(ctx, a.timeout, "chat.append", func(ctx context.Context) error {
		return a.log.Append(ctx, m)
	})
	if err != nil {
		a.metrics.ObserveStoreError("chat.append", storage.Kind(err))
		return Message{}, err
	}
	a.lastAt[key] = at

	// The message is durable at this point; a failed publish only delays
	// live delivery until the next history fetch.
	if err := storage.Do(ctx, a.timeout, "chat.publish", func(ctx context.Context) error {
		return a.feed.Publish(ctx, m)
	}); err != nil {
		a.metrics.ObserveStoreError("chat.publish", storage.Kind(err))
		a.logger.Warn("chat: publish failed after append", "message_id", m.ID, "channel", key, "error", err)
	}
	return m, nil
}

// History pages through the whole channel history. Any failed page fails
// the whole call; a partial history is never returned.
func (a *Adapter) History(ctx context.Context, ch Channel, pageSize int) ([]Message, int, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var (
		all    []Message
		cursor Cursor
		pages  int
	)
	for {
		var page []Message
		err := storage.Do(ctx, a.timeout, "chat.page", func(ctx context.Context) error {
			var err error
			page, err = a.log.Page(ctx, ch, cursor, pageSize)
			return err
		})
		if err != nil {
			a.metrics.ObserveStoreError("chat.page", storage.Kind(err))
			return nil, pages, fmt.Errorf("chat: history page %d: %w", pages+1, err)
		}
		pages++
		all = append(all, page...)
		if len(page) < pageSize {
			return all, pages, nil
		}
		cursor = After(page[len(page)-1])
	}
}

// Live subscribes to the location's feed.
func (a *Adapter) Live(ctx context.Context, location string) (FeedSubscription, error) {
	var sub FeedSubscription
	err := storage.Do(ctx, a.timeout, "chat.subscribe", func(ctx context.Context) error {
		var err error
		sub, err = a.feed.Subscribe(ctx, location)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// LatestByOthers proxies Log.LatestByOthers with the store timeout.
func (a *Adapter) LatestByOthers(ctx context.Context, location, userID string) (map[string]time.Time, error) {
	var out map[string]time.Time
	err := storage.Do(ctx, a.timeout, "chat.latest_by_others", func(ctx context.Context) error {
		var err error
		out, err = a.log.LatestByOthers(ctx, location, userID)
		return err
	})
	return out, err
}
