package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrFeedClosed is returned when publishing to a closed feed.
var ErrFeedClosed = errors.New("chat: feed closed")

// Cursor is a keyset position in a channel's history. The zero value
// starts at the beginning.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// After returns the cursor positioned after m.
func After(m Message) Cursor { return Cursor{CreatedAt: m.CreatedAt, ID: m.ID} }

func (c Cursor) less(m Message) bool {
	if !c.CreatedAt.Equal(m.CreatedAt) {
		return c.CreatedAt.Before(m.CreatedAt)
	}
	return c.ID < m.ID
}

// Log is the durable, append-only message log.
type Log interface {
	Append(ctx context.Context, m Message) error
	// Page returns up to limit messages of ch strictly after cursor,
	// ordered by (created_at, id).
	Page(ctx context.Context, ch Channel, after Cursor, limit int) ([]Message, error)
	// LatestByOthers returns, per sub-location of location, the newest
	// created_at of messages not written by userID.
	LatestByOthers(ctx context.Context, location, userID string) (map[string]time.Time, error)
}

// Feed is the live-append publish/subscribe stream, partitioned by location.
type Feed interface {
	Publish(ctx context.Context, m Message) error
	// Subscribe returns once the subscription is active, so messages
	// published afterwards are guaranteed to be received.
	Subscribe(ctx context.Context, location string) (FeedSubscription, error)
}

// FeedSubscription is one live subscription to a location.
type FeedSubscription interface {
	Messages() <-chan Message
	Close() error
}

// MemoryLog is an in-process Log.
type MemoryLog struct {
	mu       sync.RWMutex
	messages []Message
	// failPage, when set, is consulted before every Page call.
	failPage func(call int) error
	pages    int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, m Message) error {
	m.SubLocation = NormalizeSubLocation(m.SubLocation)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, m)
	return nil
}

func (l *MemoryLog) Page(ctx context.Context, ch Channel, after Cursor, limit int) ([]Message, error) {
	l.mu.Lock()
	l.pages++
	call := l.pages
	fail := l.failPage
	l.mu.Unlock()
	if fail != nil {
		if err := fail(call); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	matched := make([]Message, 0)
	for _, m := range l.messages {
		if ch.Matches(m) && after.less(m) {
			matched = append(matched, m)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (l *MemoryLog) LatestByOthers(_ context.Context, location, userID string) (map[string]time.Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]time.Time)
	for _, m := range l.messages {
		if m.Location != location || m.AuthorID == userID {
			continue
		}
		if cur, ok := out[m.SubLocation]; !ok || m.CreatedAt.After(cur) {
			out[m.SubLocation] = m.CreatedAt
		}
	}
	return out, nil
}

// PageCalls reports how many Page calls the log has served.
func (l *MemoryLog) PageCalls() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pages
}

// memoryFeedBuffer bounds how far a slow subscriber may lag before the
// publisher blocks on it.
const memoryFeedBuffer = 1024

// MemoryFeed is an in-process Feed.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[*memorySubscription]struct{})}
}

type memorySubscription struct {
	feed     *MemoryFeed
	location string
	ch       chan Message
	done     chan struct{}
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.feed.mu.Lock()
		delete(s.feed.subs[s.location], s)
		s.feed.mu.Unlock()
	})
	return nil
}

func (f *MemoryFeed) Publish(ctx context.Context, m Message) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}
	for sub := range f.subs[m.Location] {
		select {
		case sub.ch <- m:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, location string) (FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}
	sub := &memorySubscription{
		feed:     f,
		location: location,
		ch:       make(chan Message, memoryFeedBuffer),
		done:     make(chan struct{}),
	}
	if f.subs[location] == nil {
		f.subs[location] = make(map[*memorySubscription]struct{})
	}
	f.subs[location][sub] = struct{}{}
	return sub, nil
}

// Subscribers reports the live subscriber count for a location.
func (f *MemoryFeed) Subscribers(location string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[location])
}
