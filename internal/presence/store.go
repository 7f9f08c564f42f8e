// Package presence tracks who is in a channel right now, who is typing,
// and who counts as online anywhere.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
)

// Payload is the per-user presence record within a channel.
type Payload struct {
	IsTyping bool      `json:"isTyping"`
	Name     string    `json:"name"`
	Avatar   string    `json:"avatar"`
	At       time.Time `json:"at,omitempty"`
}

// Store holds presence records. Announce replaces the user's previous
// payload for the channel wholesale.
type Store interface {
	Announce(ctx context.Context, ch chat.Channel, userID string, p Payload) error
	Remove(ctx context.Context, ch chat.Channel, userID string) error
	Members(ctx context.Context, ch chat.Channel) (map[string]Payload, error)
	// Watch signals every change to the channel's member set.
	Watch(ctx context.Context, ch chat.Channel) (Watch, error)
	// LiveUsers reports which ids hold a record in any channel.
	LiveUsers(ctx context.Context, ids []string) (map[string]bool, error)
}

// Watch delivers coalesced change signals.
type Watch interface {
	Changes() <-chan struct{}
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	channels map[string]map[string]Payload
	users    map[string]map[string]struct{}
	watchers map[string]map[*memoryWatch]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string]map[string]Payload),
		users:    make(map[string]map[string]struct{}),
		watchers: make(map[string]map[*memoryWatch]struct{}),
	}
}

func (m *MemoryStore) Announce(_ context.Context, ch chat.Channel, userID string, p Payload) error {
	key := ch.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[key] == nil {
		m.channels[key] = make(map[string]Payload)
	}
	m.channels[key][userID] = p
	if m.users[userID] == nil {
		m.users[userID] = make(map[string]struct{})
	}
	m.users[userID][key] = struct{}{}
	m.notifyLocked(key)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, ch chat.Channel, userID string) error {
	key := ch.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels[key], userID)
	if len(m.channels[key]) == 0 {
		delete(m.channels, key)
	}
	delete(m.users[userID], key)
	if len(m.users[userID]) == 0 {
		delete(m.users, userID)
	}
	m.notifyLocked(key)
	return nil
}

func (m *MemoryStore) Members(_ context.Context, ch chat.Channel) (map[string]Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Payload, len(m.channels[ch.Key()]))
	for id, p := range m.channels[ch.Key()] {
		out[id] = p
	}
	return out, nil
}

func (m *MemoryStore) LiveUsers(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = len(m.users[id]) > 0
	}
	return out, nil
}

func (m *MemoryStore) Watch(_ context.Context, ch chat.Channel) (Watch, error) {
	key := ch.Key()
	w := &memoryWatch{store: m, key: key, ch: make(chan struct{}, 1)}
	m.mu.Lock()
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[*memoryWatch]struct{})
	}
	m.watchers[key][w] = struct{}{}
	m.mu.Unlock()
	return w, nil
}

func (m *MemoryStore) notifyLocked(key string) {
	for w := range m.watchers[key] {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
}

type memoryWatch struct {
	store *MemoryStore
	key   string
	ch    chan struct{}
	once  sync.Once
}

func (w *memoryWatch) Changes() <-chan struct{} { return w.ch }

func (w *memoryWatch) Close() error {
	w.once.Do(func() {
		w.store.mu.Lock()
		delete(w.store.watchers[w.key], w)
		w.store.mu.Unlock()
	})
	return nil
}
