package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logging.Logger { return logging.NewWithWriter(discard{}, "error") }

func collect(s *Session) <-chan Sync {
	out := make(chan Sync, 256)
	s.OnSync(func(v Sync) {
		select {
		case out <- v:
		default:
		}
	})
	return out
}

func waitFor(t *testing.T, syncs <-chan Sync, cond func(Sync) bool) Sync {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-syncs:
			if cond(v) {
				return v
			}
		case <-deadline:
			t.Fatal("condition not observed")
			return Sync{}
		}
	}
}

func hasTyping(userID string) func(Sync) bool {
	return func(v Sync) bool {
		for _, id := range v.Typing {
			if id.UserID == userID {
				return true
			}
		}
		return false
	}
}

func memberIDs(v Sync) []string {
	ids := make([]string, 0, len(v.Members))
	for _, m := range v.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func newTestTracker(store Store, idle time.Duration, lookup profiles.Lookup) *Tracker {
	return NewTracker(Config{Store: store, Profiles: lookup, TypingIdle: idle, StoreTimeout: time.Second, Logger: testLogger()})
}

func TestJoinAnnouncesNotTyping(t *testing.T) {
	store := NewMemoryStore()
	tracker := newTestTracker(store, time.Second, nil)
	ctx := context.Background()
	ch := chat.NewChannel("hospital", "Sala 1")

	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana", Avatar: "/a.png"})
	require.NoError(t, err)
	defer a.Leave(ctx)

	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	require.Contains(t, members, "ana")
	assert.False(t, members["ana"].IsTyping)
	assert.Equal(t, "Ana", members["ana"].Name)

	view := waitFor(t, collect(a), func(v Sync) bool { return len(v.Members) == 1 })
	assert.Empty(t, view.Typing, "self is never listed as typing")
}

func TestTypingVisibleToOthersAndClearsAfterIdle(t *testing.T) {
	store := NewMemoryStore()
	tracker := newTestTracker(store, 100*time.Millisecond, nil)
	ctx := context.Background()
	ch := chat.NewChannel("bakery", "")

	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	defer a.Leave(ctx)
	b, err := tracker.Join(ctx, ch, Identity{UserID: "beto", Name: "Beto"})
	require.NoError(t, err)
	defer b.Leave(ctx)
	bSyncs := collect(b)

	require.NoError(t, a.SetTyping(ctx, true))
	waitFor(t, bSyncs, hasTyping("ana"))

	// No further input: the idle timer must clear the flag for everyone.
	waitFor(t, bSyncs, func(v Sync) bool { return len(v.Members) == 2 && !hasTyping("ana")(v) })
	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.False(t, members["ana"].IsTyping)
}

func TestMessageSentClearsTypingImmediately(t *testing.T) {
	store := NewMemoryStore()
	tracker := newTestTracker(store, time.Hour, nil)
	ctx := context.Background()
	ch := chat.NewChannel("house", "Cozinha")

	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	defer a.Leave(ctx)

	require.NoError(t, a.SetTyping(ctx, true))
	members, _ := store.Members(ctx, ch)
	require.True(t, members["ana"].IsTyping)

	require.NoError(t, a.MessageSent(ctx))
	members, _ = store.Members(ctx, ch)
	assert.False(t, members["ana"].IsTyping)
}

func TestLeaveRemovesRecordAndStopsCallbacks(t *testing.T) {
	store := NewMemoryStore()
	tracker := newTestTracker(store, time.Second, nil)
	ctx := context.Background()
	ch := chat.NewChannel("nightclub", "Pista")

	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	b, err := tracker.Join(ctx, ch, Identity{UserID: "beto", Name: "Beto"})
	require.NoError(t, err)
	defer b.Leave(ctx)
	bSyncs := collect(b)
	waitFor(t, bSyncs, func(v Sync) bool { return len(v.Members) == 2 })

	require.NoError(t, a.Leave(ctx))
	require.NoError(t, a.Leave(ctx))
	assert.ErrorIs(t, a.SetTyping(ctx, true), ErrSessionClosed)

	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.NotContains(t, members, "ana")
	live, err := store.LiveUsers(ctx, []string{"ana", "beto"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ana": false, "beto": true}, live)

	view := waitFor(t, bSyncs, func(v Sync) bool { return len(v.Members) == 1 })
	assert.Equal(t, []string{"beto"}, memberIDs(view))
}

func TestAnnounceReplacesPreviousPayload(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ch := chat.NewChannel("hospital", "")
	require.NoError(t, store.Announce(ctx, ch, "ana", Payload{IsTyping: true, Name: "Ana", Avatar: "/old.png"}))
	require.NoError(t, store.Announce(ctx, ch, "ana", Payload{Name: "Dra. Ana"}))

	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, map[string]Payload{"ana": {Name: "Dra. Ana"}}, members)
}

type stubLookup struct {
	calls [][]string
}

func (s *stubLookup) GetProfilesByIDs(_ context.Context, ids []string) ([]profiles.Profile, error) {
	s.calls = append(s.calls, ids)
	out := make([]profiles.Profile, 0, len(ids))
	for _, id := range ids {
		out = append(out, profiles.Profile{ID: id, DisplayName: "perfil-" + id})
	}
	return out, nil
}

func TestMembersWithoutNameResolvedByProfileLookup(t *testing.T) {
	store := NewMemoryStore()
	lookup := &stubLookup{}
	tracker := newTestTracker(store, time.Second, lookup)
	ctx := context.Background()
	ch := chat.NewChannel("hospital", "Recepção")

	require.NoError(t, store.Announce(ctx, ch, "ghost", Payload{}))
	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	defer a.Leave(ctx)

	view := waitFor(t, collect(a), func(v Sync) bool { return len(v.Members) == 2 })
	assert.Equal(t, []Identity{{UserID: "ana", Name: "Ana"}, {UserID: "ghost", Name: "perfil-ghost"}}, view.Members)
	require.NotEmpty(t, lookup.calls)
	assert.Equal(t, []string{"ghost"}, lookup.calls[0])
}

func TestStaleRecordsAreHidden(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(Config{Store: store, Heartbeat: time.Minute, Logger: testLogger(), Now: func() time.Time { return now }})
	ctx := context.Background()
	ch := chat.NewChannel("house", "")

	require.NoError(t, store.Announce(ctx, ch, "crashed", Payload{Name: "Zé", At: now.Add(-10 * time.Minute)}))
	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	defer a.Leave(ctx)

	view := waitFor(t, collect(a), func(v Sync) bool { return len(v.Members) > 0 })
	assert.Equal(t, []string{"ana"}, memberIDs(view))
}

type failingWatchStore struct{ *MemoryStore }

func (failingWatchStore) Watch(context.Context, chat.Channel) (Watch, error) {
	return nil, errors.New("redis down")
}

func TestJoinFailureIsTransient(t *testing.T) {
	tracker := newTestTracker(failingWatchStore{NewMemoryStore()}, time.Second, nil)
	_, err := tracker.Join(context.Background(), chat.NewChannel("hospital", ""), Identity{UserID: "ana"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

// gatedStore holds the first armed announce matching block until release.
type gatedStore struct {
	*MemoryStore
	block   func(Payload) bool
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(block func(Payload) bool) *gatedStore {
	return &gatedStore{MemoryStore: NewMemoryStore(), block: block, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedStore) Announce(ctx context.Context, ch chat.Channel, userID string, p Payload) error {
	if g.armed.Load() && g.block(p) && g.armed.CompareAndSwap(true, false) {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.MemoryStore.Announce(ctx, ch, userID, p)
}

func waitEntered(t *testing.T, g *gatedStore) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("announce never reached the store")
	}
}

func TestLeaveWaitsForInFlightIdleClear(t *testing.T) {
	store := newGatedStore(func(p Payload) bool { return !p.IsTyping })
	tracker := newTestTracker(store, 20*time.Millisecond, nil)
	ctx := context.Background()
	ch := chat.NewChannel("hospital", "Sala 1")

	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	require.NoError(t, a.SetTyping(ctx, true))
	store.armed.Store(true)
	waitEntered(t, store)

	left := make(chan error, 1)
	go func() { left <- a.Leave(ctx) }()
	select {
	case <-left:
		t.Fatal("leave returned while an announce was still writing")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	require.NoError(t, <-left)

	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	assert.Empty(t, members, "no presence row survives a clean leave")
	live, err := store.LiveUsers(ctx, []string{"ana"})
	require.NoError(t, err)
	assert.False(t, live["ana"])
}

func TestHeartbeatCannotResurrectTypingAfterSend(t *testing.T) {
	store := newGatedStore(func(p Payload) bool { return p.IsTyping })
	tracker := NewTracker(Config{Store: store, TypingIdle: time.Minute, Heartbeat: 10 * time.Millisecond, StoreTimeout: time.Second, Logger: testLogger()})
	ctx := context.Background()
	ch := chat.NewChannel("hospital", "Sala 1")

	a, err := tracker.Join(ctx, ch, Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	defer a.Leave(ctx)
	require.NoError(t, a.SetTyping(ctx, true))
	store.armed.Store(true)
	waitEntered(t, store)

	sent := make(chan error, 1)
	go func() { sent <- a.MessageSent(ctx) }()
	time.Sleep(20 * time.Millisecond)
	close(store.release)
	require.NoError(t, <-sent)

	time.Sleep(50 * time.Millisecond)
	members, err := store.Members(ctx, ch)
	require.NoError(t, err)
	require.Contains(t, members, "ana")
	assert.False(t, members["ana"].IsTyping, "sending clears typing for good")
}

type countingActivity struct {
	mu    sync.Mutex
	users []string
}

func (c *countingActivity) Touch(_ context.Context, userID string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
	return nil
}

func (c *countingActivity) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

func TestJoinAndHeartbeatTouchActivity(t *testing.T) {
	activity := &countingActivity{}
	tracker := NewTracker(Config{Store: NewMemoryStore(), Activity: activity, Heartbeat: 10 * time.Millisecond, StoreTimeout: time.Second, Logger: testLogger()})
	ctx := context.Background()

	a, err := tracker.Join(ctx, chat.NewChannel("hospital", ""), Identity{UserID: "ana", Name: "Ana"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, activity.count(), 1, "join touches")
	assert.Eventually(t, func() bool { return activity.count() >= 3 }, 2*time.Second, 5*time.Millisecond, "heartbeats touch")
	require.NoError(t, a.Leave(ctx))

	after := activity.count()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, after, activity.count(), "no touches after leave")
}
