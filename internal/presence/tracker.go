package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

const (
	// DefaultTypingIdle clears the typing flag after this long without input.
	DefaultTypingIdle = 2 * time.Second
	// DefaultHeartbeat re-announces a session to keep its record fresh.
	DefaultHeartbeat = 30 * time.Second
)

// ErrSessionClosed is returned by calls on a session after Leave.
var ErrSessionClosed = errors.New("presence: session closed")

// Identity is a member as displayed.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Sync is the aggregate view of a channel delivered to OnSync callbacks.
type Sync struct {
	Channel chat.Channel `json:"channel"`
	Typing  []Identity   `json:"typing"`
	Members []Identity   `json:"members"`
}

// ActivityRecorder stamps a user's last activity.
type ActivityRecorder interface {
	Touch(ctx context.Context, userID string, at time.Time) error
}

// Config configures a Tracker. Store is required. Activity, when set, is
// touched on join and on every heartbeat.
type Config struct {
	Store        Store
	Profiles     profiles.Lookup
	Activity     ActivityRecorder
	TypingIdle   time.Duration
	Heartbeat    time.Duration
	StoreTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.RealtimeMetrics
	Now          func() time.Time
}

// Tracker opens presence sessions.
type Tracker struct {
	store      Store
	profiles   profiles.Lookup
	activity   ActivityRecorder
	typingIdle time.Duration
	heartbeat  time.Duration
	timeout    time.Duration
	logger     *logging.Logger
	metrics    *metrics.RealtimeMetrics
	now        func() time.Time
}

// NewTracker creates a Tracker. It panics without a Store.
func NewTracker(cfg Config) *Tracker {
	if cfg.Store == nil {
		panic("presence: store required")
	}
	if cfg.TypingIdle <= 0 {
		cfg.TypingIdle = DefaultTypingIdle
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		store:      cfg.Store,
		profiles:   cfg.Profiles,
		activity:   cfg.Activity,
		typingIdle: cfg.TypingIdle,
		heartbeat:  cfg.Heartbeat,
		timeout:    cfg.StoreTimeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
	}
}

// Session is one user's presence in one channel.
type Session struct {
	tracker *Tracker
	channel chat.Channel
	self    Identity
	watch   Watch

	// writeMu orders store writes: every announce and the final Remove.
	writeMu sync.Mutex

	mu        sync.Mutex
	typing    bool
	idle      *time.Timer
	callbacks []func(Sync)
	known     map[string]Identity
	last      *Sync

	refresh chan struct{}
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Join announces self in ch with typing=false and starts watching the
// channel. The caller must Leave.
func (t *Tracker) Join(ctx context.Context, ch chat.Channel, self Identity) (*Session, error) {
	ch = chat.NewChannel(ch.Location, ch.SubLocation)
	var watch Watch
	err := storage.Do(ctx, t.timeout, "presence.watch", func(ctx context.Context) error {
		var err error
		watch, err = t.store.Watch(ctx, ch)
		return err
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		tracker: t,
		channel: ch,
		self:    self,
		watch:   watch,
		known:   map[string]Identity{self.UserID: self},
		refresh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if err := s.announce(ctx); err != nil {
		_ = watch.Close()
		return nil, err
	}
	s.touch(ctx)
	s.wg.Add(1)
	go s.loop()
	s.requestRefresh()
	return s, nil
}

// Channel returns the session's channel.
func (s *Session) Channel() chat.Channel { return s.channel }

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// announce writes the session's current typing flag. The flag is read
// under writeMu, so the last write always carries the latest state, and
// nothing is written once the session is closed.
func (s *Session) announce(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	typing := s.typing
	s.mu.Unlock()

	t := s.tracker
	p := Payload{IsTyping: typing, Name: s.self.Name, Avatar: s.self.Avatar, At: t.now()}
	err := storage.Do(ctx, t.timeout, "presence.announce", func(ctx context.Context) error {
		return t.store.Announce(ctx, s.channel, s.self.UserID, p)
	})
	if err != nil {
		t.metrics.ObserveStoreError("presence.announce", storage.Kind(err))
	}
	return err
}

func (s *Session) touch(ctx context.Context) {
	t := s.tracker
	if t.activity == nil {
		return
	}
	err := storage.Do(ctx, t.timeout, "presence.touch", func(ctx context.Context) error {
		return t.activity.Touch(ctx, s.self.UserID, t.now())
	})
	if err != nil {
		t.logger.Debug("presence: activity touch failed", "user_id", s.self.UserID, "error", err)
	}
}

// SetTyping announces the typing flag. Typing clears itself after the
// idle window unless SetTyping(true) is called again.
func (s *Session) SetTyping(ctx context.Context, typing bool) error {
	if s.closed() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if typing {
		s.idle = time.AfterFunc(s.tracker.typingIdle, s.idleExpired)
	}
	changed := s.typing != typing
	s.typing = typing
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.announce(ctx)
}

func (s *Session) idleExpired() {
	if s.closed() {
		return
	}
	s.mu.Lock()
	if !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.idle = nil
	s.mu.Unlock()
	if err := s.announce(context.Background()); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.tracker.logger.Warn("presence: typing idle clear failed", "channel", s.channel.Key(), "user_id", s.self.UserID, "error", err)
	}
}

// MessageSent clears typing immediately.
func (s *Session) MessageSent(ctx context.Context) error {
	return s.SetTyping(ctx, false)
}

// OnSync registers cb. It is called from the session goroutine with the
// current view and again on every membership change.
func (s *Session) OnSync(cb func(Sync)) {
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
	s.requestRefresh()
}

// Leave removes the presence record and stops callbacks. Safe to call
// more than once; only the first call touches the store.
func (s *Session) Leave(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.idle != nil {
			s.idle.Stop()
			s.idle = nil
		}
		s.mu.Unlock()
		s.wg.Wait()
		_ = s.watch.Close()
		t := s.tracker
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		err = storage.Do(ctx, t.timeout, "presence.remove", func(ctx context.Context) error {
			return t.store.Remove(ctx, s.channel, s.self.UserID)
		})
		if err != nil {
			t.metrics.ObserveStoreError("presence.remove", storage.Kind(err))
			t.logger.Warn("presence: leave failed", "channel", s.channel.Key(), "user_id", s.self.UserID, "error", err)
		}
	})
	return err
}

func (s *Session) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *Session) loop() {
	defer s.wg.Done()
	heartbeat := time.NewTicker(s.tracker.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-heartbeat.C:
			if err := s.announce(context.Background()); err != nil && !errors.Is(err, ErrSessionClosed) {
				s.tracker.logger.Warn("presence: heartbeat failed", "channel", s.channel.Key(), "error", err)
			}
			s.touch(context.Background())
			continue
		case <-s.watch.Changes():
		case <-s.refresh:
		}
		s.sync()
	}
}

func (s *Session) sync() {
	t := s.tracker
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var members map[string]Payload
	err := storage.Do(ctx, t.timeout, "presence.members", func(ctx context.Context) error {
		var err error
		members, err = t.store.Members(ctx, s.channel)
		return err
	})
	if err != nil {
		if !s.closed() {
			t.logger.Warn("presence: members read failed", "channel", s.channel.Key(), "error", err)
		}
		return
	}

	staleBefore := t.now().Add(-3 * t.heartbeat)
	live := make(map[string]Payload, len(members))
	for id, p := range members {
		if !p.At.IsZero() && p.At.Before(staleBefore) {
			continue
		}
		live[id] = p
	}
	s.resolveUnknown(ctx, live)

	view := Sync{Channel: s.channel, Typing: []Identity{}, Members: []Identity{}}
	s.mu.Lock()
	for id, p := range live {
		ident := Identity{UserID: id, Name: p.Name, Avatar: p.Avatar}
		if ident.Name == "" {
			if k, ok := s.known[id]; ok {
				ident.Name, ident.Avatar = k.Name, k.Avatar
			}
		}
		view.Members = append(view.Members, ident)
		if p.IsTyping && id != s.self.UserID {
			view.Typing = append(view.Typing, ident)
		}
	}
	sortIdentities(view.Members)
	sortIdentities(view.Typing)
	callbacks := append([]func(Sync){}, s.callbacks...)
	s.last = &view
	s.mu.Unlock()

	if s.closed() {
		t.metrics.ObserveStale("presence")
		return
	}
	t.metrics.ObservePresenceSync()
	for _, cb := range callbacks {
		cb(view)
	}
}

// resolveUnknown looks up, in one batch, members that announced without a
// display name and are not cached yet.
func (s *Session) resolveUnknown(ctx context.Context, live map[string]Payload) {
	t := s.tracker
	if t.profiles == nil {
		return
	}
	var missing []string
	s.mu.Lock()
	for id, p := range live {
		if p.Name != "" {
			continue
		}
		if _, ok := s.known[id]; ok {
			continue
		}
		missing = append(missing, id)
	}
	s.mu.Unlock()
	if len(missing) == 0 {
		return
	}
	var found []profiles.Profile
	err := storage.Do(ctx, t.timeout, "presence.profiles", func(ctx context.Context) error {
		var err error
		found, err = t.profiles.GetProfilesByIDs(ctx, missing)
		return err
	})
	if err != nil {
		t.logger.Warn("presence: profile lookup failed", "channel", s.channel.Key(), "missing", len(missing), "error", err)
		return
	}
	s.mu.Lock()
	for _, p := range found {
		s.known[p.ID] = Identity{UserID: p.ID, Name: p.DisplayName, Avatar: p.AvatarURL}
	}
	s.mu.Unlock()
}

// Last returns the most recent sync, if any.
func (s *Session) Last() (Sync, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Sync{}, false
	}
	return *s.last, true
}

func sortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].UserID < ids[j].UserID
	})
}
