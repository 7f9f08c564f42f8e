package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// Event is one message ready for display.
type Event struct {
	Message Message  `json:"message"`
	Author  Identity `json:"author"`
	Body    Body     `json:"body"`
}

// Router turns the adapter's history and live feed into one ordered,
// de-duplicated stream per channel.
type Router struct {
	adapter  *Adapter
	profiles profiles.Lookup
	pageSize int
	logger   *logging.Logger
	metrics  *metrics.RealtimeMetrics
}

// RouterConfig configures a Router.
type RouterConfig struct {
	Adapter  *Adapter
	Profiles profiles.Lookup
	PageSize int
	Logger   *logging.Logger
	Metrics  *metrics.RealtimeMetrics
}

// NewRouter creates a Router over cfg.Adapter. Profile lookups share the
// adapter's store timeout.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Adapter == nil {
		panic("chat: adapter required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Router{
		adapter:  cfg.Adapter,
		profiles: cfg.Profiles,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Subscription is an open channel view: the initial batch plus a live
// stream of later messages. Close must be called when the view goes away.
type Subscription struct {
	channel Channel
	initial []Event
	events  chan Event
	feed    FeedSubscription
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Channel returns the channel this subscription serves.
func (s *Subscription) Channel() Channel { return s.channel }

// Initial returns the history loaded when the subscription opened.
func (s *Subscription) Initial() []Event { return s.initial }

// Events is the live stream. It is closed after Close or when the
// underlying feed ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close stops live delivery and releases the feed. Safe to call twice.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.feed.Close()
	})
	s.wg.Wait()
	return err
}

// Subscribe opens ch. The live feed is attached before history is read so
// a message committed in between is seen by at least one of the two; the
// seen set then guarantees it is delivered once.
func (r *Router) Subscribe(ctx context.Context, ch Channel) (*Subscription, error) {
	ch = NewChannel(ch.Location, ch.SubLocation)
	if ch.Location == "" {
		return nil, errors.New("chat: subscribe: location required")
	}

	feed, err := r.adapter.Live(ctx, ch.Location)
	if err != nil {
		return nil, fmt.Errorf("chat: subscribe %s: %w", ch.Key(), err)
	}

	history, pages, err := r.adapter.History(ctx, ch, r.pageSize)
	if err != nil {
		_ = feed.Close()
		r.logger.Warn("chat: history fetch aborted", "channel", ch.Key(), "pages", pages, "error", err)
		return nil, err
	}
	r.metrics.ObserveHistoryPages(pages)

	seen := newSeenSet()
	unique := history[:0:0]
	for _, m := range history {
		if !seen.add(m) {
			continue
		}
		unique = append(unique, m)
	}

	resolved, err := resolveIdentities(ctx, r.profiles, r.adapter.timeout, unique)
	if err != nil {
		r.logger.Warn("chat: profile lookup failed", "channel", ch.Key(), "error", err)
	}
	initial := make([]Event, 0, len(unique))
	for _, m := range unique {
		initial = append(initial, r.event(m, resolved))
	}
	r.metrics.ObserveDelivered("initial", len(initial))

	sub := &Subscription{
		channel: ch,
		initial: initial,
		events:  make(chan Event, 64),
		feed:    feed,
		done:    make(chan struct{}),
	}
	sub.wg.Add(1)
	go r.pump(sub, seen)
	return sub, nil
}

func (r *Router) pump(sub *Subscription, seen *seenSet) {
	defer sub.wg.Done()
	defer close(sub.events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sub.done:
		case <-ctx.Done():
		}
		cancel()
	}()

	in := sub.feed.Messages()
	for {
		select {
		case <-sub.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			if !sub.channel.Matches(m) {
				continue
			}
			if !seen.add(m) {
				r.metrics.ObserveDuplicate()
				continue
			}

			resolved, err := resolveIdentities(ctx, r.profiles, r.adapter.timeout, []Message{m})
			if err != nil && ctx.Err() == nil {
				r.logger.Warn("chat: profile lookup failed", "message_id", m.ID, "error", err)
			}
			ev := r.event(m, resolved)
			select {
			case <-sub.done:
				r.metrics.ObserveStale("chat")
				return
			case sub.events <- ev:
				r.metrics.ObserveDelivered("live", 1)
			}
		}
	}
}

func (r *Router) event(m Message, resolved map[string]Identity) Event {
	m.SubLocation = NormalizeSubLocation(m.SubLocation)
	return Event{Message: m, Author: identityFor(m, resolved), Body: ParseBody(m.Content)}
}

// seenWindow is how far behind the newest delivered message an id is
// still remembered. It absorbs clock skew between writers.
const seenWindow = time.Minute

// seenSet de-duplicates deliveries with bounded memory. Ids older than
// seenWindow behind the newest delivered message are forgotten, and a
// message that old is already behind the subscription, so it is treated
// as a duplicate.
type seenSet struct {
	newest time.Time
	ids    map[string]time.Time
}

func newSeenSet() *seenSet {
	return &seenSet{ids: make(map[string]time.Time)}
}

// add reports whether m is new and records it.
func (s *seenSet) add(m Message) bool {
	if _, dup := s.ids[m.ID]; dup {
		return false
	}
	cutoff := s.newest.Add(-seenWindow)
	if !s.newest.IsZero() && m.CreatedAt.Before(cutoff) {
		return false
	}
	s.ids[m.ID] = m.CreatedAt
	if m.CreatedAt.After(s.newest) {
		s.newest = m.CreatedAt
		cutoff = s.newest.Add(-seenWindow)
		for id, at := range s.ids {
			if at.Before(cutoff) {
				delete(s.ids, id)
			}
		}
	}
	return true
}

// size is the number of remembered ids.
func (s *seenSet) size() int { return len(s.ids) }
