// Package unread computes which rooms of a location hold messages the
// user has not seen, and keeps that set current while a location is open.
package unread

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// LatestSource reports the newest message time per room, excluding one author.
type LatestSource interface {
	LatestByOthers(ctx context.Context, location, userID string) (map[string]time.Time, error)
}

// LiveSource opens the live feed for a location.
type LiveSource interface {
	Live(ctx context.Context, location string) (chat.FeedSubscription, error)
}

// Tracker computes unread rooms.
type Tracker struct {
	registry *locations.Registry
	latest   LatestSource
	receipts ReceiptStore
	timeout  time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewTracker creates an unread Tracker for the rooms in registry.
func NewTracker(registry *locations.Registry, latest LatestSource, receipts ReceiptStore, timeout time.Duration, logger *logging.Logger) *Tracker {
	if registry == nil {
		registry = locations.Default()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{
		registry: registry,
		latest:   latest,
		receipts: receipts,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// ComputeUnread returns the sub-locations of location holding a message
// from someone other than userID that is newer than userID's receipt for
// that room. A room with no such message is never unread.
func (t *Tracker) ComputeUnread(ctx context.Context, location, userID string) (map[string]struct{}, error) {
	rooms, err := t.registry.SubLocationNames(location)
	if err != nil {
		return nil, err
	}

	var latest map[string]time.Time
	if err := storage.Do(ctx, t.timeout, "unread.latest", func(ctx context.Context) error {
		var err error
		latest, err = t.latest.LatestByOthers(ctx, location, userID)
		return err
	}); err != nil {
		return nil, err
	}
	var seen map[string]time.Time
	if err := storage.Do(ctx, t.timeout, "unread.receipts", func(ctx context.Context) error {
		var err error
		seen, err = t.receipts.LastSeen(ctx, userID, location)
		return err
	}); err != nil {
		return nil, err
	}

	out := make(map[string]struct{})
	for _, room := range rooms {
		newest, ok := latest[room]
		if !ok {
			continue
		}
		last, hasReceipt := seen[room]
		if !hasReceipt || newest.After(last) {
			out[room] = struct{}{}
		}
	}
	return out, nil
}

// View is one user's open location. Methods are safe for concurrent use.
type View struct {
	tracker  *Tracker
	location string
	userID   string

	mu      sync.Mutex
	current string
	unread  map[string]struct{}

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Open computes the initial unread set and marks the main room seen.
func (t *Tracker) Open(ctx context.Context, location, userID string) (*View, error) {
	unread, err := t.ComputeUnread(ctx, location, userID)
	if err != nil {
		return nil, err
	}
	v := &View{
		tracker:  t,
		location: location,
		userID:   userID,
		current:  chat.MainRoom,
		unread:   unread,
		stop:     make(chan struct{}),
	}
	if err := v.markSeen(ctx, chat.MainRoom, t.now()); err != nil {
		t.logger.Warn("unread: main room receipt failed", "location", location, "user_id", userID, "error", err)
	}
	return v, nil
}

// Current returns the room being viewed.
func (v *View) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Unread returns the unread rooms, sorted.
func (v *View) Unread() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sortedRooms(v.unread)
}

// Enter switches to room. The room leaves the unread set before Enter
// returns, whatever happens to the receipt write.
func (v *View) Enter(ctx context.Context, room string) error {
	room = chat.NormalizeSubLocation(room)
	v.mu.Lock()
	delete(v.unread, room)
	v.current = room
	v.mu.Unlock()
	return v.markSeen(ctx, room, v.tracker.now())
}

// ReturnMain switches back to the main room.
func (v *View) ReturnMain(ctx context.Context) error {
	return v.Enter(ctx, chat.MainRoom)
}

// Observe applies a live message. It reports whether the unread set changed.
func (v *View) Observe(ctx context.Context, m chat.Message) (bool, error) {
	if m.Location != v.location || m.AuthorID == v.userID {
		return false, nil
	}
	room := chat.NormalizeSubLocation(m.SubLocation)

	v.mu.Lock()
	viewing := room == v.current
	changed := false
	if !viewing && room != chat.MainRoom {
		if _, already := v.unread[room]; !already {
			v.unread[room] = struct{}{}
			changed = true
		}
	}
	v.mu.Unlock()

	if viewing {
		at := v.tracker.now()
		if m.CreatedAt.After(at) {
			at = m.CreatedAt
		}
		return false, v.markSeen(ctx, room, at)
	}
	return changed, nil
}

// Follow observes the location's live feed until Close, calling onChange
// with the new unread set whenever it changes.
func (v *View) Follow(ctx context.Context, live LiveSource, onChange func([]string)) error {
	sub, err := live.Live(ctx, v.location)
	if err != nil {
		return err
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer sub.Close()
		in := sub.Messages()
		for {
			select {
			case <-v.stop:
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				changed, err := v.Observe(context.Background(), m)
				if err != nil {
					v.tracker.logger.Warn("unread: receipt update failed", "location", v.location, "user_id", v.userID, "error", err)
				}
				if changed && onChange != nil {
					onChange(v.Unread())
				}
			}
		}
	}()
	return nil
}

// Close stops Follow.
func (v *View) Close() {
	v.once.Do(func() { close(v.stop) })
	v.wg.Wait()
}

func (v *View) markSeen(ctx context.Context, room string, at time.Time) error {
	t := v.tracker
	return storage.Do(ctx, t.timeout, "unread.mark_seen", func(ctx context.Context) error {
		return t.receipts.MarkSeen(ctx, v.userID, v.location, room, at)
	})
}

func sortedRooms(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for room := range set {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Sorted returns the rooms of an unread set in order.
func Sorted(set map[string]struct{}) []string { return sortedRooms(set) }
