package presence

import (
	"context"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// DefaultOnlineWindow is how recent last activity must be to count as online.
const DefaultOnlineWindow = 20 * time.Minute

// IsOnline combines the two presence signals: a live record in any
// channel, or last activity within window of now.
func IsOnline(live bool, lastActive, now time.Time, window time.Duration) bool {
	if live {
		return true
	}
	if lastActive.IsZero() {
		return false
	}
	return now.Sub(lastActive) <= window
}

// ActivitySource reports last recorded activity per user.
type ActivitySource interface {
	LastActive(ctx context.Context, ids []string) (map[string]time.Time, error)
}

// OnlineResolver evaluates IsOnline for a batch of users.
type OnlineResolver struct {
	store    Store
	activity ActivitySource
	window   time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// NewOnlineResolver creates a resolver that treats a user as online when
// they hold a live presence record or were active within window.
func NewOnlineResolver(store Store, activity ActivitySource, window, timeout time.Duration, logger *logging.Logger) *OnlineResolver {
	if window <= 0 {
		window = DefaultOnlineWindow
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OnlineResolver{
		store:    store,
		activity: activity,
		window:   window,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Online returns the online flag for every id. Either signal may fail on
// its own and the other still answers; only when both fail is an error
// returned.
func (r *OnlineResolver) Online(ctx context.Context, ids []string) (map[string]bool, error) {
	var (
		live    map[string]bool
		last    map[string]time.Time
		liveErr error
		lastErr error
	)
	if r.store != nil {
		liveErr = storage.Do(ctx, r.timeout, "presence.live_users", func(ctx context.Context) error {
			var err error
			live, err = r.store.LiveUsers(ctx, ids)
			return err
		})
		if liveErr != nil {
			r.logger.Warn("presence: live users unavailable", "error", liveErr)
		}
	}
	if r.activity != nil {
		lastErr = storage.Do(ctx, r.timeout, "presence.last_active", func(ctx context.Context) error {
			var err error
			last, err = r.activity.LastActive(ctx, ids)
			return err
		})
		if lastErr != nil {
			r.logger.Warn("presence: last activity unavailable", "error", lastErr)
		}
	}
	if liveErr != nil && lastErr != nil {
		return nil, liveErr
	}

	now := r.now()
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = IsOnline(live[id], last[id], now, r.window)
	}
	return out, nil
}
