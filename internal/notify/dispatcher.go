// Package notify delivers "someone spoke here" notifications to every user
// except the sender. Only the triggering contract lives here; delivery
// mechanics belong to whatever consumes the SQS envelope or the inbox.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// Notification is one broadcast request.
type Notification struct {
	SenderID    string `json:"sender_id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	LocationKey string `json:"location_key"`
}

func (n Notification) validate() error {
	if strings.TrimSpace(n.SenderID) == "" {
		return errors.New("notify: sender id required")
	}
	if strings.TrimSpace(n.Title) == "" {
		return errors.New("notify: title required")
	}
	return nil
}

// Dispatcher broadcasts to everyone except senderID.
type Dispatcher interface {
	NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error
}

// LogDispatcher only logs. Used in local mode.
type LogDispatcher struct {
	logger *logging.Logger
}

// NewLogDispatcher creates a dispatcher that only logs notifications.
func NewLogDispatcher(logger *logging.Logger) *LogDispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) NotifyExcept(_ context.Context, senderID, title, body, locationKey string) error {
	d.logger.Info("notify: would broadcast", "sender_id", senderID, "title", title, "location", locationKey, "body_len", len(body))
	return nil
}

// Fanout hands the notification to every dispatcher and joins the errors.
type Fanout []Dispatcher

func (f Fanout) NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error {
	var errs []error
	for _, d := range f {
		if d == nil {
			continue
		}
		if err := d.NotifyExcept(ctx, senderID, title, body, locationKey); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
