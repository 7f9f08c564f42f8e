package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

var (
	// ErrEmptyMessage rejects drafts with neither text nor a room action.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrAccessDenied rejects sends into a room the author may not enter.
	ErrAccessDenied = errors.New("chat: room access denied")
)

// Draft is a message the user is composing.
type Draft struct {
	Location        string      `json:"location"`
	SubLocation     string      `json:"sub_location"`
	AuthorID        string      `json:"user_id"`
	CharacterName   string      `json:"character_name,omitempty"`
	CharacterAvatar string      `json:"character_avatar,omitempty"`
	Text            string      `json:"text"`
	Reply           *Reply      `json:"reply,omitempty"`
	RoomAction      *RoomAction `json:"room_action,omitempty"`
}

// SendError reports a failed send and carries the draft back unchanged.
type SendError struct {
	Draft Draft
	Err   error
}

func (e *SendError) Error() string { return fmt.Sprintf("chat: send failed: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// AccessChecker is the room authorization collaborator.
type AccessChecker interface {
	HasRoomAccess(ctx context.Context, userID, location, room string) (bool, error)
}

// Notifier triggers the push broadcast. Implementations must not block
// on delivery.
type Notifier interface {
	NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error
}

// ActivityRecorder stamps the author's last activity.
type ActivityRecorder interface {
	Touch(ctx context.Context, userID string, at time.Time) error
}

// Sender appends drafts to the store. It never echoes locally: the sent
// message reaches the author through their live subscription like
// everyone else's.
type Sender struct {
	adapter  *Adapter
	access   AccessChecker
	notifier Notifier
	activity ActivityRecorder
	logger   *logging.Logger
}

// SenderConfig wires a Sender's collaborators. Only Adapter is required.
type SenderConfig struct {
	Adapter  *Adapter
	Access   AccessChecker
	Notifier Notifier
	Activity ActivityRecorder
	Logger   *logging.Logger
}

// NewSender creates a Sender. It panics without an Adapter.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.Adapter == nil {
		panic("chat: adapter required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Sender{
		adapter:  cfg.Adapter,
		access:   cfg.Access,
		notifier: cfg.Notifier,
		activity: cfg.Activity,
		logger:   cfg.Logger,
	}
}

// Send validates and appends d. On failure the returned *SendError holds d.
func (s *Sender) Send(ctx context.Context, d Draft) (Message, error) {
	body := Body{Text: strings.TrimSpace(d.Text), Reply: d.Reply, RoomAction: d.RoomAction}
	if body.Text == "" && body.RoomAction == nil {
		return Message{}, &SendError{Draft: d, Err: ErrEmptyMessage}
	}
	room := NormalizeSubLocation(d.SubLocation)

	if s.access != nil && room != MainRoom {
		var ok bool
		err := storage.Do(ctx, s.adapter.timeout, "chat.access", func(ctx context.Context) error {
			var err error
			ok, err = s.access.HasRoomAccess(ctx, d.AuthorID, d.Location, room)
			return err
		}, locations.ErrUnknownLocation, locations.ErrUnknownSubLocation)
		if err != nil {
			return Message{}, &SendError{Draft: d, Err: err}
		}
		if !ok {
			return Message{}, &SendError{Draft: d, Err: ErrAccessDenied}
		}
	}

	msg, err := s.adapter.Append(ctx, Message{
		Location:        d.Location,
		SubLocation:     room,
		AuthorID:        d.AuthorID,
		CharacterName:   strings.TrimSpace(d.CharacterName),
		CharacterAvatar: strings.TrimSpace(d.CharacterAvatar),
		Content:         FormatContent(body),
	})
	if err != nil {
		s.logger.Warn("chat: send failed", "location", d.Location, "room", room, "user_id", d.AuthorID, "error", err)
		return Message{}, &SendError{Draft: d, Err: err}
	}

	if s.activity != nil {
		if err := storage.Do(ctx, s.adapter.timeout, "chat.touch", func(ctx context.Context) error {
			return s.activity.Touch(ctx, d.AuthorID, msg.CreatedAt)
		}); err != nil {
			s.logger.Debug("chat: activity touch failed", "user_id", d.AuthorID, "error", err)
		}
	}
	if s.notifier != nil {
		title := msg.CharacterName
		if title == "" {
			title = d.Location
		}
		notifyBody := body.Text
		if notifyBody == "" && body.RoomAction != nil {
			notifyBody = body.RoomAction.Room
		}
		if err := s.notifier.NotifyExcept(ctx, d.AuthorID, title, truncateRunes(notifyBody, 120), d.Location); err != nil {
			s.logger.Warn("chat: notify failed", "message_id", msg.ID, "error", err)
		}
	}
	return msg, nil
}

// Post appends a message on behalf of a synthetic author, bypassing
// access checks and notifications.
func (s *Sender) Post(ctx context.Context, ch Channel, authorID, content string) (Message, error) {
	return s.adapter.Append(ctx, Message{
		Location:    ch.Location,
		SubLocation: ch.SubLocation,
		AuthorID:    authorID,
		Content:     content,
	})
}
