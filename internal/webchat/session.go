package webchat

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/presence"
	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/internal/unread"
	"github.com/wolfman30/roleplay-realtime/internal/viewstate"
)

// socket is one client's view of one location. At any moment it holds at
// most one chat subscription, one presence session and one overlay
// subscription, all for the current room. In the treatment location it
// also watches the user's request status for its whole lifetime.
type socket struct {
	id       string
	h        *Handler
	conn     *websocket.Conn
	userID   string
	location string
	self     presence.Identity

	writeMu sync.Mutex

	mu       sync.Mutex
	room     string
	sub      *chat.Subscription
	presence *presence.Session
	status   treatment.StatusSubscription
	watch    treatment.StatusSubscription
	view     *unread.View
	region   viewstate.Region
	closed   bool

	wg sync.WaitGroup
}

func (s *socket) send(msg OutboundMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := websocket.JSON.Send(s.conn, msg); err != nil {
		s.h.logger.Debug("webchat: write failed", "socket_id", s.id, "type", msg.Type, "error", err)
	}
}

// open resolves the caller, starts unread tracking for the location and
// joins the first room.
func (s *socket) open(ctx context.Context, room string) error {
	cfg := s.h.cfg
	s.self = presence.Identity{UserID: s.userID}
	if cfg.Profiles != nil {
		var ps []profiles.Profile
		err := storage.Do(ctx, cfg.StoreTimeout, "webchat.profile", func(ctx context.Context) error {
			var err error
			ps, err = cfg.Profiles.GetProfilesByIDs(ctx, []string{s.userID})
			return err
		})
		if err != nil {
			s.h.logger.Debug("webchat: profile lookup failed", "user_id", s.userID, "error", err)
		} else if len(ps) == 1 {
			s.self.Name = ps[0].DisplayName
			s.self.Avatar = ps[0].AvatarURL
		}
	}

	if cfg.Unread != nil {
		view, err := cfg.Unread.Open(ctx, s.location, s.userID)
		if err != nil {
			s.h.logger.Warn("webchat: unread unavailable", "user_id", s.userID, "location", s.location, "error", err)
		} else {
			s.mu.Lock()
			s.view = view
			s.mu.Unlock()
			s.send(OutboundMessage{Type: TypeUnread, Unread: view.Unread()})
			if cfg.Live != nil {
				if err := view.Follow(ctx, cfg.Live, func(rooms []string) {
					s.send(OutboundMessage{Type: TypeUnread, Unread: rooms})
				}); err != nil {
					s.h.logger.Warn("webchat: unread follow failed", "user_id", s.userID, "error", err)
				}
			}
		}
	}

	if cfg.Treatment != nil {
		if _, err := cfg.Treatment.Reconcile(ctx, s.userID); err != nil {
			s.h.logger.Warn("webchat: treatment reconcile failed", "user_id", s.userID, "error", err)
		}
		s.watchTreatment(ctx)
	}
	return s.join(ctx, room)
}

// watchTreatment follows the user's request status so an approval that
// lands while the user already stands in the required room starts the
// timer without a room change.
func (s *socket) watchTreatment(ctx context.Context) {
	cfg := s.h.cfg
	if cfg.Status == nil || s.location != cfg.Treatment.Location() {
		return
	}
	watch, err := cfg.Status.SubscribeStatus(ctx, s.userID)
	if err != nil {
		s.h.logger.Warn("webchat: treatment watch failed", "user_id", s.userID, "error", err)
		return
	}
	s.mu.Lock()
	s.watch = watch
	s.mu.Unlock()
	s.wg.Add(1)
	go s.startWhenInRoom(watch)
}

func (s *socket) startWhenInRoom(watch treatment.StatusSubscription) {
	defer s.wg.Done()
	for r := range watch.Updates() {
		s.mu.Lock()
		room, joined := s.room, s.sub != nil && !s.closed
		s.mu.Unlock()
		if !joined || !treatment.ShouldStart(r, room) {
			continue
		}
		if _, err := s.h.cfg.Treatment.ObserveRoom(context.Background(), s.userID, s.location, room); err != nil {
			s.h.logger.Warn("webchat: treatment room check failed", "user_id", s.userID, "room", room, "error", err)
		}
	}
}

func (s *socket) handle(ctx context.Context, msg InboundMessage) {
	switch msg.Type {
	case TypePing:
		s.send(OutboundMessage{Type: TypePong})
	case TypeJoin:
		if err := s.join(ctx, msg.Room); err != nil {
			s.send(OutboundMessage{Type: TypeError, Error: errorCode(err)})
		}
	case TypeTyping:
		s.mu.Lock()
		sess := s.presence
		s.mu.Unlock()
		if sess == nil {
			return
		}
		if err := sess.SetTyping(ctx, msg.Typing); err != nil {
			s.h.logger.Debug("webchat: typing update failed", "user_id", s.userID, "error", err)
		}
	case TypeSend:
		s.sendMessage(ctx, msg)
	case TypeOverlay:
		o := viewstate.None
		if msg.Overlay != nil {
			o = *msg.Overlay
		}
		s.setOverlay(ctx, o)
	default:
		s.send(OutboundMessage{Type: TypeError, Error: "unknown_type"})
	}
}

// join moves the socket to room. The new room's history is loaded first;
// if that fails the socket stays in its previous room untouched.
// Otherwise everything bound to the previous room is torn down before the
// new room goes live.
func (s *socket) join(ctx context.Context, room string) error {
	cfg := s.h.cfg
	room = chat.NormalizeSubLocation(room)
	if _, err := cfg.Registry.SubLocation(s.location, room); err != nil {
		return err
	}
	if room != chat.MainRoom && cfg.Access != nil {
		var ok bool
		err := storage.Do(ctx, cfg.StoreTimeout, "webchat.access", func(ctx context.Context) error {
			var err error
			ok, err = cfg.Access.HasRoomAccess(ctx, s.userID, s.location, room)
			return err
		}, locations.ErrUnknownLocation, locations.ErrUnknownSubLocation)
		if err != nil {
			return err
		}
		if !ok {
			return chat.ErrAccessDenied
		}
	}

	ch := chat.NewChannel(s.location, room)
	sub, err := cfg.Router.Subscribe(ctx, ch)
	if err != nil {
		return err
	}

	s.leaveRoom(ctx)

	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view != nil {
		if err := view.Enter(ctx, room); err != nil {
			s.h.logger.Warn("webchat: receipt write failed", "user_id", s.userID, "room", room, "error", err)
		}
		s.send(OutboundMessage{Type: TypeUnread, Unread: view.Unread()})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.room = room
	s.sub = sub
	s.mu.Unlock()

	s.send(OutboundMessage{Type: TypeHistory, Channel: &ch, Events: sub.Initial()})
	s.wg.Add(1)
	go s.forwardMessages(sub)

	if cfg.Presence != nil {
		sess, err := cfg.Presence.Join(ctx, ch, s.self)
		if err != nil {
			s.h.logger.Warn("webchat: presence join failed", "user_id", s.userID, "channel", ch.Key(), "error", err)
		} else {
			s.mu.Lock()
			s.presence = sess
			s.mu.Unlock()
			sess.OnSync(func(view presence.Sync) {
				if !s.isCurrent(view.Channel) {
					cfg.Metrics.ObserveStale("presence")
					return
				}
				s.send(OutboundMessage{Type: TypePresence, Presence: &view})
			})
		}
	}

	if cfg.Treatment != nil {
		res, err := cfg.Treatment.ObserveRoom(ctx, s.userID, s.location, room)
		if err != nil {
			s.h.logger.Warn("webchat: treatment room check failed", "user_id", s.userID, "room", room, "error", err)
		} else if res.Applied {
			snap := treatment.SnapshotAt(res.Request, cfg.Now())
			s.send(OutboundMessage{Type: TypeTreatment, Treatment: &snap})
		}
	}
	return nil
}

func (s *socket) forwardMessages(sub *chat.Subscription) {
	defer s.wg.Done()
	for ev := range sub.Events() {
		if !s.isCurrent(sub.Channel()) {
			s.h.cfg.Metrics.ObserveStale("chat")
			continue
		}
		s.send(OutboundMessage{Type: TypeMessage, Event: &ev})
	}
}

func (s *socket) isCurrent(ch chat.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.sub != nil && s.sub.Channel() == chat.NewChannel(ch.Location, ch.SubLocation)
}

// leaveRoom closes the room's chat subscription, presence session and
// overlay subscription. It returns once none of them can deliver again.
func (s *socket) leaveRoom(ctx context.Context) {
	s.mu.Lock()
	sub, sess, status := s.sub, s.presence, s.status
	s.sub, s.presence, s.status = nil, nil, nil
	s.mu.Unlock()
	s.region.Close()

	if sub != nil {
		_ = sub.Close()
	}
	if sess != nil {
		if err := sess.Leave(ctx); err != nil {
			s.h.logger.Warn("webchat: presence leave failed", "user_id", s.userID, "error", err)
		}
	}
	if status != nil {
		_ = status.Close()
	}
}

func (s *socket) sendMessage(ctx context.Context, in InboundMessage) {
	s.mu.Lock()
	room, sess := s.room, s.presence
	s.mu.Unlock()

	draft := chat.Draft{
		Location:        s.location,
		SubLocation:     room,
		AuthorID:        s.userID,
		CharacterName:   in.CharacterName,
		CharacterAvatar: in.CharacterAvatar,
		Text:            in.Text,
		Reply:           in.Reply,
		RoomAction:      in.RoomAction,
	}
	if _, err := s.h.cfg.Sender.Send(ctx, draft); err != nil {
		var se *chat.SendError
		if errors.As(err, &se) {
			draft = se.Draft
		}
		s.send(OutboundMessage{Type: TypeSendFailed, Draft: &draft, Error: errorCode(err)})
		return
	}
	if sess != nil {
		if err := sess.MessageSent(ctx); err != nil {
			s.h.logger.Debug("webchat: typing clear failed", "user_id", s.userID, "error", err)
		}
	}
}

// setOverlay switches the single active overlay. Opening Treatment starts
// the patient's status subscription; leaving it closes the subscription.
func (s *socket) setOverlay(ctx context.Context, o viewstate.Overlay) {
	change, ok := s.region.Open(o)
	if !ok {
		return
	}
	if change.Closed(viewstate.Treatment) {
		s.mu.Lock()
		status := s.status
		s.status = nil
		s.mu.Unlock()
		if status != nil {
			_ = status.Close()
		}
	}
	if change.Opened(viewstate.Treatment) {
		s.openTreatment(ctx)
	}
}

func (s *socket) openTreatment(ctx context.Context) {
	cfg := s.h.cfg
	if cfg.Treatment == nil {
		s.send(OutboundMessage{Type: TypeTreatment})
		return
	}
	if cfg.Status != nil {
		status, err := cfg.Status.SubscribeStatus(ctx, s.userID)
		if err != nil {
			s.h.logger.Warn("webchat: status subscribe failed", "user_id", s.userID, "error", err)
		} else {
			s.mu.Lock()
			s.status = status
			s.mu.Unlock()
			s.wg.Add(1)
			go s.forwardStatus(status)
		}
	}
	snap, err := cfg.Treatment.Status(ctx, s.userID)
	if err != nil {
		s.send(OutboundMessage{Type: TypeError, Error: errorCode(err)})
		return
	}
	s.send(OutboundMessage{Type: TypeTreatment, Treatment: snap})
}

func (s *socket) forwardStatus(status treatment.StatusSubscription) {
	defer s.wg.Done()
	for r := range status.Updates() {
		s.mu.Lock()
		current := s.status == status
		s.mu.Unlock()
		if !current || s.region.Active() != viewstate.Treatment {
			s.h.cfg.Metrics.ObserveStale("treatment")
			continue
		}
		snap := treatment.SnapshotAt(r, s.h.cfg.Now())
		s.send(OutboundMessage{Type: TypeTreatment, Treatment: &snap})
	}
}

func (s *socket) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	view, watch := s.view, s.watch
	s.watch = nil
	s.mu.Unlock()

	s.leaveRoom(context.Background())
	if watch != nil {
		_ = watch.Close()
	}
	if view != nil {
		view.Close()
	}
	s.wg.Wait()
	s.h.logger.Info("webchat: connection closed", "user_id", s.userID, "location", s.location, "socket_id", s.id)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, chat.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, locations.ErrUnknownLocation):
		return "unknown_location"
	case errors.Is(err, locations.ErrUnknownSubLocation):
		return "unknown_room"
	case errors.Is(err, storage.ErrTimeout), storage.IsTransient(err):
		return "unavailable"
	default:
		return "internal"
	}
}
