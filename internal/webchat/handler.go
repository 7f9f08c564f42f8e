// Package webchat serves the realtime socket: one connection per open
// location view, multiplexing chat, presence, unread and treatment status.
package webchat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/presence"
	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/internal/unread"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// Config wires the socket to its collaborators. Registry, Router and
// Sender are required; the rest degrade to "feature off" when nil.
type Config struct {
	Registry        *locations.Registry
	Router          *chat.Router
	Sender          *chat.Sender
	Access          chat.AccessChecker
	Presence        *presence.Tracker
	Unread          *unread.Tracker
	Live            unread.LiveSource
	Treatment       *treatment.Service
	Status          treatment.StatusFeed
	Profiles        profiles.Lookup
	DefaultLocation string
	StoreTimeout    time.Duration
	Logger          *logging.Logger
	Metrics         *metrics.RealtimeMetrics
	Now             func() time.Time
}

// Handler manages socket connections.
type Handler struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.RWMutex
	sockets map[string]*socket
}

// NewHandler creates the socket handler. It panics when a required
// collaborator is missing.
func NewHandler(cfg Config) *Handler {
	if cfg.Registry == nil || cfg.Router == nil || cfg.Sender == nil {
		panic("webchat: registry, router and sender required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = treatment.DefaultLocation
	}
	return &Handler{cfg: cfg, logger: cfg.Logger, sockets: make(map[string]*socket)}
}

// Connected returns how many sockets are open, optionally for one location.
func (h *Handler) Connected(location string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if location == "" {
		return len(h.sockets)
	}
	n := 0
	for _, s := range h.sockets {
		if s.location == location {
			n++
		}
	}
	return n
}

// HandleWebSocket upgrades GET /ws?location=&room= and serves the socket.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	userID := httpmiddleware.UserIDFromRequest(r)
	if userID == "" {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: TypeError, Error: "missing_user"})
		return
	}
	location := strings.TrimSpace(r.URL.Query().Get("location"))
	if location == "" {
		location = h.cfg.DefaultLocation
	}
	if _, err := h.cfg.Registry.Get(location); err != nil {
		_ = websocket.JSON.Send(conn, OutboundMessage{Type: TypeError, Error: "unknown_location"})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := &socket{
		id:       uuid.NewString(),
		h:        h,
		conn:     conn,
		userID:   userID,
		location: location,
	}
	h.register(s)
	defer h.unregister(s)
	defer s.close()

	h.logger.Info("webchat: connection opened", "user_id", userID, "location", location, "socket_id", s.id)
	if err := s.open(ctx, r.URL.Query().Get("room")); err != nil {
		h.logger.Warn("webchat: open failed", "user_id", userID, "location", location, "error", err)
		s.send(OutboundMessage{Type: TypeError, Error: errorCode(err)})
		return
	}

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "user_id", userID, "socket_id", s.id, "error", err)
			return
		}
		s.handle(ctx, msg)
	}
}

func (h *Handler) register(s *socket) {
	h.mu.Lock()
	h.sockets[s.id] = s
	h.mu.Unlock()
}

func (h *Handler) unregister(s *socket) {
	h.mu.Lock()
	delete(h.sockets, s.id)
	h.mu.Unlock()
}
