package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/unread"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// UnreadComputer computes the unread sub-location set for a user.
type UnreadComputer interface {
	ComputeUnread(ctx context.Context, location, userID string) (map[string]struct{}, error)
}

// OnlineResolver reports which users are online.
type OnlineResolver interface {
	Online(ctx context.Context, ids []string) (map[string]bool, error)
}

// LocationsHandler serves the location catalog, unread state and online
// status.
type LocationsHandler struct {
	registry *locations.Registry
	unread   UnreadComputer
	online   OnlineResolver
	logger   *logging.Logger
}

// NewLocationsHandler creates the location read handlers. unread and
// online may be nil; their routes then answer 503.
func NewLocationsHandler(registry *locations.Registry, unreadSource UnreadComputer, online OnlineResolver, logger *logging.Logger) *LocationsHandler {
	if registry == nil {
		registry = locations.Default()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LocationsHandler{registry: registry, unread: unreadSource, online: online, logger: logger}
}

// ListLocations handles GET /locations.
func (h *LocationsHandler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"locations": h.registry.All()})
}

// GetUnread handles GET /locations/{location}/unread.
func (h *LocationsHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	location := chi.URLParam(r, "location")
	userID, _ := httpmiddleware.UserIDFromContext(r.Context())
	if h.unread == nil {
		jsonError(w, "unread tracking disabled", http.StatusServiceUnavailable)
		return
	}
	set, err := h.unread.ComputeUnread(r.Context(), location, userID)
	if err != nil {
		h.logger.Warn("handlers: unread failed", "location", location, "user_id", userID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": location, "unread": unread.Sorted(set)})
}

// GetOnline handles GET /users/online?ids=a,b.
func (h *LocationsHandler) GetOnline(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, part := range strings.Split(r.URL.Query().Get("ids"), ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		jsonError(w, "ids required", http.StatusBadRequest)
		return
	}
	if h.online == nil {
		jsonError(w, "presence disabled", http.StatusServiceUnavailable)
		return
	}
	online, err := h.online.Online(r.Context(), ids)
	if err != nil {
		h.logger.Warn("handlers: online lookup failed", "count", len(ids), "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": online})
}
