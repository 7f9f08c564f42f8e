package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// GrantStore manages explicit room grants.
type GrantStore interface {
	Grant(ctx context.Context, g *locations.Grant) error
	Revoke(ctx context.Context, userID, location, subLocation string) (bool, error)
	ListForRoom(ctx context.Context, location, subLocation string) ([]locations.Grant, error)
}

// GrantsHandler lets admins manage who may enter restricted rooms.
type GrantsHandler struct {
	registry *locations.Registry
	store    GrantStore
	subjects locations.SubjectLookup
	logger   *logging.Logger
}

// NewGrantsHandler creates the room grant admin handler.
func NewGrantsHandler(registry *locations.Registry, store GrantStore, subjects locations.SubjectLookup, logger *logging.Logger) *GrantsHandler {
	if store == nil {
		panic("handlers: grant store required")
	}
	if registry == nil {
		registry = locations.Default()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GrantsHandler{registry: registry, store: store, subjects: subjects, logger: logger}
}

// Routes mounts under /locations/{location}/rooms/{room}/grants.
func (h *GrantsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Delete("/{userID}", h.Delete)
	return r
}

// List handles GET.
func (h *GrantsHandler) List(w http.ResponseWriter, r *http.Request) {
	location, room, ok := h.restrictedRoom(w, r)
	if !ok {
		return
	}
	grants, err := h.store.ListForRoom(r.Context(), location, room)
	if err != nil {
		h.logger.Warn("handlers: list grants failed", "location", location, "room", room, "error", err)
		writeError(w, err)
		return
	}
	if grants == nil {
		grants = []locations.Grant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants})
}

// Create handles POST with {"user_id": "..."}.
func (h *GrantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	location, room, ok := h.restrictedRoom(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.UserID) == "" {
		jsonError(w, "user_id required", http.StatusBadRequest)
		return
	}
	adminID, _ := httpmiddleware.UserIDFromContext(r.Context())
	g := &locations.Grant{
		UserID:      strings.TrimSpace(body.UserID),
		Location:    location,
		SubLocation: room,
		GrantedBy:   adminID,
	}
	if err := h.store.Grant(r.Context(), g); err != nil {
		h.logger.Warn("handlers: grant failed", "location", location, "room", room, "error", err)
		writeError(w, err)
		return
	}
	h.logger.Info("handlers: room granted", "location", location, "room", room, "user_id", g.UserID, "granted_by", adminID)
	writeJSON(w, http.StatusCreated, g)
}

// Delete handles DELETE /{userID}.
func (h *GrantsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	location, room, ok := h.restrictedRoom(w, r)
	if !ok {
		return
	}
	userID := pathParam(r, "userID")
	removed, err := h.store.Revoke(r.Context(), userID, location, room)
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		jsonError(w, "grant not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// restrictedRoom authorizes the caller as admin and resolves the room
// from the path. Only rooms that consult grants can be managed.
func (h *GrantsHandler) restrictedRoom(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if h.subjects != nil {
		userID, _ := httpmiddleware.UserIDFromContext(r.Context())
		subject, err := h.subjects.Subject(r.Context(), userID)
		if err != nil {
			jsonError(w, "profile unavailable", http.StatusServiceUnavailable)
			return "", "", false
		}
		if strings.ToLower(subject.Role) != locations.AdminRole {
			jsonError(w, "admin only", http.StatusForbidden)
			return "", "", false
		}
	}
	location, room := pathParam(r, "location"), pathParam(r, "room")
	sub, err := h.registry.SubLocation(location, room)
	if err != nil {
		writeError(w, err)
		return "", "", false
	}
	if sub.Access != locations.AccessRestricted {
		jsonError(w, "room does not use grants", http.StatusBadRequest)
		return "", "", false
	}
	return location, sub.Name, true
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
