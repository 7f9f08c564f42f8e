package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// staffRoles may approve and reject treatment requests.
var staffRoles = []string{"doctor", "nurse", locations.AdminRole}

// TreatmentHandler exposes the treatment workflow over HTTP.
type TreatmentHandler struct {
	service  *treatment.Service
	subjects locations.SubjectLookup
	logger   *logging.Logger
}

// NewTreatmentHandler builds the handler. With a nil subjects lookup every
// caller counts as staff.
func NewTreatmentHandler(service *treatment.Service, subjects locations.SubjectLookup, logger *logging.Logger) *TreatmentHandler {
	if service == nil {
		panic("handlers: treatment service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TreatmentHandler{service: service, subjects: subjects, logger: logger}
}

// Routes mounts under /treatments.
func (h *TreatmentHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/active", h.Active)
	r.Get("/pending", h.Pending)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
	r.Post("/{id}/cancel", h.Cancel)
	return r
}

type createTreatmentRequest struct {
	DiseaseID       string `json:"disease_id"`
	DiseaseName     string `json:"disease_name"`
	Cost            int64  `json:"treatment_cost"`
	CureTimeMinutes int    `json:"cure_time_minutes"`
}

// Create handles POST /treatments for the calling patient.
func (h *TreatmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpmiddleware.UserIDFromContext(r.Context())
	var body createTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req, err := h.service.Request(r.Context(), treatment.NewRequest{
		PatientID:       userID,
		DiseaseID:       strings.TrimSpace(body.DiseaseID),
		DiseaseName:     strings.TrimSpace(body.DiseaseName),
		Cost:            body.Cost,
		CureTimeMinutes: body.CureTimeMinutes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Active handles GET /treatments/active: the caller's request with its
// countdown evaluated now.
func (h *TreatmentHandler) Active(w http.ResponseWriter, r *http.Request) {
	userID, _ := httpmiddleware.UserIDFromContext(r.Context())
	snap, err := h.service.Status(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		jsonError(w, "no active treatment", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Pending handles GET /treatments/pending?limit=.
func (h *TreatmentHandler) Pending(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(v, 500)
	}
	reqs, err := h.service.Pending(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if reqs == nil {
		reqs = []treatment.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// Approve handles POST /treatments/{id}/approve with {"room": "..."}.
func (h *TreatmentHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	var body struct {
		Room string `json:"room"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	staffID, _ := httpmiddleware.UserIDFromContext(r.Context())
	h.respond(r.Context(), w, "approve", id, func(ctx context.Context) (treatment.Result, error) {
		return h.service.Approve(ctx, id, staffID, body.Room)
	})
}

// Reject handles POST /treatments/{id}/reject.
func (h *TreatmentHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if !h.requireStaff(w, r) {
		return
	}
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	staffID, _ := httpmiddleware.UserIDFromContext(r.Context())
	h.respond(r.Context(), w, "reject", id, func(ctx context.Context) (treatment.Result, error) {
		return h.service.Reject(ctx, id, staffID)
	})
}

// Cancel handles POST /treatments/{id}/cancel by the owning patient.
func (h *TreatmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(w, r)
	if !ok {
		return
	}
	userID, _ := httpmiddleware.UserIDFromContext(r.Context())
	h.respond(r.Context(), w, "cancel", id, func(ctx context.Context) (treatment.Result, error) {
		return h.service.Cancel(ctx, id, userID)
	})
}

// respond writes the transition result. A guarded no-op is a 409 carrying
// the request's current state.
func (h *TreatmentHandler) respond(ctx context.Context, w http.ResponseWriter, op string, id uuid.UUID, fn func(context.Context) (treatment.Result, error)) {
	res, err := fn(ctx)
	if err != nil {
		h.logger.Warn("handlers: treatment transition failed", "op", op, "request_id", id, "error", err)
		writeError(w, err)
		return
	}
	if !res.Applied {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   treatment.ErrInvalidTransition.Error(),
			"request": res.Request,
		})
		return
	}
	writeJSON(w, http.StatusOK, res.Request)
}

func (h *TreatmentHandler) requireStaff(w http.ResponseWriter, r *http.Request) bool {
	if h.subjects == nil {
		return true
	}
	userID, _ := httpmiddleware.UserIDFromContext(r.Context())
	subject, err := h.subjects.Subject(r.Context(), userID)
	if err != nil {
		h.logger.Warn("handlers: subject lookup failed", "user_id", userID, "error", err)
		jsonError(w, "profile unavailable", http.StatusServiceUnavailable)
		return false
	}
	if !slices.Contains(staffRoles, strings.ToLower(subject.Role)) {
		jsonError(w, "staff only", http.StatusForbidden)
		return false
	}
	return true
}

func requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid request id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
