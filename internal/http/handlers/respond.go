package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, treatment.ErrNotFound),
		errors.Is(err, locations.ErrUnknownLocation):
		return http.StatusNotFound
	case errors.Is(err, treatment.ErrActiveRequestExists),
		errors.Is(err, treatment.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, treatment.ErrInvalidRequest),
		errors.Is(err, locations.ErrUnknownSubLocation):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrTimeout), storage.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	jsonError(w, msg, status)
}
