package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logging.Logger { return logging.NewWithWriter(discard{}, "error") }

type stubUnread struct {
	set map[string]struct{}
	err error
}

func (s stubUnread) ComputeUnread(context.Context, string, string) (map[string]struct{}, error) {
	return s.set, s.err
}

type stubOnline map[string]bool

func (s stubOnline) Online(_ context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = s[id]
	}
	return out, nil
}

type roles map[string]string

func (r roles) Subject(_ context.Context, userID string) (locations.Subject, error) {
	return locations.Subject{Role: r[userID]}, nil
}

func locationsRouter(h *LocationsHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmiddleware.RequireUser)
	r.Get("/locations", h.ListLocations)
	r.Get("/locations/{location}/unread", h.GetUnread)
	r.Get("/users/online", h.GetOnline)
	return r
}

func do(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(httpmiddleware.UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListLocations(t *testing.T) {
	h := NewLocationsHandler(nil, nil, nil, testLogger())
	rec := do(t, locationsRouter(h), http.MethodGet, "/locations", "u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode[struct {
		Locations []locations.Location `json:"locations"`
	}](t, rec)
	assert.Len(t, body.Locations, len(locations.Default().All()))
}

func TestGetUnread(t *testing.T) {
	h := NewLocationsHandler(nil, stubUnread{set: map[string]struct{}{"Sala 2": {}, "": {}}}, nil, testLogger())
	rec := do(t, locationsRouter(h), http.MethodGet, "/locations/hospital/unread", "u1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Location string   `json:"location"`
		Unread   []string `json:"unread"`
	}](t, rec)
	assert.Equal(t, "hospital", body.Location)
	assert.Equal(t, []string{"", "Sala 2"}, body.Unread)
}

func TestGetUnreadErrors(t *testing.T) {
	h := NewLocationsHandler(nil, stubUnread{err: locations.ErrUnknownLocation}, nil, testLogger())
	rec := do(t, locationsRouter(h), http.MethodGet, "/locations/nowhere/unread", "u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, locationsRouter(h), http.MethodGet, "/locations/hospital/unread", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	disabled := NewLocationsHandler(nil, nil, nil, testLogger())
	rec = do(t, locationsRouter(disabled), http.MethodGet, "/locations/hospital/unread", "u1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetOnline(t *testing.T) {
	h := NewLocationsHandler(nil, nil, stubOnline{"a": true}, testLogger())

	rec := do(t, locationsRouter(h), http.MethodGet, "/users/online?ids=a,%20b,,", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Online map[string]bool `json:"online"`
	}](t, rec)
	assert.Equal(t, map[string]bool{"a": true, "b": false}, body.Online)

	rec = do(t, locationsRouter(h), http.MethodGet, "/users/online", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func treatmentRouter(t *testing.T, subjects locations.SubjectLookup) (http.Handler, *treatment.Service) {
	t.Helper()
	svc := treatment.NewService(treatment.Config{
		Store:  treatment.NewMemoryStore(),
		Logger: testLogger(),
	})
	r := chi.NewRouter()
	r.Use(httpmiddleware.RequireUser)
	r.Mount("/treatments", NewTreatmentHandler(svc, subjects, testLogger()).Routes())
	return r, svc
}

func createTreatment(t *testing.T, h http.Handler, patient string) treatment.Request {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/treatments", patient, map[string]any{
		"disease_id":        "flu",
		"disease_name":      "Gripe",
		"treatment_cost":    50,
		"cure_time_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[treatment.Request](t, rec)
}

func TestTreatmentLifecycle(t *testing.T) {
	h, _ := treatmentRouter(t, roles{"doc": "doctor"})

	created := createTreatment(t, h, "pat")
	assert.Equal(t, "pat", created.PatientID)
	assert.Equal(t, treatment.StatusPending, created.Status)

	rec := do(t, h, http.MethodPost, "/treatments", "pat", map[string]any{"disease_id": "flu", "cure_time_minutes": 5})
	assert.Equal(t, http.StatusConflict, rec.Code, "second active request")

	rec = do(t, h, http.MethodGet, "/treatments/pending", "doc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[struct {
		Requests []treatment.Request `json:"requests"`
	}](t, rec)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, created.ID, pending.Requests[0].ID)

	rec = do(t, h, http.MethodPost, "/treatments/"+created.ID.String()+"/approve", "doc", map[string]string{"room": "Sala 2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[treatment.Request](t, rec)
	assert.Equal(t, treatment.StatusApproved, approved.Status)
	assert.Equal(t, "Sala 2", approved.RequiredRoom)

	rec = do(t, h, http.MethodPost, "/treatments/"+created.ID.String()+"/reject", "doc", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "reject after approve is a no-op")
	conflict := decode[struct {
		Error   string            `json:"error"`
		Request treatment.Request `json:"request"`
	}](t, rec)
	assert.Equal(t, treatment.StatusApproved, conflict.Request.Status)

	rec = do(t, h, http.MethodGet, "/treatments/active", "pat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[treatment.Snapshot](t, rec)
	assert.Equal(t, treatment.StatusApproved, snap.Request.Status)
}

func TestTreatmentStaffOnly(t *testing.T) {
	h, _ := treatmentRouter(t, roles{"doc": "doctor"})
	created := createTreatment(t, h, "pat")

	rec := do(t, h, http.MethodGet, "/treatments/pending", "pat", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/treatments/"+created.ID.String()+"/approve", "pat", map[string]string{"room": "Sala 1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTreatmentCancel(t *testing.T) {
	h, _ := treatmentRouter(t, nil)
	created := createTreatment(t, h, "pat")

	rec := do(t, h, http.MethodPost, "/treatments/"+created.ID.String()+"/cancel", "someone-else", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/treatments/"+created.ID.String()+"/cancel", "pat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, treatment.StatusCancelled, decode[treatment.Request](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/treatments/active", "pat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTreatmentBadInput(t *testing.T) {
	h, _ := treatmentRouter(t, nil)
	created := createTreatment(t, h, "pat")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid id", http.MethodPost, "/treatments/not-a-uuid/reject", nil, http.StatusBadRequest},
		{"unknown id", http.MethodPost, "/treatments/" + uuid.NewString() + "/reject", nil, http.StatusNotFound},
		{"missing cure time", http.MethodPost, "/treatments", map[string]any{"disease_id": "x"}, http.StatusBadRequest},
		{"main room approval", http.MethodPost, "/treatments/" + created.ID.String() + "/approve", map[string]string{"room": ""}, http.StatusBadRequest},
		{"unknown room approval", http.MethodPost, "/treatments/" + created.ID.String() + "/approve", map[string]string{"room": "Cozinha"}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/treatments/pending?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, "other", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, http.StatusConflict, statusFor(treatment.ErrActiveRequestExists))
}
