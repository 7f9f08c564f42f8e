package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
)

type memoryGrants struct {
	mu     sync.Mutex
	grants []locations.Grant
}

func (m *memoryGrants) Grant(_ context.Context, g *locations.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = append(m.grants, *g)
	return nil
}

func (m *memoryGrants) Revoke(_ context.Context, userID, location, sub string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, g := range m.grants {
		if g.UserID == userID && g.Location == location && g.SubLocation == sub {
			m.grants = append(m.grants[:i], m.grants[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryGrants) ListForRoom(_ context.Context, location, sub string) ([]locations.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []locations.Grant
	for _, g := range m.grants {
		if g.Location == location && g.SubLocation == sub {
			out = append(out, g)
		}
	}
	return out, nil
}

func grantsRouter(store GrantStore) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmiddleware.RequireUser)
	r.Mount("/locations/{location}/rooms/{room}/grants",
		NewGrantsHandler(nil, store, roles{"boss": "admin", "doc": "doctor"}, testLogger()).Routes())
	return r
}

func TestGrantsLifecycle(t *testing.T) {
	store := &memoryGrants{}
	h := grantsRouter(store)
	base := "/locations/house/rooms/Quarto/grants"

	rec := do(t, h, http.MethodPost, base, "boss", map[string]string{"user_id": "ana"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[locations.Grant](t, rec)
	assert.Equal(t, "boss", g.GrantedBy)
	assert.Equal(t, "Quarto", g.SubLocation)

	rec = do(t, h, http.MethodGet, base, "boss", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Grants []locations.Grant `json:"grants"`
	}](t, rec)
	require.Len(t, list.Grants, 1)
	assert.Equal(t, "ana", list.Grants[0].UserID)

	rec = do(t, h, http.MethodDelete, base+"/ana", "boss", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, base+"/ana", "boss", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGrantsRejections(t *testing.T) {
	h := grantsRouter(&memoryGrants{})

	rec := do(t, h, http.MethodGet, "/locations/house/rooms/Quarto/grants", "doc", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/locations/house/rooms/Cozinha/grants", "boss", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "open room")

	rec = do(t, h, http.MethodGet, "/locations/nowhere/rooms/x/grants", "boss", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/locations/house/rooms/Quarto/grants", "boss", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
