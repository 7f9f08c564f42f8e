package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireUserPassesThrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := UserIDFromContext(r.Context())
		if !ok || userID != "ana" {
			t.Fatalf("expected user id propagated, got %s / %v", userID, ok)
		}
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(UserHeader, " ana ")
	rr := httptest.NewRecorder()
	RequireUser(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected downstream status, got %d", rr.Code)
	}
}

func TestRequireUserMissingHeader(t *testing.T) {
	handler := RequireUser(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing user, got %d", rr.Code)
	}
}

func TestUserIDFromRequestQueryFallback(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?user_id=beto", nil)
	if got := UserIDFromRequest(req); got != "beto" {
		t.Fatalf("expected beto, got %q", got)
	}
	req = req.WithContext(WithUserID(context.Background(), "carla"))
	if got := UserIDFromRequest(req); got != "carla" {
		t.Fatalf("context wins, got %q", got)
	}
	ctx := context.WithValue(context.Background(), userKey, 42)
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("non-string value must not resolve")
	}
}
