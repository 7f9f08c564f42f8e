package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		preflight  bool
		wantOrigin string
		wantStatus int
	}{
		{name: "listed origin", allowed: []string{"https://play.example"}, origin: "https://play.example", wantOrigin: "https://play.example", wantStatus: http.StatusOK},
		{name: "unknown origin", allowed: []string{"https://play.example"}, origin: "https://evil.example", wantStatus: http.StatusOK},
		{name: "wildcard", allowed: []string{" * "}, origin: "https://any.example", wantOrigin: "https://any.example", wantStatus: http.StatusOK},
		{name: "no origin", allowed: []string{"*"}, wantStatus: http.StatusOK},
		{name: "preflight", allowed: []string{"https://play.example"}, origin: "https://play.example", preflight: true, wantOrigin: "https://play.example", wantStatus: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.preflight {
				method = http.MethodOptions
			}
			req := httptest.NewRequest(method, "/locations", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(ok).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected allow origin %q, got %q", tt.wantOrigin, got)
			}
			if tt.wantOrigin != "" && !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), UserHeader) {
				t.Fatalf("expected %s in allowed headers", UserHeader)
			}
		})
	}
}
