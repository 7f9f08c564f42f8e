package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/roleplay-realtime/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// SocketHandler serves the realtime connection and reports live sockets.
type SocketHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	Connected(location string) int
}

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger             *logging.Logger
	Socket             SocketHandler
	Locations          *handlers.LocationsHandler
	Treatments         *handlers.TreatmentHandler
	Grants             *handlers.GrantsHandler
	Gatherer           prometheus.Gatherer
	RateLimiter        *httpmiddleware.RateLimiter
	CORSAllowedOrigins []string
	Now                func() time.Time
}

// New creates the chi router with every route mounted.
func New(cfg *Config) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	started := cfg.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		if cfg.Gatherer != nil {
			public.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
			public.Get("/stats", statsHandler(cfg, started))
		}
	})

	// The socket upgrade must see the raw connection, so it stays outside
	// the compressing group.
	if cfg.Socket != nil {
		r.With(httpmiddleware.RequireUser).Get("/ws", cfg.Socket.HandleWebSocket)
	}

	r.Group(func(api chi.Router) {
		api.Use(middleware.Compress(5))
		api.Use(httpmiddleware.RequireUser)
		if cfg.RateLimiter != nil {
			api.Use(cfg.RateLimiter.Middleware)
		}
		if cfg.Locations != nil {
			api.Get("/locations", cfg.Locations.ListLocations)
			api.Get("/locations/{location}/unread", cfg.Locations.GetUnread)
			api.Get("/users/online", cfg.Locations.GetOnline)
		}
		if cfg.Treatments != nil {
			api.Mount("/treatments", cfg.Treatments.Routes())
		}
		if cfg.Grants != nil {
			api.Mount("/locations/{location}/rooms/{room}/grants", cfg.Grants.Routes())
		}
	})

	return r
}

func statsHandler(cfg *Config, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := metrics.Snapshot(cfg.Gatherer)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "metrics unavailable"})
			return
		}
		body := map[string]any{
			"uptime_seconds": int64(cfg.Now().Sub(started).Seconds()),
			"counters":       snapshot,
		}
		if cfg.Socket != nil {
			body["connected"] = cfg.Socket.Connected(r.URL.Query().Get("location"))
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
