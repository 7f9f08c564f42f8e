package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/roleplay-realtime/cmd/mainconfig"
	"github.com/wolfman30/roleplay-realtime/internal/api/router"
	"github.com/wolfman30/roleplay-realtime/internal/app/bootstrap"
	appconfig "github.com/wolfman30/roleplay-realtime/internal/config"
	"github.com/wolfman30/roleplay-realtime/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/roleplay-realtime/internal/http/middleware"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting roleplay realtime API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_store", cfg.UseMemoryStore,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, closeInfra := connectInfra(ctx, cfg, logger)
	defer closeInfra()

	st := bootstrap.BuildStack(ctx, cfg, infra, logger)
	defer st.Close()

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	sup := bootstrap.NewSupervisor(logger)
	sup.Go(ctx, "rate_limit_evict", func(ctx context.Context) { limiter.Run(ctx, 5*time.Minute) })
	if st.Raid != nil {
		sup.Go(ctx, "raid_trigger", func(ctx context.Context) { st.Raid.Run(ctx, cfg.RaidInterval) })
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newHTTPHandler(cfg, st, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	sup.Wait()
	logger.Info("server stopped")
}

// connectInfra opens whatever backing services are configured. Failures are
// logged and leave the matching field nil.
func connectInfra(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (bootstrap.Infra, func()) {
	var infra bootstrap.Infra
	if cfg.UseMemoryStore {
		return infra, func() {}
	}
	infra.Redis = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	infra.Pool = bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if db, err := bootstrap.OpenProfilesDB(ctx, cfg.ProfilesDatabaseURL); err != nil {
		logger.Warn("profiles database not available", "error", err)
	} else {
		infra.ProfilesDB = db
	}
	if mainconfig.NeedsAWS(cfg) {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
		} else {
			infra.AWS = &awsCfg
		}
	}
	return infra, func() {
		if infra.Redis != nil {
			_ = infra.Redis.Close()
		}
		if infra.Pool != nil {
			infra.Pool.Close()
		}
		if infra.ProfilesDB != nil {
			_ = infra.ProfilesDB.Close()
		}
	}
}

func newHTTPHandler(cfg *appconfig.Config, st *bootstrap.Stack, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) http.Handler {
	var subjects locations.SubjectLookup
	if st.Directory != nil {
		subjects = st.Directory
	}
	routerCfg := &router.Config{
		Logger:             logger,
		Socket:             st.Socket,
		Locations:          handlers.NewLocationsHandler(st.Registry, st.Unread, st.Online, logger),
		Treatments:         handlers.NewTreatmentHandler(st.Treatment, subjects, logger),
		RateLimiter:        limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	if st.Grants != nil {
		routerCfg.Grants = handlers.NewGrantsHandler(st.Registry, st.Grants, subjects, logger)
	}
	if cfg.MetricsEnabled {
		routerCfg.Gatherer = st.Gatherer
	}
	return router.New(routerCfg)
}
