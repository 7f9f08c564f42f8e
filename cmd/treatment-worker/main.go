package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/roleplay-realtime/cmd/mainconfig"
	"github.com/wolfman30/roleplay-realtime/internal/app/bootstrap"
	appconfig "github.com/wolfman30/roleplay-realtime/internal/config"
	treatmentworker "github.com/wolfman30/roleplay-realtime/internal/worker/treatment"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// The worker completes running treatments whose patients are offline, so
// nobody has to reconnect for the timer to land.
func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra := bootstrap.Infra{
		Redis: bootstrap.BuildRedisClient(ctx, cfg, logger, true),
		Pool:  bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger),
	}
	if infra.Pool == nil {
		logger.Error("treatment worker requires DATABASE_URL")
		os.Exit(1)
	}
	defer infra.Pool.Close()
	if db, err := bootstrap.OpenProfilesDB(ctx, cfg.ProfilesDatabaseURL); err != nil {
		logger.Warn("profiles database not available; afflictions will not be cleared", "error", err)
	} else if db != nil {
		infra.ProfilesDB = db
		defer db.Close()
	}
	if mainconfig.NeedsAWS(cfg) {
		if awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
			logger.Error("failed to load AWS config", "error", err)
		} else {
			infra.AWS = &awsCfg
		}
	}

	st := bootstrap.BuildStack(ctx, cfg, infra, logger)
	defer st.Close()

	sweeper := treatmentworker.NewSweeper(st.Treatment, logger).
		WithInterval(cfg.TreatmentSweepInterval).
		WithBatchSize(cfg.TreatmentSweepBatch)

	sup := bootstrap.NewSupervisor(logger)
	sup.Go(ctx, "treatment_sweeper", sweeper.Run)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down treatment worker...")
	cancel()

	waitCh := make(chan struct{})
	go func() {
		sup.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
		logger.Info("treatment worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("treatment worker shutdown timed out")
	}
}
