package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	appconfig "github.com/wolfman30/roleplay-realtime/internal/config"
	appmigrations "github.com/wolfman30/roleplay-realtime/migrations"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// Usage: migrate [up | down <steps> | force <version> | version]
func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg.DatabaseURL, os.Args[1:], logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(databaseURL string, args []string, logger *logging.Logger) error {
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("db driver: %w", err)
	}
	srcDriver, err := iofs.New(appmigrations.FS, ".")
	if err != nil {
		return fmt.Errorf("source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(args) > 0 {
		cmd = args[0]
	}
	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down", "force":
		if len(args) < 2 {
			return fmt.Errorf("%s needs a number", cmd)
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		if cmd == "force" {
			err = m.Force(n)
		} else {
			err = m.Steps(-n)
		}
		if err != nil {
			return fmt.Errorf("migrate %s: %w", cmd, err)
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read version: %w", err)
	}
	logger.Info("migrations complete", "command", cmd, "version", version, "dirty", dirty)
	return nil
}
