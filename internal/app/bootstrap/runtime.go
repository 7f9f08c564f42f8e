package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/roleplay-realtime/internal/config"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	if !verify {
		return client
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("bootstrap: redis not available", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens the pgx pool for the realtime tables, or nil
// when url is empty or the database cannot be reached.
func ConnectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Warn("bootstrap: postgres pool config invalid", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("bootstrap: postgres not available", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// OpenProfilesDB opens the profile database through database/sql. The
// profile service owns that schema, so it gets its own handle even when it
// shares a server with the realtime tables.
func OpenProfilesDB(ctx context.Context, url string) (*sql.DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open profiles db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: ping profiles db: %w", err)
	}
	return db, nil
}
