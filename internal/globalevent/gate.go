// Package globalevent fires rare, system-wide random events. Firing is
// guarded by an atomic acquire-if-cooldown-expired at the store, the only
// primitive that keeps concurrent evaluators from firing twice within one
// cooldown window.
package globalevent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Gate grants at most one acquisition of name per cooldown window.
type Gate interface {
	TryAcquire(ctx context.Context, name string, cooldown time.Duration) (bool, error)
}

// RedisGate acquires with SET NX PX: the key exists for exactly the
// cooldown, and only the caller that created it wins.
type RedisGate struct {
	client *redis.Client
	tracer trace.Tracer
	now    func() time.Time
}

// NewRedisGate creates a gate backed by SET NX PX.
func NewRedisGate(client *redis.Client) *RedisGate {
	if client == nil {
		panic("globalevent: redis client required")
	}
	return &RedisGate{client: client, tracer: otel.Tracer("roleplay.internal.globalevent"), now: time.Now}
}

func gateKey(name string) string { return "global_event:" + name }

func (g *RedisGate) TryAcquire(ctx context.Context, name string, cooldown time.Duration) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "globalevent.redis.acquire")
	defer span.End()

	ok, err := g.client.SetNX(ctx, gateKey(name), g.now().UTC().Format(time.RFC3339Nano), cooldown).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("globalevent: acquire %s: %w", name, err)
	}
	return ok, nil
}

// DB is the pgx subset PostgresGate needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresGate acquires with one conditional upsert: insert the event row,
// or move last_fired_at forward only if the previous firing is older than
// the cooldown. Exactly one concurrent statement can affect the row.
type PostgresGate struct {
	db     DB
	tracer trace.Tracer
	now    func() time.Time
}

// NewPostgresGate creates a gate over the global_events table.
func NewPostgresGate(db DB) *PostgresGate {
	if db == nil {
		panic("globalevent: db required")
	}
	return &PostgresGate{db: db, tracer: otel.Tracer("roleplay.internal.globalevent"), now: time.Now}
}

func (g *PostgresGate) TryAcquire(ctx context.Context, name string, cooldown time.Duration) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "globalevent.postgres.acquire")
	defer span.End()

	now := g.now().UTC()
	tag, err := g.db.Exec(ctx, `
		INSERT INTO global_events (name, last_fired_at)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET last_fired_at = EXCLUDED.last_fired_at
		WHERE global_events.last_fired_at <= $3`,
		name, now, now.Add(-cooldown))
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("globalevent: acquire %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MemoryGate is an in-process Gate.
type MemoryGate struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{last: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGate) TryAcquire(_ context.Context, name string, cooldown time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if last, ok := g.last[name]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	g.last[name] = now
	return true, nil
}
