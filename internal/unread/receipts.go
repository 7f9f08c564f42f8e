package unread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
)

// ReceiptStore persists per-room last-seen timestamps.
type ReceiptStore interface {
	// LastSeen returns receipts for every room of location the user has
	// viewed, keyed by sub-location (chat.MainRoom for the main room).
	LastSeen(ctx context.Context, userID, location string) (map[string]time.Time, error)
	// MarkSeen records a view. A receipt never moves backwards.
	MarkSeen(ctx context.Context, userID, location, subLocation string, at time.Time) error
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresReceipts stores receipts in read_receipts.
type PostgresReceipts struct {
	db     DB
	tracer trace.Tracer
}

// NewPostgresReceipts creates a ReceiptStore over the read_receipts table.
func NewPostgresReceipts(db DB) *PostgresReceipts {
	if db == nil {
		panic("unread: db required")
	}
	return &PostgresReceipts{db: db, tracer: otel.Tracer("roleplay.internal.unread")}
}

func (p *PostgresReceipts) LastSeen(ctx context.Context, userID, location string) (map[string]time.Time, error) {
	ctx, span := p.tracer.Start(ctx, "unread.last_seen")
	defer span.End()

	rows, err := p.db.Query(ctx, `
		SELECT sub_location, last_seen_at FROM read_receipts
		WHERE user_id = $1 AND location = $2`, userID, location)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unread: last seen: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var room string
		var at time.Time
		if err := rows.Scan(&room, &at); err != nil {
			return nil, fmt.Errorf("unread: scan receipt: %w", err)
		}
		out[chat.NormalizeSubLocation(room)] = at
	}
	return out, rows.Err()
}

func (p *PostgresReceipts) MarkSeen(ctx context.Context, userID, location, subLocation string, at time.Time) error {
	ctx, span := p.tracer.Start(ctx, "unread.mark_seen")
	defer span.End()

	_, err := p.db.Exec(ctx, `
		INSERT INTO read_receipts (user_id, location, sub_location, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, location, sub_location)
		DO UPDATE SET last_seen_at = GREATEST(read_receipts.last_seen_at, EXCLUDED.last_seen_at)`,
		userID, location, chat.NormalizeSubLocation(subLocation), at)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("unread: mark seen: %w", err)
	}
	return nil
}

// MemoryReceipts is an in-process ReceiptStore.
type MemoryReceipts struct {
	mu   sync.Mutex
	seen map[string]map[string]time.Time
}

func NewMemoryReceipts() *MemoryReceipts {
	return &MemoryReceipts{seen: make(map[string]map[string]time.Time)}
}

func receiptKey(userID, location string) string { return userID + "\x00" + location }

func (m *MemoryReceipts) LastSeen(_ context.Context, userID, location string) (map[string]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time)
	for room, at := range m.seen[receiptKey(userID, location)] {
		out[room] = at
	}
	return out, nil
}

func (m *MemoryReceipts) MarkSeen(_ context.Context, userID, location, subLocation string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := receiptKey(userID, location)
	if m.seen[key] == nil {
		m.seen[key] = make(map[string]time.Time)
	}
	room := chat.NormalizeSubLocation(subLocation)
	if cur, ok := m.seen[key][room]; !ok || at.After(cur) {
		m.seen[key][room] = at
	}
	return nil
}
