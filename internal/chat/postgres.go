package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLog stores messages in chat_messages. The main room is written
// as NULL and every read compares through COALESCE so rows written with
// either an empty string or NULL land in the same room.
type PostgresLog struct {
	db     DB
	tracer trace.Tracer
}

// NewPostgresLog creates a Log over the chat_messages table.
func NewPostgresLog(db DB) *PostgresLog {
	if db == nil {
		panic("chat: db required")
	}
	return &PostgresLog{db: db, tracer: otel.Tracer("roleplay.internal.chat.log")}
}

func (p *PostgresLog) Append(ctx context.Context, m Message) error {
	ctx, span := p.tracer.Start(ctx, "chat.log.append")
	defer span.End()

	_, err := p.db.Exec(ctx, `
		INSERT INTO chat_messages (id, user_id, location, sub_location, content, character_name, character_avatar, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.AuthorID, m.Location, nullable(NormalizeSubLocation(m.SubLocation)),
		m.Content, nullable(m.CharacterName), nullable(m.CharacterAvatar), m.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chat: append message: %w", err)
	}
	return nil
}

func (p *PostgresLog) Page(ctx context.Context, ch Channel, after Cursor, limit int) ([]Message, error) {
	ctx, span := p.tracer.Start(ctx, "chat.log.page")
	defer span.End()

	afterID := after.ID
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, user_id, location, COALESCE(sub_location, ''), content,
		       COALESCE(character_name, ''), COALESCE(character_avatar, ''), created_at
		FROM chat_messages
		WHERE location = $1 AND COALESCE(sub_location, '') = $2
		  AND (created_at, id) > ($3, $4)
		ORDER BY created_at, id
		LIMIT $5`,
		ch.Location, ch.SubLocation, after.CreatedAt, afterID, limit,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: page messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.AuthorID, &m.Location, &m.SubLocation, &m.Content,
			&m.CharacterName, &m.CharacterAvatar, &m.CreatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: page messages: %w", err)
	}
	return out, nil
}

func (p *PostgresLog) LatestByOthers(ctx context.Context, location, userID string) (map[string]time.Time, error) {
	ctx, span := p.tracer.Start(ctx, "chat.log.latest_by_others")
	defer span.End()

	rows, err := p.db.Query(ctx, `
		SELECT COALESCE(sub_location, ''), MAX(created_at)
		FROM chat_messages
		WHERE location = $1 AND user_id <> $2
		GROUP BY COALESCE(sub_location, '')`, location, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chat: latest by others: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var room string
		var at time.Time
		if err := rows.Scan(&room, &at); err != nil {
			return nil, fmt.Errorf("chat: scan latest: %w", err)
		}
		out[room] = at
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
