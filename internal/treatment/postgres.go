package treatment

import (
	"context"
	"errors"
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

const uniqueViolation = "23505"

const requestColumns = `id, patient_id, disease_id, disease_name, treatment_cost, cure_time_minutes,
	status, COALESCE(required_room, ''), COALESCE(approved_by, ''), approved_at, started_at, completed_at,
	created_at, updated_at`

// PostgresStore keeps requests in treatment_requests. A partial unique
// index on patient_id over non-terminal rows enforces one active request
// per patient.
type PostgresStore struct {
	db     DB
	tracer trace.Tracer
}

// NewPostgresStore creates a Store over the treatment_requests table.
func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("treatment: db required")
	}
	return &PostgresStore{db: db, tracer: otel.Tracer("roleplay.internal.treatment")}
}

func (s *PostgresStore) Create(ctx context.Context, r *Request) error {
	ctx, span := s.tracer.Start(ctx, "treatment.create")
	defer span.End()

	_, err := s.db.Exec(ctx, `
		INSERT INTO treatment_requests (id, patient_id, disease_id, disease_name, treatment_cost,
			cure_time_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		r.ID, r.PatientID, r.DiseaseID, r.DiseaseName, r.Cost, r.CureTimeMinutes, string(r.Status), r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrActiveRequestExists
		}
		span.RecordError(err)
		return fmt.Errorf("treatment: create: %w", err)
	}
	return nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		r      Request
		status string
	)
	if err := row.Scan(&r.ID, &r.PatientID, &r.DiseaseID, &r.DiseaseName, &r.Cost, &r.CureTimeMinutes,
		&status, &r.RequiredRoom, &r.ApprovedBy, &r.ApprovedAt, &r.StartedAt, &r.CompletedAt,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "treatment.get")
	defer span.End()

	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM treatment_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("treatment: get: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ActiveForPatient(ctx context.Context, patientID string) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "treatment.active_for_patient")
	defer span.End()

	r, err := scanRequest(s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM treatment_requests
		WHERE patient_id = $1 AND status IN ('pending', 'approved', 'running')
		ORDER BY created_at DESC LIMIT 1`, patientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("treatment: active for patient: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Request, error) {
	ctx, span := s.tracer.Start(ctx, "treatment.list_by_status")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+` FROM treatment_requests
		WHERE status = $1 ORDER BY created_at LIMIT $2`, string(status), limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("treatment: list: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("treatment: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...any) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "treatment."+op)
	defer span.End()

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("treatment: %s: %w", op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Approve(ctx context.Context, id uuid.UUID, approvedBy, room string, at time.Time) (bool, error) {
	return s.exec(ctx, "approve", `
		UPDATE treatment_requests
		SET status = 'approved', approved_by = $2, required_room = $3, approved_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'pending'`, id, approvedBy, room, at)
}

func (s *PostgresStore) Reject(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.exec(ctx, "reject", `
		UPDATE treatment_requests SET status = 'rejected', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
}

func (s *PostgresStore) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.exec(ctx, "cancel", `
		UPDATE treatment_requests SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
}

func (s *PostgresStore) Start(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.exec(ctx, "start", `
		UPDATE treatment_requests SET status = 'running', started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'approved' AND started_at IS NULL`, id, at)
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.exec(ctx, "complete", `
		UPDATE treatment_requests SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'running' AND started_at IS NOT NULL
		  AND started_at + make_interval(mins => cure_time_minutes) <= $2`, id, at)
}
