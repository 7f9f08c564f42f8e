package treatment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var requestCols = []string{"id", "patient_id", "disease_id", "disease_name", "treatment_cost", "cure_time_minutes",
	"status", "required_room", "approved_by", "approved_at", "started_at", "completed_at", "created_at", "updated_at"}

func TestPostgresCreateMapsUniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := &Request{ID: uuid.New(), PatientID: "ana", DiseaseID: "flu", DiseaseName: "Gripe", Cost: 10, CureTimeMinutes: 5, Status: StatusPending, CreatedAt: t0}
	mock.ExpectExec("INSERT INTO treatment_requests").
		WithArgs(r.ID, "ana", "flu", "Gripe", int64(10), 5, "pending", t0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO treatment_requests").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "treatment_requests_one_active_per_patient"})

	store := NewPostgresStore(mock)
	require.NoError(t, store.Create(context.Background(), r))
	err = store.Create(context.Background(), r)
	assert.ErrorIs(t, err, ErrActiveRequestExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStartIsCompareAndSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	t1 := t0.Add(time.Minute)
	mock.ExpectExec(`SET status = 'running', started_at = \$2`).
		WithArgs(id, t1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`AND status = 'approved' AND started_at IS NULL`).
		WithArgs(id, t1.Add(time.Second)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewPostgresStore(mock)
	ok, err := store.Start(context.Background(), id, t1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Start(context.Background(), id, t1.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteGuardsOnDueTime(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(`make_interval\(mins => cure_time_minutes\) <= \$2`).
		WithArgs(id, t0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewPostgresStore(mock).Complete(context.Background(), id, t0)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetAndActive(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	started := t0.Add(time.Minute)
	mock.ExpectQuery("FROM treatment_requests WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(requestCols).
			AddRow(id, "ana", "flu", "Gripe", int64(10), 5, "running", "Sala 1", "dr", &t0, &started, (*time.Time)(nil), t0, started))
	mock.ExpectQuery("status IN \\('pending', 'approved', 'running'\\)").
		WithArgs("beto").
		WillReturnError(pgx.ErrNoRows)

	store := NewPostgresStore(mock)
	r, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.Equal(t, "Sala 1", r.RequiredRoom)
	assert.Equal(t, started, *r.StartedAt)
	assert.Nil(t, r.CompletedAt)

	_, err = store.ActiveForPatient(context.Background(), "beto")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	started := t0.Add(time.Minute)
	mock.ExpectQuery("WHERE status = \\$1 ORDER BY created_at LIMIT \\$2").
		WithArgs("running", 100).
		WillReturnRows(pgxmock.NewRows(requestCols).
			AddRow(uuid.New(), "ana", "flu", "Gripe", int64(10), 5, "running", "Sala 1", "dr", &t0, &started, (*time.Time)(nil), t0, started).
			AddRow(uuid.New(), "caio", "flu", "Gripe", int64(10), 5, "running", "Sala 2", "dr", &t0, &started, (*time.Time)(nil), t0, started))

	list, err := NewPostgresStore(mock).ListByStatus(context.Background(), StatusRunning, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
