package chat

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresLogAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO chat_messages").
		WithArgs("m1", "ana", "hospital", pgxmock.AnyArg(), "oi", pgxmock.AnyArg(), pgxmock.AnyArg(), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	log := NewPostgresLog(mock)
	require.NoError(t, log.Append(context.Background(), Message{ID: "m1", AuthorID: "ana", Location: "hospital", Content: "oi", CreatedAt: at}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogPageUsesKeysetCursor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cursorAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rowAt := cursorAt.Add(time.Second)
	mock.ExpectQuery(`COALESCE\(sub_location, ''\) = \$2`).
		WithArgs("hospital", "", cursorAt, "m0", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "location", "sub_location", "content", "character_name", "character_avatar", "created_at"}).
			AddRow("m1", "ana", "hospital", "", "oi", "", "", rowAt).
			AddRow("m2", "beto", "hospital", "", "olá", "Dr. Beto", "/b.png", rowAt))

	log := NewPostgresLog(mock)
	page, err := log.Page(context.Background(), NewChannel("hospital", ""), Cursor{CreatedAt: cursorAt, ID: "m0"}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Dr. Beto", page[1].CharacterName)
	assert.Equal(t, rowAt, page[0].CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogLatestByOthers(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("MAX\\(created_at\\)").
		WithArgs("hospital", "ana").
		WillReturnRows(pgxmock.NewRows([]string{"sub_location", "max"}).
			AddRow("", at).
			AddRow("Sala 1", at.Add(time.Minute)))

	log := NewPostgresLog(mock)
	latest, err := log.LatestByOthers(context.Background(), "hospital", "ana")
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"": at, "Sala 1": at.Add(time.Minute)}, latest)
	require.NoError(t, mock.ExpectationsWereMet())
}
