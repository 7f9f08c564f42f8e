package locations

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubjects map[string]Subject

func (s stubSubjects) Subject(_ context.Context, userID string) (Subject, error) {
	subject, ok := s[userID]
	if !ok {
		return Subject{}, nil
	}
	return subject, nil
}

type stubGrants map[string]bool

func (g stubGrants) HasGrant(_ context.Context, userID, location, sub string) (bool, error) {
	return g[userID+"|"+location+"|"+sub], nil
}

type failingGrants struct{}

func (failingGrants) HasGrant(context.Context, string, string, string) (bool, error) {
	return false, errors.New("db down")
}

func intPtr(v int) *int { return &v }

func TestHasRoomAccess(t *testing.T) {
	subjects := stubSubjects{
		"doc":    {Role: "doctor"},
		"admin":  {Role: "Admin"},
		"adult":  {Age: intPtr(21)},
		"minor":  {Age: intPtr(16)},
		"guest":  {},
		"friend": {},
	}
	grants := stubGrants{"friend|house|Quarto": true}
	auth := NewAuthorizer(Default(), grants, subjects)
	ctx := context.Background()

	tests := []struct {
		name     string
		user     string
		location string
		room     string
		want     bool
	}{
		{"main room always open", "guest", "hospital", "", true},
		{"open room", "guest", "hospital", "Sala 1", true},
		{"restricted without grant", "guest", "house", "Quarto", false},
		{"restricted with grant", "friend", "house", "Quarto", true},
		{"restricted with role override", "doc", "hospital", "UTI", true},
		{"role gated wrong role", "guest", "hospital", "Centro Cirúrgico", false},
		{"role gated right role", "doc", "hospital", "Centro Cirúrgico", true},
		{"age gated adult", "adult", "nightclub", "Bar", true},
		{"age gated minor", "minor", "nightclub", "Bar", false},
		{"age gated unknown age", "guest", "nightclub", "Bar", false},
		{"admin bypass", "admin", "nightclub", "Camarote", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auth.HasRoomAccess(ctx, tt.user, tt.location, tt.room)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasRoomAccessErrors(t *testing.T) {
	auth := NewAuthorizer(nil, failingGrants{}, nil)
	_, err := auth.HasRoomAccess(context.Background(), "u", "house", "Quarto")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check grant")

	_, err = auth.HasRoomAccess(context.Background(), "u", "house", "Porão")
	assert.ErrorIs(t, err, ErrUnknownSubLocation)
}

func TestPostgresGrants(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresGrants(mock)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO room_grants").
		WithArgs(pgxmock.AnyArg(), "u1", "house", "Quarto", "owner", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	g := &Grant{UserID: "u1", Location: "house", SubLocation: "Quarto", GrantedBy: "owner"}
	require.NoError(t, store.Grant(ctx, g))
	assert.NotEmpty(t, g.ID)

	mock.ExpectQuery("SELECT 1 FROM room_grants").
		WithArgs("u1", "house", "Quarto").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	ok, err := store.HasGrant(ctx, "u1", "house", "Quarto")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("SELECT 1 FROM room_grants").
		WithArgs("u2", "house", "Quarto").
		WillReturnError(pgx.ErrNoRows)
	ok, err = store.HasGrant(ctx, "u2", "house", "Quarto")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("DELETE FROM room_grants").
		WithArgs("u1", "house", "Quarto").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	removed, err := store.Revoke(ctx, "u1", "house", "Quarto")
	require.NoError(t, err)
	assert.True(t, removed)

	require.NoError(t, mock.ExpectationsWereMet())
}
