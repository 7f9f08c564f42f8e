package locations

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AdminRole bypasses every room restriction.
const AdminRole = "admin"

// Grant authorizes one user into one restricted room.
type Grant struct {
	ID          uuid.UUID `json:"id"`
	UserID      string    `json:"user_id"`
	Location    string    `json:"location"`
	SubLocation string    `json:"sub_location"`
	GrantedBy   string    `json:"granted_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Subject is what the access check needs to know about a user.
type Subject struct {
	Role string
	Age  *int
}

// SubjectLookup resolves role and age for a user.
type SubjectLookup interface {
	Subject(ctx context.Context, userID string) (Subject, error)
}

// GrantChecker answers whether an explicit grant exists.
type GrantChecker interface {
	HasGrant(ctx context.Context, userID, location, subLocation string) (bool, error)
}

// Authorizer implements the room access collaborator.
type Authorizer struct {
	registry *Registry
	grants   GrantChecker
	subjects SubjectLookup
}

// NewAuthorizer creates an Authorizer. grants and subjects may be nil.
func NewAuthorizer(registry *Registry, grants GrantChecker, subjects SubjectLookup) *Authorizer {
	if registry == nil {
		registry = Default()
	}
	return &Authorizer{registry: registry, grants: grants, subjects: subjects}
}

// HasRoomAccess reports whether userID may enter room within location.
// Open rooms (and the main room) always pass. Restricted rooms need a grant
// or one of the room's roles. Role-gated rooms need a listed role (when any
// are listed) and the minimum age (when set).
func (a *Authorizer) HasRoomAccess(ctx context.Context, userID, location, room string) (bool, error) {
	sub, err := a.registry.SubLocation(location, room)
	if err != nil {
		return false, err
	}
	if !sub.Restricted() {
		return true, nil
	}

	var subject Subject
	if a.subjects != nil {
		subject, err = a.subjects.Subject(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("locations: resolve subject: %w", err)
		}
	}
	role := strings.ToLower(strings.TrimSpace(subject.Role))
	if role == AdminRole {
		return true, nil
	}

	switch sub.Access {
	case AccessRoleGated:
		if len(sub.Roles) > 0 && !slices.Contains(sub.Roles, role) {
			return false, nil
		}
		if sub.MinAge > 0 && (subject.Age == nil || *subject.Age < sub.MinAge) {
			return false, nil
		}
		return true, nil
	default:
		if role != "" && slices.Contains(sub.Roles, role) {
			return true, nil
		}
		if a.grants == nil {
			return false, nil
		}
		ok, err := a.grants.HasGrant(ctx, userID, location, sub.Name)
		if err != nil {
			return false, fmt.Errorf("locations: check grant: %w", err)
		}
		return ok, nil
	}
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresGrants persists room grants.
type PostgresGrants struct {
	db DB
}

// NewPostgresGrants creates a grant store over db.
func NewPostgresGrants(db DB) *PostgresGrants {
	return &PostgresGrants{db: db}
}

// Grant stores a grant; granting twice is a no-op.
func (s *PostgresGrants) Grant(ctx context.Context, g *Grant) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO room_grants (id, user_id, location, sub_location, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, location, sub_location) DO NOTHING`,
		g.ID, g.UserID, g.Location, g.SubLocation, g.GrantedBy, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("locations: grant: %w", err)
	}
	return nil
}

// Revoke removes a grant and reports whether one existed.
func (s *PostgresGrants) Revoke(ctx context.Context, userID, location, subLocation string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM room_grants WHERE user_id = $1 AND location = $2 AND sub_location = $3`,
		userID, location, subLocation)
	if err != nil {
		return false, fmt.Errorf("locations: revoke: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresGrants) HasGrant(ctx context.Context, userID, location, subLocation string) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM room_grants WHERE user_id = $1 AND location = $2 AND sub_location = $3`,
		userID, location, subLocation).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("locations: has grant: %w", err)
	}
	return true, nil
}

// ListForRoom returns grants for a room, newest first.
func (s *PostgresGrants) ListForRoom(ctx context.Context, location, subLocation string) ([]Grant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, location, sub_location, granted_by, created_at
		FROM room_grants
		WHERE location = $1 AND sub_location = $2
		ORDER BY created_at DESC`, location, subLocation)
	if err != nil {
		return nil, fmt.Errorf("locations: list grants: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Location, &g.SubLocation, &g.GrantedBy, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("locations: scan grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
