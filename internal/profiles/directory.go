// Package profiles is the read side of the external profile service:
// display identity, role, age and last-activity timestamps.
package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/wolfman30/roleplay-realtime/internal/locations"
)

// Profile is the subset of a user profile the realtime core consumes.
type Profile struct {
	ID           string     `json:"id"`
	DisplayName  string     `json:"display_name"`
	AvatarURL    string     `json:"avatar_url"`
	Role         string     `json:"role,omitempty"`
	Age          *int       `json:"age,omitempty"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
}

// Directory reads profiles from the profile database.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a Directory over the profiles database.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// GetProfilesByIDs returns the profiles that exist among ids, in no
// particular order. Missing ids are simply absent.
func (d *Directory) GetProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []Profile{}, nil
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, display_name, avatar_url, role, age, last_active_at
		FROM profiles WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("profiles: get by ids: %w", err)
	}
	defer rows.Close()

	out := make([]Profile, 0, len(ids))
	for rows.Next() {
		var (
			p          Profile
			avatar     sql.NullString
			role       sql.NullString
			age        sql.NullInt64
			lastActive sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.DisplayName, &avatar, &role, &age, &lastActive); err != nil {
			return nil, fmt.Errorf("profiles: scan: %w", err)
		}
		p.AvatarURL = avatar.String
		p.Role = role.String
		if age.Valid {
			v := int(age.Int64)
			p.Age = &v
		}
		if lastActive.Valid {
			t := lastActive.Time
			p.LastActiveAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LastActive returns the last recorded activity for each id that has one.
func (d *Directory) LastActive(ctx context.Context, ids []string) (map[string]time.Time, error) {
	ids = dedupe(ids)
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, last_active_at FROM profiles
		WHERE id = ANY($1) AND last_active_at IS NOT NULL`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("profiles: last active: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("profiles: scan last active: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

// Touch records activity for a user. Older timestamps never overwrite
// newer ones.
func (d *Directory) Touch(ctx context.Context, userID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE profiles SET last_active_at = $2
		WHERE id = $1 AND (last_active_at IS NULL OR last_active_at < $2)`, userID, at)
	if err != nil {
		return fmt.Errorf("profiles: touch: %w", err)
	}
	return nil
}

// ClearAffliction resets the patient's affliction after a completed
// treatment. Clearing an already healthy profile is a no-op.
func (d *Directory) ClearAffliction(ctx context.Context, patientID string) error {
	_, err := d.db.ExecContext(ctx, `
		UPDATE profiles SET affliction_id = NULL, afflicted_at = NULL
		WHERE id = $1 AND affliction_id IS NOT NULL`, patientID)
	if err != nil {
		return fmt.Errorf("profiles: clear affliction: %w", err)
	}
	return nil
}

// Subject implements locations.SubjectLookup.
func (d *Directory) Subject(ctx context.Context, userID string) (locations.Subject, error) {
	found, err := d.GetProfilesByIDs(ctx, []string{userID})
	if err != nil {
		return locations.Subject{}, err
	}
	if len(found) == 0 {
		return locations.Subject{}, nil
	}
	return locations.Subject{Role: found[0].Role, Age: found[0].Age}, nil
}

// Lookup is the batched profile read used by the router and presence.
type Lookup interface {
	GetProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error)
}

// Cache fronts a Lookup with a small TTL cache so live message bursts do
// not hit the profile database per message.
type Cache struct {
	next Lookup
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	profile Profile
	expires time.Time
}

// NewCache caches next's profiles for ttl.
func NewCache(next Lookup, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{next: next, ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *Cache) GetProfilesByIDs(ctx context.Context, ids []string) ([]Profile, error) {
	ids = dedupe(ids)
	now := c.now()
	out := make([]Profile, 0, len(ids))
	var missing []string

	c.mu.Lock()
	for _, id := range ids {
		if e, ok := c.entries[id]; ok && now.Before(e.expires) {
			out = append(out, e.profile)
			continue
		}
		missing = append(missing, id)
	}
	c.mu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := c.next.GetProfilesByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, p := range fetched {
		c.entries[p.ID] = cacheEntry{profile: p, expires: now.Add(c.ttl)}
	}
	c.mu.Unlock()
	return append(out, fetched...), nil
}

// Invalidate drops a cached profile, e.g. after a profile edit event.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
