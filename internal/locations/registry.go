// Package locations describes the static map of the world: locations,
// their rooms (sub-locations) and who may enter restricted rooms.
package locations

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Access classifies how a sub-location may be entered.
type Access string

const (
	AccessOpen       Access = "open"
	AccessRestricted Access = "restricted"
	AccessRoleGated  Access = "role_gated"
)

// SubLocation is a room inside a location.
type SubLocation struct {
	Name   string   `json:"name"`
	Icon   string   `json:"icon"`
	Access Access   `json:"access"`
	Roles  []string `json:"roles,omitempty"`
	MinAge int      `json:"min_age,omitempty"`
}

// Restricted reports whether entering requires more than being present.
func (s SubLocation) Restricted() bool {
	return s.Access == AccessRestricted || s.Access == AccessRoleGated
}

// Location is a named place with nested rooms.
type Location struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Icon         string        `json:"icon"`
	SubLocations []SubLocation `json:"sub_locations"`
}

var (
	ErrUnknownLocation    = errors.New("locations: unknown location")
	ErrUnknownSubLocation = errors.New("locations: unknown sub-location")
)

// Registry is an immutable lookup over the configured locations.
type Registry struct {
	order []string
	byID  map[string]Location
}

// NewRegistry validates and indexes locations. Sub-location names must be
// unique within their location.
func NewRegistry(locs []Location) (*Registry, error) {
	r := &Registry{byID: make(map[string]Location, len(locs))}
	for _, loc := range locs {
		id := strings.TrimSpace(loc.ID)
		if id == "" {
			return nil, errors.New("locations: location id required")
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("locations: duplicate location %q", id)
		}
		subs := make([]SubLocation, len(loc.SubLocations))
		copy(subs, loc.SubLocations)
		loc.SubLocations = subs
		seen := make(map[string]struct{}, len(subs))
		for i, sub := range subs {
			name := strings.TrimSpace(sub.Name)
			if name == "" {
				return nil, fmt.Errorf("locations: %s: empty sub-location name", id)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("locations: %s: duplicate sub-location %q", id, name)
			}
			seen[name] = struct{}{}
			if sub.Access == "" {
				loc.SubLocations[i].Access = AccessOpen
			}
			loc.SubLocations[i].Name = name
		}
		loc.ID = id
		r.byID[id] = loc
		r.order = append(r.order, id)
	}
	return r, nil
}

// MustRegistry panics on invalid input; for static catalogs only.
func MustRegistry(locs []Location) *Registry {
	r, err := NewRegistry(locs)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns a location by id.
func (r *Registry) Get(id string) (Location, error) {
	loc, ok := r.byID[id]
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", ErrUnknownLocation, id)
	}
	return loc, nil
}

// SubLocation looks up a room. The empty name is the main room, which is
// always open.
func (r *Registry) SubLocation(locationID, name string) (SubLocation, error) {
	loc, err := r.Get(locationID)
	if err != nil {
		return SubLocation{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return SubLocation{Access: AccessOpen}, nil
	}
	for _, sub := range loc.SubLocations {
		if sub.Name == name {
			return sub, nil
		}
	}
	return SubLocation{}, fmt.Errorf("%w: %s/%s", ErrUnknownSubLocation, locationID, name)
}

// SubLocationNames lists the rooms of a location in declaration order.
func (r *Registry) SubLocationNames(locationID string) ([]string, error) {
	loc, err := r.Get(locationID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(loc.SubLocations))
	for _, sub := range loc.SubLocations {
		names = append(names, sub.Name)
	}
	return names, nil
}

// All returns every location in declaration order.
func (r *Registry) All() []Location {
	out := make([]Location, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns location ids sorted alphabetically.
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}
