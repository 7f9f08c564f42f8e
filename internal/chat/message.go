// Package chat implements the location-scoped message log, its live feed
// and the router that turns both into an ordered, de-duplicated stream
// for one (location, sub-location) channel.
package chat

import (
	"strings"
	"time"
)

// MainRoom is the canonical representation of "no sub-location".
const MainRoom = ""

// Message is an immutable chat message. SubLocation is MainRoom for the
// location's main room.
type Message struct {
	ID              string    `json:"id"`
	Location        string    `json:"location"`
	SubLocation     string    `json:"sub_location"`
	AuthorID        string    `json:"user_id"`
	CharacterName   string    `json:"character_name,omitempty"`
	CharacterAvatar string    `json:"character_avatar,omitempty"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

// Channel identifies one message audience.
type Channel struct {
	Location    string `json:"location"`
	SubLocation string `json:"sub_location"`
}

// NewChannel builds a normalized channel.
func NewChannel(location, subLocation string) Channel {
	return Channel{
		Location:    strings.TrimSpace(location),
		SubLocation: NormalizeSubLocation(subLocation),
	}
}

// NormalizeSubLocation maps every spelling of the main room to MainRoom.
func NormalizeSubLocation(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeSubLocationPtr is NormalizeSubLocation for nullable columns.
func NormalizeSubLocationPtr(s *string) string {
	if s == nil {
		return MainRoom
	}
	return NormalizeSubLocation(*s)
}

// IsMain reports whether the channel is the location's main room.
func (c Channel) IsMain() bool { return c.SubLocation == MainRoom }

// Key is a stable string form, used for presence and metrics labels.
func (c Channel) Key() string {
	if c.IsMain() {
		return c.Location
	}
	return c.Location + "/" + c.SubLocation
}

// Matches reports whether m belongs to this channel.
func (c Channel) Matches(m Message) bool {
	return m.Location == c.Location && NormalizeSubLocation(m.SubLocation) == c.SubLocation
}

// ChannelOf returns the channel a message was posted to.
func ChannelOf(m Message) Channel {
	return NewChannel(m.Location, m.SubLocation)
}
