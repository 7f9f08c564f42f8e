package chat

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/profiles"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
)

// Sentinel author ids for messages not written by a person.
const (
	SystemUserID    = "00000000-0000-0000-0000-000000000000"
	BanditUserID    = "00000000-0000-0000-0000-0000000000b1"
	DoctorBotUserID = "00000000-0000-0000-0000-0000000000d0"
)

// Identity is how an author is displayed.
type Identity struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
}

var syntheticIdentities = map[string]Identity{
	SystemUserID:    {UserID: SystemUserID, Name: "Sistema", Avatar: "/icons/system.png", Synthetic: true},
	BanditUserID:    {UserID: BanditUserID, Name: "Bandido", Avatar: "/icons/bandit.png", Synthetic: true},
	DoctorBotUserID: {UserID: DoctorBotUserID, Name: "Dr. Automático", Avatar: "/icons/doctor-bot.png", Synthetic: true},
}

// SyntheticIdentity returns the fixed identity for a sentinel id.
func SyntheticIdentity(userID string) (Identity, bool) {
	id, ok := syntheticIdentities[userID]
	return id, ok
}

// UnknownAuthor is shown when the profile lookup has nothing for an id.
const UnknownAuthor = "Desconhecido"

// resolveIdentities returns display identities for msgs. Synthetic ids and
// messages carrying a character name never hit the profile lookup; the
// rest are resolved in one batch. A lookup failure degrades to
// UnknownAuthor rather than failing delivery. The lookup is bounded by
// timeout like any other store read.
func resolveIdentities(ctx context.Context, lookup profiles.Lookup, timeout time.Duration, msgs []Message) (map[string]Identity, error) {
	out := make(map[string]Identity, len(msgs))
	var pending []string
	want := make(map[string]struct{})
	for _, m := range msgs {
		if _, ok := SyntheticIdentity(m.AuthorID); ok {
			continue
		}
		if strings.TrimSpace(m.CharacterName) != "" {
			continue
		}
		if _, ok := want[m.AuthorID]; ok {
			continue
		}
		want[m.AuthorID] = struct{}{}
		pending = append(pending, m.AuthorID)
	}
	if len(pending) == 0 || lookup == nil {
		return out, nil
	}
	var found []profiles.Profile
	err := storage.Do(ctx, timeout, "chat.profiles", func(ctx context.Context) error {
		var err error
		found, err = lookup.GetProfilesByIDs(ctx, pending)
		return err
	})
	if err != nil {
		return out, err
	}
	for _, p := range found {
		out[p.ID] = Identity{UserID: p.ID, Name: p.DisplayName, Avatar: p.AvatarURL}
	}
	return out, nil
}

// identityFor picks the display identity for m given resolved profiles.
func identityFor(m Message, resolved map[string]Identity) Identity {
	if id, ok := SyntheticIdentity(m.AuthorID); ok {
		return id
	}
	if name := strings.TrimSpace(m.CharacterName); name != "" {
		return Identity{UserID: m.AuthorID, Name: name, Avatar: m.CharacterAvatar}
	}
	if id, ok := resolved[m.AuthorID]; ok {
		if id.Name == "" {
			id.Name = UnknownAuthor
		}
		return id
	}
	return Identity{UserID: m.AuthorID, Name: UnknownAuthor}
}
