package webchat

import (
	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/presence"
	"github.com/wolfman30/roleplay-realtime/internal/treatment"
	"github.com/wolfman30/roleplay-realtime/internal/viewstate"
)

// Inbound message types.
const (
	TypeJoin    = "join"
	TypeTyping  = "typing"
	TypeSend    = "send"
	TypeOverlay = "overlay"
	TypePing    = "ping"
)

// Outbound message types.
const (
	TypeHistory    = "history"
	TypeMessage    = "message"
	TypePresence   = "presence"
	TypeUnread     = "unread"
	TypeTreatment  = "treatment"
	TypeError      = "error"
	TypeSendFailed = "send_failed"
	TypePong       = "pong"
)

// InboundMessage is what the client sends.
type InboundMessage struct {
	Type            string             `json:"type"`
	Room            string             `json:"room,omitempty"`
	Typing          bool               `json:"typing,omitempty"`
	Text            string             `json:"text,omitempty"`
	CharacterName   string             `json:"character_name,omitempty"`
	CharacterAvatar string             `json:"character_avatar,omitempty"`
	Reply           *chat.Reply        `json:"reply,omitempty"`
	RoomAction      *chat.RoomAction   `json:"room_action,omitempty"`
	Overlay         *viewstate.Overlay `json:"overlay,omitempty"`
}

// OutboundMessage is what we send to the client.
type OutboundMessage struct {
	Type      string              `json:"type"`
	Channel   *chat.Channel       `json:"channel,omitempty"`
	Events    []chat.Event        `json:"events,omitempty"`
	Event     *chat.Event         `json:"event,omitempty"`
	Presence  *presence.Sync      `json:"presence,omitempty"`
	Unread    []string            `json:"unread,omitempty"`
	Treatment *treatment.Snapshot `json:"treatment,omitempty"`
	Overlay   string              `json:"overlay,omitempty"`
	Draft     *chat.Draft         `json:"draft,omitempty"`
	Error     string              `json:"error,omitempty"`
}
