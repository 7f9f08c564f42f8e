package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SnippetMaxRunes bounds the quoted text carried by a reply marker.
const SnippetMaxRunes = 80

var (
	replyMarkerRe = regexp.MustCompile(`^\[reply:@([^|\]\n]*)\|([^\]\n]*)\]\n?`)
	roomButtonRe  = regexp.MustCompile(`\s*\[ROOM_BUTTON:([^:\]\n]+)(?::([^\]\n]+))?\]`)
)

// Reply is a quoted reference to an earlier message.
type Reply struct {
	Author  string `json:"author"`
	Snippet string `json:"snippet"`
}

// RoomAction asks the viewer to move to Room. PatientID narrows the
// action to one patient's treatment.
type RoomAction struct {
	Room      string `json:"room"`
	PatientID string `json:"patient_id,omitempty"`
}

// Body is message content with its inline directives parsed out.
type Body struct {
	Text       string      `json:"text"`
	Reply      *Reply      `json:"reply,omitempty"`
	RoomAction *RoomAction `json:"room_action,omitempty"`
}

// ParseBody extracts the reply marker and room-button directive from raw
// content. Only a leading reply marker counts; the last room button wins.
func ParseBody(content string) Body {
	var b Body
	rest := content
	if m := replyMarkerRe.FindStringSubmatch(rest); m != nil {
		b.Reply = &Reply{Author: m[1], Snippet: m[2]}
		rest = rest[len(m[0]):]
	}
	if all := roomButtonRe.FindAllStringSubmatch(rest, -1); len(all) > 0 {
		last := all[len(all)-1]
		b.RoomAction = &RoomAction{Room: strings.TrimSpace(last[1]), PatientID: strings.TrimSpace(last[2])}
		rest = roomButtonRe.ReplaceAllString(rest, "")
	}
	b.Text = strings.TrimSpace(rest)
	return b
}

// FormatContent is the inverse of ParseBody.
func FormatContent(b Body) string {
	var sb strings.Builder
	if b.Reply != nil {
		sb.WriteString("[reply:@")
		sb.WriteString(markerSafe(b.Reply.Author, true))
		sb.WriteString("|")
		sb.WriteString(markerSafe(b.Reply.Snippet, false))
		sb.WriteString("]\n")
	}
	sb.WriteString(strings.TrimSpace(b.Text))
	if b.RoomAction != nil && strings.TrimSpace(b.RoomAction.Room) != "" {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString("[ROOM_BUTTON:")
		sb.WriteString(markerSafe(b.RoomAction.Room, true))
		if p := strings.TrimSpace(b.RoomAction.PatientID); p != "" {
			sb.WriteString(":")
			sb.WriteString(markerSafe(p, true))
		}
		sb.WriteString("]")
	}
	return sb.String()
}

// QuoteReply builds the reply reference for quoting content written by
// author. Any reply marker or room button already inside content is
// dropped so quotes never nest.
func QuoteReply(author, content string) Reply {
	text := ParseBody(content).Text
	text = strings.Join(strings.Fields(text), " ")
	return Reply{
		Author:  markerSafe(author, true),
		Snippet: truncateRunes(markerSafe(text, false), SnippetMaxRunes),
	}
}

// markerSafe removes characters that would terminate a directive early.
func markerSafe(s string, strictName bool) string {
	r := strings.NewReplacer("]", ")", "[", "(", "\n", " ", "\r", "")
	s = r.Replace(s)
	if strictName {
		s = strings.NewReplacer("|", "/", ":", " ").Replace(s)
	}
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
