package treatment

import (
	"time"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
)

// ShouldStart is the guard for approved -> running: the request is
// approved, has never started, and the patient is now in the required
// room. Evaluating it after the start has been recorded always yields
// false, so repeated room-entry checks cannot restart the timer.
func ShouldStart(r Request, currentRoom string) bool {
	return r.Status == StatusApproved &&
		r.StartedAt == nil &&
		r.RequiredRoom != "" &&
		chat.NormalizeSubLocation(currentRoom) == r.RequiredRoom
}

// Due reports whether a running treatment has reached its end time.
func Due(r Request, now time.Time) bool {
	if r.Status != StatusRunning || r.StartedAt == nil {
		return false
	}
	return !now.Before(r.EndsAt())
}

// Remaining is derived from absolute time only: startedAt + cureTime - now,
// never below zero. Before the start it is the full cure time; after a
// terminal state it is zero.
func Remaining(r Request, now time.Time) time.Duration {
	switch {
	case r.Status.Terminal():
		return 0
	case r.StartedAt == nil:
		return r.CureTime()
	}
	left := r.EndsAt().Sub(now)
	if left < 0 {
		return 0
	}
	if left > r.CureTime() {
		return r.CureTime()
	}
	return left
}

// Progress is 1 - remaining/duration in [0,1]. It stays 0 until the timer
// starts.
func Progress(r Request, now time.Time) float64 {
	if r.Status == StatusCompleted {
		return 1
	}
	if r.Status != StatusRunning || r.StartedAt == nil {
		return 0
	}
	total := r.CureTime()
	if total <= 0 {
		return 1
	}
	p := 1 - float64(Remaining(r, now))/float64(total)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// RoomButtonActive reports whether a room-button directive is actionable
// for viewerID given their active request: the request must be approved or
// running, belong to the viewer, and point at the button's room.
func RoomButtonActive(active *Request, action chat.RoomAction, viewerID string) bool {
	if active == nil {
		return false
	}
	if active.Status != StatusApproved && active.Status != StatusRunning {
		return false
	}
	if active.PatientID != viewerID {
		return false
	}
	if action.PatientID != "" && action.PatientID != active.PatientID {
		return false
	}
	return chat.NormalizeSubLocation(action.Room) == active.RequiredRoom
}

// Snapshot is a request with its time-derived values at a given instant.
type Snapshot struct {
	Request   Request       `json:"request"`
	Remaining time.Duration `json:"remaining_ns"`
	Seconds   int64         `json:"remaining_seconds"`
	Progress  float64       `json:"progress"`
	At        time.Time     `json:"at"`
}

// SnapshotAt evaluates r at now.
func SnapshotAt(r Request, now time.Time) Snapshot {
	rem := Remaining(r, now)
	secs := int64(rem / time.Second)
	if rem%time.Second != 0 {
		secs++
	}
	return Snapshot{Request: r, Remaining: rem, Seconds: secs, Progress: Progress(r, now), At: now}
}
