package treatment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
)

func ptr(t time.Time) *time.Time { return &t }

func TestShouldStart(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	approved := Request{Status: StatusApproved, RequiredRoom: "Sala 1"}
	tests := []struct {
		name string
		req  Request
		room string
		want bool
	}{
		{"approved in required room", approved, "Sala 1", true},
		{"normalizes room", approved, " Sala 1 ", true},
		{"wrong room", approved, "Sala 2", false},
		{"main room", approved, "", false},
		{"pending", Request{Status: StatusPending, RequiredRoom: "Sala 1"}, "Sala 1", false},
		{"already started", Request{Status: StatusApproved, RequiredRoom: "Sala 1", StartedAt: ptr(t1)}, "Sala 1", false},
		{"running", Request{Status: StatusRunning, RequiredRoom: "Sala 1", StartedAt: ptr(t1)}, "Sala 1", false},
		{"no room assigned", Request{Status: StatusApproved}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldStart(tt.req, tt.room))
		})
	}
}

func TestRemainingIsDerivedFromWallClock(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := Request{Status: StatusRunning, CureTimeMinutes: 30, StartedAt: ptr(t1)}

	assert.Equal(t, 30*time.Minute, Remaining(r, t1))
	assert.Equal(t, 18*time.Minute, Remaining(r, t1.Add(12*time.Minute)))
	assert.Equal(t, time.Duration(0), Remaining(r, t1.Add(31*time.Minute)))
	// A clock behind startedAt never yields more than the full duration.
	assert.Equal(t, 30*time.Minute, Remaining(r, t1.Add(-time.Minute)))

	waiting := Request{Status: StatusApproved, CureTimeMinutes: 30}
	assert.Equal(t, 30*time.Minute, Remaining(waiting, t1))
	assert.Equal(t, time.Duration(0), Remaining(Request{Status: StatusCompleted, CureTimeMinutes: 30}, t1))
}

func TestProgress(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := Request{Status: StatusRunning, CureTimeMinutes: 10, StartedAt: ptr(t1)}

	assert.Equal(t, 0.0, Progress(Request{Status: StatusApproved, CureTimeMinutes: 10}, t1.Add(time.Hour)))
	assert.Equal(t, 0.0, Progress(r, t1))
	assert.InDelta(t, 0.25, Progress(r, t1.Add(150*time.Second)), 1e-9)
	assert.Equal(t, 1.0, Progress(r, t1.Add(time.Hour)))
	assert.Equal(t, 1.0, Progress(Request{Status: StatusCompleted}, t1))
}

func TestDue(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := Request{Status: StatusRunning, CureTimeMinutes: 5, StartedAt: ptr(t1)}
	assert.False(t, Due(r, t1.Add(4*time.Minute)))
	assert.True(t, Due(r, t1.Add(5*time.Minute)))
	assert.False(t, Due(Request{Status: StatusApproved, CureTimeMinutes: 5}, t1.Add(time.Hour)))
}

func TestRoomButtonActive(t *testing.T) {
	active := &Request{PatientID: "ana", Status: StatusApproved, RequiredRoom: "Sala 1"}
	button := chat.RoomAction{Room: "Sala 1", PatientID: "ana"}

	assert.True(t, RoomButtonActive(active, button, "ana"))
	assert.True(t, RoomButtonActive(active, chat.RoomAction{Room: "Sala 1"}, "ana"))
	assert.False(t, RoomButtonActive(active, button, "beto"), "other viewers")
	assert.False(t, RoomButtonActive(active, chat.RoomAction{Room: "Sala 2"}, "ana"))
	assert.False(t, RoomButtonActive(active, chat.RoomAction{Room: "Sala 1", PatientID: "beto"}, "ana"))
	assert.False(t, RoomButtonActive(nil, button, "ana"))

	running := *active
	running.Status = StatusRunning
	assert.True(t, RoomButtonActive(&running, button, "ana"))

	done := *active
	done.Status = StatusCompleted
	assert.False(t, RoomButtonActive(&done, button, "ana"))
}

func TestSnapshotRoundsSecondsUp(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	r := Request{Status: StatusRunning, CureTimeMinutes: 1, StartedAt: ptr(t1)}
	snap := SnapshotAt(r, t1.Add(500*time.Millisecond))
	assert.Equal(t, int64(60), snap.Seconds)
	assert.Equal(t, 59500*time.Millisecond, snap.Remaining)
}
