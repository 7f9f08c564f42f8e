// Package treatment runs the treatment request workflow: patient request,
// staff approval with a required room, a timer that starts when the
// patient walks into that room, and completion against wall-clock time.
package treatment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a treatment request state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

var (
	ErrNotFound = errors.New("treatment: request not found")
	// ErrActiveRequestExists is returned when the patient already has a
	// non-terminal request.
	ErrActiveRequestExists = errors.New("treatment: patient already has an active request")
	// ErrInvalidTransition is reported to callers that asked for a
	// transition the request's current state does not allow.
	ErrInvalidTransition = errors.New("treatment: transition not allowed from current state")
	ErrInvalidRequest    = errors.New("treatment: invalid request")
)

// Request is one treatment request row.
type Request struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       string     `json:"patient_id"`
	DiseaseID       string     `json:"disease_id"`
	DiseaseName     string     `json:"disease_name"`
	Cost            int64      `json:"treatment_cost"`
	CureTimeMinutes int        `json:"cure_time_minutes"`
	Status          Status     `json:"status"`
	RequiredRoom    string     `json:"required_room,omitempty"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CureTime is the treatment duration.
func (r Request) CureTime() time.Duration {
	return time.Duration(r.CureTimeMinutes) * time.Minute
}

// EndsAt is when a started treatment finishes. Zero before start.
func (r Request) EndsAt() time.Time {
	if r.StartedAt == nil {
		return time.Time{}
	}
	return r.StartedAt.Add(r.CureTime())
}

// NewRequest is what a patient submits.
type NewRequest struct {
	PatientID       string `json:"patient_id"`
	DiseaseID       string `json:"disease_id"`
	DiseaseName     string `json:"disease_name"`
	Cost            int64  `json:"treatment_cost"`
	CureTimeMinutes int    `json:"cure_time_minutes"`
}

func (n NewRequest) validate() error {
	switch {
	case n.PatientID == "":
		return errors.Join(ErrInvalidRequest, errors.New("patient_id required"))
	case n.DiseaseID == "":
		return errors.Join(ErrInvalidRequest, errors.New("disease_id required"))
	case n.CureTimeMinutes <= 0:
		return errors.Join(ErrInvalidRequest, errors.New("cure_time_minutes must be positive"))
	case n.Cost < 0:
		return errors.Join(ErrInvalidRequest, errors.New("treatment_cost must not be negative"))
	}
	return nil
}
