package treatment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists requests. Every transition method is a compare-and-set
// on the expected source state and reports whether this call applied it.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	// ActiveForPatient returns the patient's non-terminal request or ErrNotFound.
	ActiveForPatient(ctx context.Context, patientID string) (*Request, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Request, error)

	Approve(ctx context.Context, id uuid.UUID, approvedBy, room string, at time.Time) (bool, error)
	Reject(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Start(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Request)}
}

func (m *MemoryStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.PatientID == r.PatientID && !existing.Status.Terminal() {
			return ErrActiveRequestExists
		}
	}
	cp := *r
	m.byID[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ActiveForPatient(_ context.Context, patientID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.PatientID == patientID && !r.Status.Terminal() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.byID {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// transition applies mutate when guard holds, atomically.
func (m *MemoryStore) transition(id uuid.UUID, guard func(*Request) bool, mutate func(*Request)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if !guard(r) {
		return false, nil
	}
	mutate(r)
	return true, nil
}

func (m *MemoryStore) Approve(_ context.Context, id uuid.UUID, approvedBy, room string, at time.Time) (bool, error) {
	return m.transition(id,
		func(r *Request) bool { return r.Status == StatusPending },
		func(r *Request) {
			r.Status = StatusApproved
			r.ApprovedBy = approvedBy
			r.RequiredRoom = room
			r.ApprovedAt = &at
			r.UpdatedAt = at
		})
}

func (m *MemoryStore) Reject(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.transition(id,
		func(r *Request) bool { return r.Status == StatusPending },
		func(r *Request) { r.Status = StatusRejected; r.UpdatedAt = at })
}

func (m *MemoryStore) Cancel(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.transition(id,
		func(r *Request) bool { return r.Status == StatusPending },
		func(r *Request) { r.Status = StatusCancelled; r.UpdatedAt = at })
}

func (m *MemoryStore) Start(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.transition(id,
		func(r *Request) bool { return r.Status == StatusApproved && r.StartedAt == nil },
		func(r *Request) {
			r.Status = StatusRunning
			r.StartedAt = &at
			r.UpdatedAt = at
		})
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return m.transition(id,
		func(r *Request) bool { return Due(*r, at) },
		func(r *Request) {
			r.Status = StatusCompleted
			r.CompletedAt = &at
			r.UpdatedAt = at
		})
}
