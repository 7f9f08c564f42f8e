package treatment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/roleplay-realtime/internal/chat"
	"github.com/wolfman30/roleplay-realtime/internal/locations"
	"github.com/wolfman30/roleplay-realtime/internal/observability/metrics"
	"github.com/wolfman30/roleplay-realtime/internal/storage"
	"github.com/wolfman30/roleplay-realtime/pkg/logging"
)

// DefaultLocation is where treatments take place.
const DefaultLocation = "hospital"

// AfflictionClearer applies the cure. Calling it twice must be harmless.
type AfflictionClearer interface {
	ClearAffliction(ctx context.Context, patientID string) error
}

// Notifier triggers push broadcasts. It must not block on delivery.
type Notifier interface {
	NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error
}

// Poster writes a system message into a chat channel.
type Poster interface {
	Post(ctx context.Context, ch chat.Channel, authorID, content string) (chat.Message, error)
}

// Result is the outcome of a transition attempt. Applied is false when the
// request was not in the expected source state; the call was a no-op and
// Request holds the current row.
type Result struct {
	Request Request `json:"request"`
	Applied bool    `json:"applied"`
}

// Config wires a Service. Store is required.
type Config struct {
	Store        Store
	Registry     *locations.Registry
	Location     string
	Clearer      AfflictionClearer
	Feed         StatusFeed
	Notifier     Notifier
	Poster       Poster
	StoreTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.RealtimeMetrics
	Now          func() time.Time
}

// Service drives treatment requests through their states.
type Service struct {
	store    Store
	registry *locations.Registry
	location string
	clearer  AfflictionClearer
	feed     StatusFeed
	notifier Notifier
	poster   Poster
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.RealtimeMetrics
	now      func() time.Time
}

// NewService creates a Service. It panics without a Store.
func NewService(cfg Config) *Service {
	if cfg.Store == nil {
		panic("treatment: store required")
	}
	if cfg.Registry == nil {
		cfg.Registry = locations.Default()
	}
	if cfg.Location == "" {
		cfg.Location = DefaultLocation
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:    cfg.Store,
		registry: cfg.Registry,
		location: cfg.Location,
		clearer:  cfg.Clearer,
		feed:     cfg.Feed,
		notifier: cfg.Notifier,
		poster:   cfg.Poster,
		timeout:  cfg.StoreTimeout,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
	}
}

// Location is the location whose rooms host treatments.
func (s *Service) Location() string { return s.location }

func (s *Service) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := storage.Do(ctx, s.timeout, "treatment."+op, fn, ErrNotFound, ErrActiveRequestExists)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrActiveRequestExists) {
		s.metrics.ObserveStoreError("treatment."+op, storage.Kind(err))
	}
	return err
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*Request, error) {
	var r *Request
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var err error
		r, err = s.store.Get(ctx, id)
		return err
	})
	return r, err
}

// Active returns the patient's non-terminal request or ErrNotFound.
func (s *Service) Active(ctx context.Context, patientID string) (*Request, error) {
	var r *Request
	err := s.do(ctx, "active", func(ctx context.Context) error {
		var err error
		r, err = s.store.ActiveForPatient(ctx, patientID)
		return err
	})
	return r, err
}

// Pending lists requests waiting for staff.
func (s *Service) Pending(ctx context.Context, limit int) ([]Request, error) {
	var out []Request
	err := s.do(ctx, "list_pending", func(ctx context.Context) error {
		var err error
		out, err = s.store.ListByStatus(ctx, StatusPending, limit)
		return err
	})
	return out, err
}

// Request opens a pending request for the patient.
func (s *Service) Request(ctx context.Context, in NewRequest) (Request, error) {
	in.PatientID = strings.TrimSpace(in.PatientID)
	if err := in.validate(); err != nil {
		return Request{}, err
	}
	now := s.now()
	r := Request{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		DiseaseID:       in.DiseaseID,
		DiseaseName:     in.DiseaseName,
		Cost:            in.Cost,
		CureTimeMinutes: in.CureTimeMinutes,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.do(ctx, "create", func(ctx context.Context) error { return s.store.Create(ctx, &r) }); err != nil {
		return Request{}, err
	}
	s.metrics.ObserveTransition(string(StatusPending), true)
	s.announce(ctx, r, "Nova consulta", fmt.Sprintf("Pedido de tratamento: %s", r.DiseaseName), r.PatientID)
	return r, nil
}

// Approve moves a pending request to approved and assigns the room the
// patient must enter. Approving anything but a pending request is a no-op.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, staffID, room string) (Result, error) {
	room = chat.NormalizeSubLocation(room)
	if room == chat.MainRoom {
		return Result{}, errors.Join(ErrInvalidRequest, errors.New("required room must be a sub-location"))
	}
	if _, err := s.registry.SubLocation(s.location, room); err != nil {
		return Result{}, err
	}
	now := s.now()
	res, err := s.transition(ctx, id, StatusApproved, func(ctx context.Context) (bool, error) {
		return s.store.Approve(ctx, id, staffID, room, now)
	})
	if err != nil || !res.Applied {
		return res, err
	}
	r := res.Request
	s.announce(ctx, r, "Tratamento aprovado", fmt.Sprintf("Dirija-se à %s para iniciar o tratamento", room), staffID)
	if s.poster != nil {
		content := chat.FormatContent(chat.Body{
			Text:       fmt.Sprintf("Tratamento para %s aprovado. Dirija-se à %s.", r.DiseaseName, room),
			RoomAction: &chat.RoomAction{Room: room, PatientID: r.PatientID},
		})
		if _, err := s.poster.Post(ctx, chat.NewChannel(s.location, ""), chat.DoctorBotUserID, content); err != nil {
			s.logger.Warn("treatment: approval notice not posted", "request_id", r.ID, "error", err)
		}
	}
	return res, nil
}

// Reject closes a pending request. Only pending requests can be rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, staffID string) (Result, error) {
	now := s.now()
	res, err := s.transition(ctx, id, StatusRejected, func(ctx context.Context) (bool, error) {
		return s.store.Reject(ctx, id, now)
	})
	if err == nil && res.Applied {
		s.announce(ctx, res.Request, "Tratamento recusado", res.Request.DiseaseName, staffID)
	}
	return res, err
}

// Cancel withdraws the patient's pending request. Only the owning patient
// may cancel, and only while pending.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, patientID string) (Result, error) {
	current, err := s.get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if current.PatientID != patientID {
		return Result{Request: *current}, nil
	}
	now := s.now()
	res, err := s.transition(ctx, id, StatusCancelled, func(ctx context.Context) (bool, error) {
		return s.store.Cancel(ctx, id, now)
	})
	if err == nil && res.Applied {
		s.publish(ctx, res.Request)
	}
	return res, err
}

// ObserveRoom is called whenever the patient's current room is known (room
// entry, reconnect, render). It starts the timer exactly once: the first
// call that sees the patient in the required room wins the
// approved -> running transition and every later call is a no-op.
func (s *Service) ObserveRoom(ctx context.Context, patientID, location, room string) (Result, error) {
	if location != s.location {
		return Result{}, nil
	}
	active, err := s.Active(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !ShouldStart(*active, room) {
		return Result{Request: *active}, nil
	}
	now := s.now()
	res, err := s.transition(ctx, active.ID, StatusRunning, func(ctx context.Context) (bool, error) {
		return s.store.Start(ctx, active.ID, now)
	})
	if err == nil && res.Applied {
		s.publish(ctx, res.Request)
		s.logger.Info("treatment: timer started", "request_id", res.Request.ID, "patient_id", patientID, "room", room)
	}
	return res, err
}

// Reconcile completes the patient's running request if it is due. It is
// safe to call on every tick or reconnect.
func (s *Service) Reconcile(ctx context.Context, patientID string) (*Request, error) {
	active, err := s.Active(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !Due(*active, s.now()) {
		return active, nil
	}
	res, err := s.complete(ctx, *active)
	if err != nil {
		return nil, err
	}
	return &res.Request, nil
}

// Status reconciles and returns the patient's request evaluated at now.
// The remaining time is recomputed from startedAt on every call, so a
// reconnecting client sees the same countdown as one that never left.
func (s *Service) Status(ctx context.Context, patientID string) (*Snapshot, error) {
	r, err := s.Reconcile(ctx, patientID)
	if err != nil || r == nil {
		return nil, err
	}
	snap := SnapshotAt(*r, s.now())
	return &snap, nil
}

// SweepDue completes every due running request, up to limit per call.
// It returns how many completions this call applied.
func (s *Service) SweepDue(ctx context.Context, limit int) (int, error) {
	var running []Request
	if err := s.do(ctx, "list_running", func(ctx context.Context) error {
		var err error
		running, err = s.store.ListByStatus(ctx, StatusRunning, limit)
		return err
	}); err != nil {
		return 0, err
	}
	now := s.now()
	applied := 0
	var errs []error
	for _, r := range running {
		if !Due(r, now) {
			continue
		}
		res, err := s.complete(ctx, r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Applied {
			applied++
		}
	}
	return applied, errors.Join(errs...)
}

// complete applies the cure, then races running -> completed. The clear
// goes first so a failure leaves the request running for the next tick to
// retry; a racer that loses the transition may clear twice, which the
// clearer tolerates. Only the winner announces.
func (s *Service) complete(ctx context.Context, r Request) (Result, error) {
	if s.clearer != nil {
		if err := s.do(ctx, "clear_affliction", func(ctx context.Context) error {
			return s.clearer.ClearAffliction(ctx, r.PatientID)
		}); err != nil {
			s.logger.Error("treatment: clear affliction failed", "request_id", r.ID, "patient_id", r.PatientID, "error", err)
			return Result{Request: r}, fmt.Errorf("treatment: clear affliction: %w", err)
		}
	}
	now := s.now()
	res, err := s.transition(ctx, r.ID, StatusCompleted, func(ctx context.Context) (bool, error) {
		return s.store.Complete(ctx, r.ID, now)
	})
	if err != nil || !res.Applied {
		return res, err
	}
	s.announce(ctx, res.Request, "Tratamento concluído", res.Request.DiseaseName, chat.DoctorBotUserID)
	return res, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, cas func(ctx context.Context) (bool, error)) (Result, error) {
	var applied bool
	if err := s.do(ctx, string(to), func(ctx context.Context) error {
		var err error
		applied, err = cas(ctx)
		return err
	}); err != nil {
		return Result{}, err
	}
	s.metrics.ObserveTransition(string(to), applied)
	current, err := s.get(ctx, id)
	if err != nil {
		return Result{Applied: applied}, err
	}
	if !applied {
		s.logger.Debug("treatment: transition skipped", "request_id", id, "to", to, "status", current.Status)
	}
	return Result{Request: *current, Applied: applied}, nil
}

func (s *Service) publish(ctx context.Context, r Request) {
	if s.feed == nil {
		return
	}
	if err := s.do(ctx, "publish", func(ctx context.Context) error { return s.feed.PublishStatus(ctx, r) }); err != nil {
		s.logger.Warn("treatment: status publish failed", "request_id", r.ID, "error", err)
	}
}

func (s *Service) announce(ctx context.Context, r Request, title, body, senderID string) {
	s.publish(ctx, r)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyExcept(ctx, senderID, title, body, s.location); err != nil {
		s.logger.Warn("treatment: notify failed", "request_id", r.ID, "error", err)
	}
}
