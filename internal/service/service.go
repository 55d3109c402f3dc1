// Package service orchestrates the scheduling core: every operation
// runs policy, then validation, then the conflict-guarded commit, then
// notification side effects, in that order. A denied check fails before
// any state is touched; a failed commit leaves nothing behind.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/availability"
	"agendamento-api/internal/metrics"
	"agendamento-api/internal/model"
	"agendamento-api/internal/store"
)

// Store is the persistence surface the service needs. *store.Store
// implements it; tests use an in-memory double.
type Store interface {
	CreateAppointment(ctx context.Context, a *model.Appointment) error
	RescheduleAppointment(ctx context.Context, a *model.Appointment) error
	TransitionStatus(ctx context.Context, tenantID, id string, from, to model.AppointmentStatus) (*model.Appointment, error)
	GetAppointment(ctx context.Context, tenantID, id string) (*model.Appointment, error)
	ListForWorker(ctx context.Context, tenantID, workerID string, f store.ListFilter) ([]model.Appointment, error)
	ListForCandidate(ctx context.Context, tenantID, candidateID string, f store.ListFilter) ([]model.Appointment, error)
	BusyIntervals(ctx context.Context, tenantID, workerID string, from, to time.Time) ([]model.Slot, error)
	GetWorker(ctx context.Context, tenantID, id string) (*store.Worker, error)
	GetApplication(ctx context.Context, tenantID, id string) (*model.Application, error)
	GetWorkingHours(ctx context.Context, tenantID, workerID string) (*model.WorkingHoursConfig, error)
	PutWorkingHours(ctx context.Context, cfg *model.WorkingHoursConfig) error
}

// Dispatcher delivers notification events out of band; Emit never
// blocks the calling request.
type Dispatcher interface {
	Emit(ev model.NotificationEvent)
}

// SlotCache memoizes free-slot queries. Nil disables caching.
type SlotCache interface {
	Get(ctx context.Context, tenantID, workerID string, from, to time.Time) ([]model.Slot, bool)
	Set(ctx context.Context, tenantID, workerID string, from, to time.Time, slots []model.Slot)
	InvalidateWorker(ctx context.Context, tenantID, workerID string)
}

type Options struct {
	// AllowEarlyComplete permits marking an appointment done before its
	// start time.
	AllowEarlyComplete bool
	Location           *time.Location
	// Now is the clock; defaults to time.Now. Tests pin it.
	Now func() time.Time
}

type Service struct {
	store              Store
	notify             Dispatcher
	cache              SlotCache
	log                *zap.Logger
	loc                *time.Location
	allowEarlyComplete bool
	now                func() time.Time
}

func New(st Store, notify Dispatcher, cache SlotCache, log *zap.Logger, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:              st,
		notify:             notify,
		cache:              cache,
		log:                log,
		loc:                loc,
		allowEarlyComplete: opts.AllowEarlyComplete,
		now:                now,
	}
}

type CreateInput struct {
	WorkerID        string
	ApplicationID   string
	StartTime       time.Time
	DurationMinutes int
}

func (s *Service) Create(ctx context.Context, p model.Principal, in CreateInput) (*model.Appointment, error) {
	if err := allowOnWorker(p, ActionCreate, in.WorkerID); err != nil {
		return nil, err
	}

	if _, err := s.store.GetWorker(ctx, p.TenantID, in.WorkerID); err != nil {
		return nil, err
	}
	app, err := s.store.GetApplication(ctx, p.TenantID, in.ApplicationID)
	if err != nil {
		return nil, err
	}

	if err := s.validateSlot(ctx, p.TenantID, in.WorkerID, in.StartTime, in.DurationMinutes); err != nil {
		return nil, err
	}

	a := &model.Appointment{
		ID:              uuid.New().String(),
		TenantID:        p.TenantID,
		WorkerID:        in.WorkerID,
		ApplicationID:   in.ApplicationID,
		StartTime:       in.StartTime,
		DurationMinutes: in.DurationMinutes,
		Status:          model.StatusScheduled,
		CreatedBy:       p.UserID,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}
	if err := s.store.CreateAppointment(ctx, a); err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			metrics.BookingConflicts.Inc()
		}
		return nil, err
	}
	metrics.BookingsCreated.Inc()
	s.invalidate(ctx, p.TenantID, in.WorkerID)
	s.log.Info("appointment created",
		zap.String("appointment_id", a.ID),
		zap.String("worker_id", a.WorkerID),
		zap.Time("start_time", a.StartTime))

	s.emit(app.CandidateID, model.NotifyAppointmentCreated,
		"Agendamento marcado",
		"Seu atendimento foi agendado para "+a.StartTime.In(s.loc).Format("02/01/2006 15:04")+".",
		"/agendamentos/"+a.ID)
	s.emit(a.WorkerID, model.NotifyAppointmentCreated,
		"Novo agendamento",
		"Atendimento agendado para "+a.StartTime.In(s.loc).Format("02/01/2006 15:04")+".",
		"/agendamentos/"+a.ID)

	return a, nil
}

func (s *Service) Get(ctx context.Context, p model.Principal, id string) (*model.Appointment, error) {
	if err := Allow(p, ActionRead); err != nil {
		return nil, err
	}
	a, err := s.store.GetAppointment(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	candidateID, err := s.candidateOf(ctx, p, a)
	if err != nil {
		return nil, err
	}
	// hide existence from principals outside the appointment
	if !canSee(p, a, candidateID) {
		return nil, apperr.NotFound("appointment not found")
	}
	return a, nil
}

type UpdateInput struct {
	StartTime       *time.Time
	DurationMinutes *int
}

func (s *Service) Update(ctx context.Context, p model.Principal, id string, in UpdateInput) (*model.Appointment, error) {
	if err := Allow(p, ActionUpdate); err != nil {
		return nil, err
	}
	a, err := s.store.GetAppointment(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := allowOnWorker(p, ActionUpdate, a.WorkerID); err != nil {
		return nil, err
	}
	if a.Status != model.StatusScheduled {
		return nil, apperr.InvalidState("only scheduled appointments can be rescheduled")
	}

	if in.StartTime != nil {
		a.StartTime = *in.StartTime
	}
	if in.DurationMinutes != nil {
		a.DurationMinutes = *in.DurationMinutes
	}

	if err := s.validateSlot(ctx, p.TenantID, a.WorkerID, a.StartTime, a.DurationMinutes); err != nil {
		return nil, err
	}
	if err := s.store.RescheduleAppointment(ctx, a); err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			metrics.BookingConflicts.Inc()
		}
		return nil, err
	}
	a.UpdatedAt = s.now()
	s.invalidate(ctx, p.TenantID, a.WorkerID)
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, p model.Principal, id string) (*model.Appointment, error) {
	if err := Allow(p, ActionCancel); err != nil {
		return nil, err
	}
	a, err := s.store.GetAppointment(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	candidateID, err := s.candidateOf(ctx, p, a)
	if err != nil {
		return nil, err
	}
	if p.Role == model.RoleCandidate {
		if candidateID != p.UserID {
			return nil, apperr.NotFound("appointment not found")
		}
	} else if err := allowOnWorker(p, ActionCancel, a.WorkerID); err != nil {
		return nil, err
	}

	if err := checkTransition(a.Status, model.StatusCancelled); err != nil {
		return nil, err
	}
	a, err = s.store.TransitionStatus(ctx, p.TenantID, id, model.StatusScheduled, model.StatusCancelled)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, p.TenantID, a.WorkerID)

	if candidateID == "" {
		if app, err := s.store.GetApplication(ctx, p.TenantID, a.ApplicationID); err == nil {
			candidateID = app.CandidateID
		} else {
			s.log.Warn("cancel: could not resolve candidate for notification",
				zap.String("appointment_id", a.ID), zap.Error(err))
		}
	}
	if candidateID != "" {
		s.emit(candidateID, model.NotifyAppointmentCancelled,
			"Agendamento cancelado",
			"Seu atendimento de "+a.StartTime.In(s.loc).Format("02/01/2006 15:04")+" foi cancelado.",
			"/agendamentos/"+a.ID)
	}
	if p.Role == model.RoleCandidate {
		s.emit(a.WorkerID, model.NotifyAppointmentCancelled,
			"Agendamento cancelado pelo candidato",
			"O atendimento de "+a.StartTime.In(s.loc).Format("02/01/2006 15:04")+" foi cancelado.",
			"/agendamentos/"+a.ID)
	}
	return a, nil
}

func (s *Service) Complete(ctx context.Context, p model.Principal, id string) (*model.Appointment, error) {
	if err := Allow(p, ActionComplete); err != nil {
		return nil, err
	}
	a, err := s.store.GetAppointment(ctx, p.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := allowOnWorker(p, ActionComplete, a.WorkerID); err != nil {
		return nil, err
	}
	if err := checkTransition(a.Status, model.StatusCompleted); err != nil {
		return nil, err
	}
	if !s.allowEarlyComplete && a.StartTime.After(s.now()) {
		return nil, apperr.Validation("appointment has not started yet")
	}

	a, err = s.store.TransitionStatus(ctx, p.TenantID, id, model.StatusScheduled, model.StatusCompleted)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, p.TenantID, a.WorkerID)

	if app, err := s.store.GetApplication(ctx, p.TenantID, a.ApplicationID); err == nil {
		s.emit(app.CandidateID, model.NotifyAppointmentCompleted,
			"Atendimento realizado",
			"Seu atendimento de "+a.StartTime.In(s.loc).Format("02/01/2006 15:04")+" foi registrado como realizado.",
			"/agendamentos/"+a.ID)
	}
	return a, nil
}

func (s *Service) ListForWorker(ctx context.Context, p model.Principal, workerID string, f store.ListFilter) ([]model.Appointment, error) {
	if err := allowOnWorker(p, ActionListWorker, workerID); err != nil {
		return nil, err
	}
	return s.store.ListForWorker(ctx, p.TenantID, workerID, f)
}

func (s *Service) ListForCandidate(ctx context.Context, p model.Principal, f store.ListFilter) ([]model.Appointment, error) {
	if err := Allow(p, ActionListCandidate); err != nil {
		return nil, err
	}
	return s.store.ListForCandidate(ctx, p.TenantID, p.UserID, f)
}

// FreeSlots computes the bookable slots for a worker over [from, to).
// The result is a snapshot: the conflict guard re-validates at commit.
func (s *Service) FreeSlots(ctx context.Context, p model.Principal, workerID string, from, to time.Time) ([]model.Slot, error) {
	if err := Allow(p, ActionQuerySlots); err != nil {
		return nil, err
	}
	if _, err := s.store.GetWorker(ctx, p.TenantID, workerID); err != nil {
		return nil, err
	}
	if s.cache != nil {
		if slots, ok := s.cache.Get(ctx, p.TenantID, workerID, from, to); ok {
			return slots, nil
		}
	}

	cfg, err := s.store.GetWorkingHours(ctx, p.TenantID, workerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, nil
	}
	busy, err := s.store.BusyIntervals(ctx, p.TenantID, workerID, from, to)
	if err != nil {
		return nil, err
	}
	slots, err := availability.FreeSlots(cfg, busy, from, to, s.now(), s.loc)
	if err != nil {
		return nil, apperr.Validation("working hours config is invalid: %v", err)
	}
	if s.cache != nil {
		s.cache.Set(ctx, p.TenantID, workerID, from, to, slots)
	}
	return slots, nil
}

func (s *Service) GetWorkingHours(ctx context.Context, p model.Principal, workerID string) (*model.WorkingHoursConfig, error) {
	if err := allowOnWorker(p, ActionManageHours, workerID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetWorker(ctx, p.TenantID, workerID); err != nil {
		return nil, err
	}
	cfg, err := s.store.GetWorkingHours(ctx, p.TenantID, workerID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &model.WorkingHoursConfig{WorkerID: workerID, TenantID: p.TenantID}, nil
	}
	return cfg, nil
}

func (s *Service) PutWorkingHours(ctx context.Context, p model.Principal, cfg *model.WorkingHoursConfig) error {
	if err := allowOnWorker(p, ActionManageHours, cfg.WorkerID); err != nil {
		return err
	}
	if _, err := s.store.GetWorker(ctx, p.TenantID, cfg.WorkerID); err != nil {
		return err
	}
	if cfg.SlotMinutes <= 0 {
		return apperr.Validation("slot granularity must be positive")
	}
	if cfg.LeadTimeMinutes < 0 {
		return apperr.Validation("lead time cannot be negative")
	}
	for _, w := range cfg.Windows {
		if err := availability.ValidateWindow(w.StartTime, w.EndTime); err != nil {
			return apperr.Validation("invalid window on %s: %v", w.Weekday, err)
		}
	}
	cfg.TenantID = p.TenantID
	if err := s.store.PutWorkingHours(ctx, cfg); err != nil {
		return err
	}
	s.invalidate(ctx, p.TenantID, cfg.WorkerID)
	return nil
}

// validateSlot checks the requested range against working hours and
// lead time only; overlap with other bookings is the conflict guard's
// job at commit time.
func (s *Service) validateSlot(ctx context.Context, tenantID, workerID string, start time.Time, durationMinutes int) error {
	now := s.now()
	if durationMinutes <= 0 {
		return apperr.Validation("duration must be positive")
	}
	if start.Before(now) {
		return apperr.Validation("cannot book in the past")
	}

	cfg, err := s.store.GetWorkingHours(ctx, tenantID, workerID)
	if err != nil {
		return err
	}
	if cfg == nil || len(cfg.Windows) == 0 {
		return apperr.Validation("worker has no working hours configured")
	}
	if durationMinutes%cfg.SlotMinutes != 0 {
		return apperr.Validation("duration must be a multiple of the %d-minute slot", cfg.SlotMinutes)
	}

	dur := time.Duration(durationMinutes) * time.Minute
	windowSlots, err := availability.FreeSlots(cfg, nil, start.Add(-24*time.Hour), start.Add(dur).Add(24*time.Hour), now, s.loc)
	if err != nil {
		return apperr.Validation("working hours config is invalid: %v", err)
	}
	if !availability.Covers(windowSlots, start, dur) {
		return apperr.Validation("requested time does not align with a bookable slot")
	}
	return nil
}

func (s *Service) candidateOf(ctx context.Context, p model.Principal, a *model.Appointment) (string, error) {
	if p.Role != model.RoleCandidate {
		return "", nil
	}
	app, err := s.store.GetApplication(ctx, p.TenantID, a.ApplicationID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return "", nil
		}
		return "", err
	}
	return app.CandidateID, nil
}

func (s *Service) emit(recipientID string, kind model.NotificationKind, title, message, link string) {
	if s.notify == nil {
		return
	}
	s.notify.Emit(model.NotificationEvent{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Kind:        kind,
		Title:       title,
		Message:     message,
		Link:        link,
		CreatedAt:   s.now(),
	})
}

func (s *Service) invalidate(ctx context.Context, tenantID, workerID string) {
	if s.cache != nil {
		s.cache.InvalidateWorker(ctx, tenantID, workerID)
	}
}
