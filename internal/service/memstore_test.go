package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
	"agendamento-api/internal/store"
)

// memStore is an in-memory double for service.Store. A single mutex
// plays the conflict guard's role: the overlap check and insert are one
// critical section, which is exactly the at-most-one property the real
// store gets from its per-worker advisory lock.
type memStore struct {
	mu           sync.Mutex
	appointments map[string]*model.Appointment
	workers      map[string]store.Worker
	applications map[string]model.Application
	hours        map[string]*model.WorkingHoursConfig
}

func newMemStore() *memStore {
	return &memStore{
		appointments: make(map[string]*model.Appointment),
		workers:      make(map[string]store.Worker),
		applications: make(map[string]model.Application),
		hours:        make(map[string]*model.WorkingHoursConfig),
	}
}

func overlaps(a *model.Appointment, start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime())
}

func (m *memStore) CreateAppointment(_ context.Context, a *model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := a.EndTime()
	for _, other := range m.appointments {
		if other.TenantID != a.TenantID || other.Status != model.StatusScheduled {
			continue
		}
		if other.WorkerID == a.WorkerID && overlaps(other, a.StartTime, end) {
			return apperr.Conflict("time range is no longer free")
		}
		if other.ApplicationID == a.ApplicationID {
			return apperr.Conflict("application already has an open appointment")
		}
	}
	cp := *a
	m.appointments[a.ID] = &cp
	return nil
}

func (m *memStore) RescheduleAppointment(_ context.Context, a *model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appointments[a.ID]
	if !ok || cur.TenantID != a.TenantID {
		return apperr.NotFound("appointment not found")
	}
	if cur.Status != model.StatusScheduled {
		return apperr.InvalidState("appointment is not scheduled")
	}
	end := a.EndTime()
	for id, other := range m.appointments {
		if id == a.ID || other.TenantID != a.TenantID || other.Status != model.StatusScheduled {
			continue
		}
		if other.WorkerID == a.WorkerID && overlaps(other, a.StartTime, end) {
			return apperr.Conflict("time range is no longer free")
		}
	}
	cur.StartTime = a.StartTime
	cur.DurationMinutes = a.DurationMinutes
	return nil
}

func (m *memStore) TransitionStatus(_ context.Context, tenantID, id string, from, to model.AppointmentStatus) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return nil, apperr.NotFound("appointment not found")
	}
	if a.Status != from {
		return nil, apperr.InvalidState("appointment is %s, not %s", a.Status, from)
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (m *memStore) GetAppointment(_ context.Context, tenantID, id string) (*model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) list(tenantID string, match func(*model.Appointment) bool, f store.ListFilter) []model.Appointment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.TenantID != tenantID || !match(a) {
			continue
		}
		if !f.From.IsZero() && a.StartTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.StartTime.Before(f.To) {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if f.Desc {
			return out[j].StartTime.Before(out[i].StartTime)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (m *memStore) ListForWorker(_ context.Context, tenantID, workerID string, f store.ListFilter) ([]model.Appointment, error) {
	return m.list(tenantID, func(a *model.Appointment) bool { return a.WorkerID == workerID }, f), nil
}

func (m *memStore) ListForCandidate(_ context.Context, tenantID, candidateID string, f store.ListFilter) ([]model.Appointment, error) {
	return m.list(tenantID, func(a *model.Appointment) bool {
		app, ok := m.applications[a.ApplicationID]
		return ok && app.CandidateID == candidateID
	}, f), nil
}

func (m *memStore) BusyIntervals(_ context.Context, tenantID, workerID string, from, to time.Time) ([]model.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Slot
	for _, a := range m.appointments {
		if a.TenantID != tenantID || a.WorkerID != workerID || a.Status != model.StatusScheduled {
			continue
		}
		if a.StartTime.Before(to) && from.Before(a.EndTime()) {
			out = append(out, model.Slot{Start: a.StartTime, End: a.EndTime()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memStore) GetWorker(_ context.Context, tenantID, id string) (*store.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok || w.TenantID != tenantID {
		return nil, apperr.NotFound("worker not found")
	}
	return &w, nil
}

func (m *memStore) GetApplication(_ context.Context, tenantID, id string) (*model.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.applications[id]
	if !ok || a.TenantID != tenantID {
		return nil, apperr.NotFound("application not found")
	}
	return &a, nil
}

func (m *memStore) GetWorkingHours(_ context.Context, tenantID, workerID string) (*model.WorkingHoursConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.hours[workerID]
	if !ok || cfg.TenantID != tenantID {
		return nil, nil
	}
	cp := *cfg
	return &cp, nil
}

func (m *memStore) PutWorkingHours(_ context.Context, cfg *model.WorkingHoursConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.hours[cfg.WorkerID] = &cp
	return nil
}

// fakeDispatcher records emitted events synchronously.
type fakeDispatcher struct {
	mu     sync.Mutex
	events []model.NotificationEvent
}

func (d *fakeDispatcher) Emit(ev model.NotificationEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

func (d *fakeDispatcher) byKind(kind model.NotificationKind) []model.NotificationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []model.NotificationEvent
	for _, ev := range d.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
