package handler

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
	"agendamento-api/internal/service"
	"agendamento-api/internal/store"
)

type appointmentResponse struct {
	ID              string    `json:"id"`
	WorkerID        string    `json:"worker_id"`
	ApplicationID   string    `json:"application_id"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toResponse(a *model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID,
		WorkerID:        a.WorkerID,
		ApplicationID:   a.ApplicationID,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		CreatedBy:       a.CreatedBy,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func toResponses(as []model.Appointment) []appointmentResponse {
	out := make([]appointmentResponse, len(as))
	for i := range as {
		out[i] = toResponse(&as[i])
	}
	return out
}

type createRequest struct {
	WorkerID        string    `json:"worker_id" validate:"required,uuid"`
	ApplicationID   string    `json:"application_id" validate:"required,uuid"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"required,gt=0"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.svc.Create(r.Context(), p, service.CreateInput{
		WorkerID:        req.WorkerID,
		ApplicationID:   req.ApplicationID,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(a))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Get(r.Context(), p, ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

type updateRequest struct {
	StartTime       *time.Time `json:"start_time"`
	DurationMinutes *int       `json:"duration_minutes" validate:"omitempty,gt=0"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.StartTime == nil && req.DurationMinutes == nil {
		h.writeError(w, r, apperr.Validation("nothing to update"))
		return
	}
	a, err := h.svc.Update(r.Context(), p, ps.ByName("id"), service.UpdateInput{
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Cancel(r.Context(), p, ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	a, err := h.svc.Complete(r.Context(), p, ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) listForWorker(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	workerID := p.UserID
	if v := r.URL.Query().Get("assistente_id"); v != "" {
		workerID = v
	}
	f, err := parseListFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	as, err := h.svc.ListForWorker(r.Context(), p, workerID, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toResponses(as)})
}

func (h *Handler) listForCandidate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	f, err := parseListFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	as, err := h.svc.ListForCandidate(r.Context(), p, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toResponses(as)})
}

// GET /agendamentos/horarios-disponiveis?assistente_id=&inicio=&fim=
func (h *Handler) freeSlots(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	workerID := q.Get("assistente_id")
	if workerID == "" {
		h.writeError(w, r, apperr.Validation("assistente_id is required"))
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("inicio"))
	if err != nil {
		h.writeError(w, r, apperr.Validation("inicio must be an RFC3339 timestamp"))
		return
	}
	to := from.AddDate(0, 0, 7)
	if v := q.Get("fim"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, apperr.Validation("fim must be an RFC3339 timestamp"))
			return
		}
	}
	if !to.After(from) {
		h.writeError(w, r, apperr.Validation("fim must be after inicio"))
		return
	}
	slots, err := h.svc.FreeSlots(r.Context(), p, workerID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	var f store.ListFilter
	q := r.URL.Query()
	if v := q.Get("inicio"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.Validation("inicio must be an RFC3339 timestamp")
		}
		f.From = t
	}
	if v := q.Get("fim"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, apperr.Validation("fim must be an RFC3339 timestamp")
		}
		f.To = t
	}
	switch v := q.Get("status"); v {
	case "", "scheduled", "completed", "cancelled":
		f.Status = model.AppointmentStatus(v)
	default:
		return f, apperr.Validation("unknown status %q", v)
	}
	// historical views read newest first
	f.Desc = q.Get("ordem") == "desc"
	return f, nil
}
