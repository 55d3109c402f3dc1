package handler

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
)

type windowPayload struct {
	Weekday   int    `json:"weekday" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

type workingHoursPayload struct {
	Windows         []windowPayload `json:"windows" validate:"required,dive"`
	SlotMinutes     int             `json:"slot_minutes" validate:"required,gt=0"`
	LeadTimeMinutes int             `json:"lead_time_minutes" validate:"min=0"`
}

func (h *Handler) getWorkingHours(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	cfg, err := h.svc.GetWorkingHours(r.Context(), p, ps.ByName("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := workingHoursPayload{
		SlotMinutes:     cfg.SlotMinutes,
		LeadTimeMinutes: cfg.LeadTimeMinutes,
		Windows:         make([]windowPayload, 0, len(cfg.Windows)),
	}
	for _, win := range cfg.Windows {
		out.Windows = append(out.Windows, windowPayload{
			Weekday:   int(win.Weekday),
			StartTime: win.StartTime,
			EndTime:   win.EndTime,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) putWorkingHours(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req workingHoursPayload
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Windows) == 0 {
		h.writeError(w, r, apperr.Validation("at least one window is required"))
		return
	}
	cfg := &model.WorkingHoursConfig{
		WorkerID:        ps.ByName("id"),
		SlotMinutes:     req.SlotMinutes,
		LeadTimeMinutes: req.LeadTimeMinutes,
	}
	for _, win := range req.Windows {
		cfg.Windows = append(cfg.Windows, model.WeeklyWindow{
			Weekday:   time.Weekday(win.Weekday),
			StartTime: win.StartTime,
			EndTime:   win.EndTime,
		})
	}
	if err := h.svc.PutWorkingHours(r.Context(), p, cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
