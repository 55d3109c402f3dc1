package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"agendamento-api/internal/apperr"
	"agendamento-api/internal/middleware"
	"agendamento-api/internal/model"
	"agendamento-api/internal/service"
)

type Handler struct {
	svc      *service.Service
	validate *validator.Validate
	log      *zap.Logger
}

func New(svc *service.Service, log *zap.Logger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		log:      log,
	}
}

// Routes builds the API router. Auth, rate limiting and logging wrap it
// in main. The static sub-paths of /agendamentos are dispatched inside
// the :id handler because httprouter rejects mixing them with a
// wildcard segment.
func (h *Handler) Routes() http.Handler {
	r := httprouter.New()

	r.HandlerFunc(http.MethodGet, "/agendamentos", h.listForWorker)
	r.HandlerFunc(http.MethodPost, "/agendamentos", h.create)
	r.Handle(http.MethodGet, "/agendamentos/:id", h.getDispatch)
	r.Handle(http.MethodPut, "/agendamentos/:id", h.update)
	r.Handle(http.MethodDelete, "/agendamentos/:id", h.cancel)
	r.Handle(http.MethodPost, "/agendamentos/:id/realizado", h.complete)

	r.Handle(http.MethodGet, "/assistentes/:id/horarios", h.getWorkingHours)
	r.Handle(http.MethodPut, "/assistentes/:id/horarios", h.putWorkingHours)

	return r
}

// getDispatch routes GET /agendamentos/{candidato|horarios-disponiveis|:id}.
func (h *Handler) getDispatch(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("id") {
	case "candidato":
		h.listForCandidate(w, r)
	case "horarios-disponiveis":
		h.freeSlots(w, r)
	default:
		h.get(w, r, ps)
	}
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.Principal(r.Context())
	if !ok {
		// auth middleware should have rejected already
		h.writeError(w, r, apperr.Forbidden("no principal"))
		return model.Principal{}, false
	}
	return p, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, apperr.Validation("malformed request body"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, apperr.Validation("invalid request: %v", err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status, ok := statusFor[code]
	if !ok {
		h.log.Error("internal error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get("X-Request-Id")),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errBody("internal", "internal error"))
		return
	}
	var e *apperr.Error
	msg := "request failed"
	if errors.As(err, &e) {
		msg = e.Message
	}
	writeJSON(w, status, errBody(string(code), msg))
}

var statusFor = map[apperr.Code]int{
	apperr.CodeValidation:   http.StatusBadRequest,
	apperr.CodeForbidden:    http.StatusForbidden,
	apperr.CodeNotFound:     http.StatusNotFound,
	apperr.CodeConflict:     http.StatusConflict,
	apperr.CodeInvalidState: http.StatusUnprocessableEntity,
}

func errBody(code, msg string) map[string]any {
	return map[string]any{"error": map[string]string{"code": code, "message": msg}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
