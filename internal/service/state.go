package service

import (
	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
)

// transitions is the full appointment state machine: scheduled is the
// only non-terminal state.
var transitions = map[model.AppointmentStatus]map[model.AppointmentStatus]bool{
	model.StatusScheduled: {
		model.StatusCompleted: true,
		model.StatusCancelled: true,
	},
}

func checkTransition(from, to model.AppointmentStatus) error {
	if transitions[from][to] {
		return nil
	}
	return apperr.InvalidState("cannot move appointment from %s to %s", from, to)
}
