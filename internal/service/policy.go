package service

import (
	"agendamento-api/internal/apperr"
	"agendamento-api/internal/model"
)

// Action is an operation class the policy gates.
type Action string

const (
	ActionCreate        Action = "create"
	ActionRead          Action = "read"
	ActionUpdate        Action = "update"
	ActionCancel        Action = "cancel"
	ActionComplete      Action = "complete"
	ActionListWorker    Action = "list_worker"
	ActionListCandidate Action = "list_candidate"
	ActionManageHours   Action = "manage_hours"
	ActionQuerySlots    Action = "query_slots"
)

// capabilities is the closed role/action table. Ownership is checked
// separately; this table answers "may this role ever do this at all".
var capabilities = map[model.Role]map[Action]bool{
	model.RoleCandidate: {
		ActionRead:          true,
		ActionCancel:        true,
		ActionListCandidate: true,
		ActionQuerySlots:    true,
	},
	model.RoleSocialWorker: {
		ActionCreate:      true,
		ActionRead:        true,
		ActionUpdate:      true,
		ActionCancel:      true,
		ActionComplete:    true,
		ActionListWorker:  true,
		ActionManageHours: true,
		ActionQuerySlots:  true,
	},
	model.RoleAdmin: {
		ActionCreate:        true,
		ActionRead:          true,
		ActionUpdate:        true,
		ActionCancel:        true,
		ActionComplete:      true,
		ActionListWorker:    true,
		ActionListCandidate: true,
		ActionManageHours:   true,
		ActionQuerySlots:    true,
	},
}

// Allow fails fast with Forbidden before any state is touched.
func Allow(p model.Principal, action Action) error {
	if capabilities[p.Role][action] {
		return nil
	}
	return apperr.Forbidden("role %s may not %s", p.Role, action)
}

// allowOnWorker gates mutations scoped to a worker: social workers act
// only on their own schedule, admins on any.
func allowOnWorker(p model.Principal, action Action, workerID string) error {
	if err := Allow(p, action); err != nil {
		return err
	}
	if p.Role == model.RoleSocialWorker && p.UserID != workerID {
		return apperr.Forbidden("social worker may not act on another worker's appointments")
	}
	return nil
}

// canSee reports read visibility: admins see everything, workers their
// own appointments, candidates those tied to their applications.
func canSee(p model.Principal, a *model.Appointment, candidateID string) bool {
	switch p.Role {
	case model.RoleAdmin:
		return true
	case model.RoleSocialWorker:
		return a.WorkerID == p.UserID
	case model.RoleCandidate:
		return candidateID == p.UserID
	}
	return false
}
