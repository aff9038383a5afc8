package booking

import (
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
)

type Action string

const (
	ActionConfirm    Action = "confirm"
	ActionAttend     Action = "attend"
	ActionCancel     Action = "cancel"
	ActionReschedule Action = "reschedule"
)

// transitions lists every legal (status, action) pair. ATTENDED and
// CANCELLED accept nothing.
var transitions = map[model.Status]map[Action]model.Status{
	model.StatusPending: {
		ActionConfirm:    model.StatusConfirmed,
		ActionAttend:     model.StatusAttended,
		ActionCancel:     model.StatusCancelled,
		ActionReschedule: model.StatusRescheduled,
	},
	model.StatusConfirmed: {
		ActionAttend:     model.StatusAttended,
		ActionCancel:     model.StatusCancelled,
		ActionReschedule: model.StatusRescheduled,
	},
	model.StatusRescheduled: {
		ActionConfirm:    model.StatusConfirmed,
		ActionAttend:     model.StatusAttended,
		ActionCancel:     model.StatusCancelled,
		ActionReschedule: model.StatusRescheduled,
	},
}

// Transition returns the status reached by applying action to from.
func Transition(from model.Status, action Action) (model.Status, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	switch from {
	case model.StatusAttended:
		return "", apperr.InvalidState("appointment was already attended")
	case model.StatusCancelled:
		return "", apperr.InvalidState("appointment is cancelled")
	}
	return "", apperr.InvalidState("cannot %s an appointment in status %s", action, from)
}
