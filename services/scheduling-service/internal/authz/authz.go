// Package authz decides which actor may perform which scheduling operation.
package authz

import (
	"context"

	"github.com/md-rashed-zaman/vetclinic/libs/auth"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
)

// Actor is the caller. The zero Actor is anonymous.
type Actor struct {
	ID   string
	Role model.Role
	Name string
}

func (a Actor) Anonymous() bool { return a.ID == "" }

// FromContext builds the actor from verified token claims, if any.
func FromContext(ctx context.Context) Actor {
	c := auth.ClaimsFromContext(ctx)
	if c == nil {
		return Actor{}
	}
	return Actor{ID: c.Subject, Role: model.Role(c.Role), Name: c.Name}
}

type Capability string

const (
	CreateAppointment     Capability = "create_appointment"
	ConfirmAppointment    Capability = "confirm_appointment"
	RescheduleAppointment Capability = "reschedule_appointment"
	CancelAppointment     Capability = "cancel_appointment"
	AttendAppointment     Capability = "attend_appointment"
	EditAppointment       Capability = "edit_appointment"
	ViewAppointment       Capability = "view_appointment"
	BrowseCalendar        Capability = "browse_calendar"
	ManageSlots           Capability = "manage_slots"
	ManageWaitlist        Capability = "manage_waitlist"
	JoinWaitlist          Capability = "join_waitlist"
)

// Resource names the owners of the thing being acted on. Empty fields are
// not checked.
type Resource struct {
	ClientID       string
	VeterinarianID string
}

// Authorize returns a permission error unless actor holds cap on res.
func Authorize(actor Actor, cap Capability, res Resource) error {
	if cap == BrowseCalendar {
		if actor.Role == model.RoleVeterinarian {
			return apperr.Permission("veterinarians cannot browse the booking calendar, use the assigned agenda")
		}
		return nil
	}
	if actor.Anonymous() {
		return apperr.Permission("authentication required")
	}

	switch cap {
	case CreateAppointment:
		switch actor.Role {
		case model.RoleReceptionist:
			return nil
		case model.RoleClient:
			if res.ClientID == actor.ID {
				return nil
			}
			return apperr.Permission("clients can only book appointments for themselves")
		case model.RoleVeterinarian:
			return apperr.Permission("veterinarians cannot create appointments")
		}
	case ConfirmAppointment, RescheduleAppointment, CancelAppointment, EditAppointment, JoinWaitlist:
		switch actor.Role {
		case model.RoleReceptionist:
			return nil
		case model.RoleClient:
			if res.ClientID == actor.ID {
				return nil
			}
			return apperr.Permission("not allowed to change another client's booking")
		}
	case AttendAppointment:
		if actor.Role != model.RoleVeterinarian {
			return apperr.Permission("only veterinarians can mark appointments as attended")
		}
		if res.VeterinarianID != actor.ID {
			return apperr.Permission("only the assigned veterinarian can attend this appointment")
		}
		return nil
	case ViewAppointment:
		switch actor.Role {
		case model.RoleReceptionist:
			return nil
		case model.RoleClient:
			if res.ClientID == actor.ID {
				return nil
			}
		case model.RoleVeterinarian:
			if res.VeterinarianID == actor.ID {
				return nil
			}
		}
		return apperr.NotFound("appointment not found")
	case ManageSlots, ManageWaitlist:
		if actor.Role == model.RoleReceptionist {
			return nil
		}
	}
	return apperr.Permission("%s is not allowed for role %s", cap, actor.Role)
}
