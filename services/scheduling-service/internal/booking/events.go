package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
)

const noteTimeLayout = "02/01/2006 15:04"

type appointmentPayload struct {
	AppointmentID  string       `json:"appointment_id"`
	PetID          string       `json:"pet_id"`
	ClientID       string       `json:"client_id"`
	VeterinarianID string       `json:"veterinarian_id,omitempty"`
	TimeSlotID     string       `json:"time_slot_id,omitempty"`
	Date           model.Date   `json:"appointment_date"`
	Time           model.Clock  `json:"appointment_time"`
	Status         model.Status `json:"status"`
	Confirmed24h   bool         `json:"confirmed_24h"`
	ActorID        string       `json:"actor_id"`
	ActorRole      model.Role   `json:"actor_role"`
}

func appointmentEvent(a model.Appointment, actor authz.Actor) appointmentPayload {
	return appointmentPayload{
		AppointmentID:  a.ID,
		PetID:          a.PetID,
		ClientID:       a.ClientID,
		VeterinarianID: a.VeterinarianID,
		TimeSlotID:     a.TimeSlotID,
		Date:           a.Date,
		Time:           a.Time,
		Status:         a.Status,
		Confirmed24h:   a.Confirmed24h,
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
	}
}

type rescheduledPayload struct {
	AppointmentID string                 `json:"appointment_id"`
	ClientID      string                 `json:"client_id"`
	Status        model.Status           `json:"status"`
	Record        model.RescheduleRecord `json:"reschedule"`
}

func rescheduledEvent(a model.Appointment, rec model.RescheduleRecord) rescheduledPayload {
	return rescheduledPayload{AppointmentID: a.ID, ClientID: a.ClientID, Status: a.Status, Record: rec}
}

type slotReleasedPayload struct {
	SlotID         string      `json:"slot_id"`
	VeterinarianID string      `json:"veterinarian_id"`
	Date           model.Date  `json:"date"`
	StartTime      model.Clock `json:"start_time"`
	EndTime        model.Clock `json:"end_time"`
	AppointmentID  string      `json:"appointment_id"`
	Cause          string      `json:"cause"`
	// WaitingListIDs are the candidates surfaced for the freed slot, best
	// first. Consumers decide whom to contact.
	WaitingListIDs []string `json:"waiting_list_ids"`
}

func slotReleasedEvent(s model.TimeSlot, appointmentID, cause string, candidates []model.WaitingListEntry) slotReleasedPayload {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return slotReleasedPayload{
		SlotID:         s.ID,
		VeterinarianID: s.VeterinarianID,
		Date:           s.Date,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		AppointmentID:  appointmentID,
		Cause:          cause,
		WaitingListIDs: ids,
	}
}

// appendNote adds line on its own line, never rewriting what is there.
func appendNote(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

func (e *Engine) rescheduleNote(ctx context.Context, from, to model.Appointment, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rescheduled on %s\n", e.now().Format(noteTimeLayout))
	fmt.Fprintf(&b, "From: %s %s%s\n", from.Date, from.Time, e.doctor(ctx, from.VeterinarianID))
	fmt.Fprintf(&b, "To: %s %s%s", to.Date, to.Time, e.doctor(ctx, to.VeterinarianID))
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	return b.String()
}

func (e *Engine) doctor(ctx context.Context, vetID string) string {
	name := e.userName(ctx, vetID)
	if name == "" {
		return ""
	}
	return " - Dr. " + name
}
