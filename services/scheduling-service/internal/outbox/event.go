package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	AggregateAppointment = "appointment"
	AggregateTimeSlot    = "time_slot"
)

// Topic names. The Kafka topic equals the event type.
const (
	AppointmentCreated     = "clinic.appointment.created.v1"
	AppointmentConfirmed   = "clinic.appointment.confirmed.v1"
	AppointmentRescheduled = "clinic.appointment.rescheduled.v1"
	AppointmentCancelled   = "clinic.appointment.cancelled.v1"
	AppointmentAttended    = "clinic.appointment.attended.v1"
	AppointmentUpdated     = "clinic.appointment.updated.v1"
	SlotReleased           = "clinic.slot.released.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

// Record is a stored event awaiting publication.
type Record struct {
	ID int64
	Event
	CreatedAt time.Time
}

// NewEvent marshals payload as JSON under a fresh event id.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
