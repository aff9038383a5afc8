package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleClient       Role = "CLIENT"
	RoleReceptionist Role = "RECEPTIONIST"
	RoleVeterinarian Role = "VETERINARIAN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleReceptionist, RoleVeterinarian:
		return true
	}
	return false
}

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusConfirmed   Status = "CONFIRMED"
	StatusAttended    Status = "ATTENDED"
	StatusCancelled   Status = "CANCELLED"
	StatusRescheduled Status = "RESCHEDULED"
)

func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusConfirmed, StatusAttended, StatusCancelled, StatusRescheduled:
		return st, true
	}
	return "", false
}

// User is a row of the user directory. The engine never writes it.
type User struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Pet struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Species string `json:"species"`
	OwnerID string `json:"owner_id"`
}

type TimeSlot struct {
	ID             string `json:"id"`
	VeterinarianID string `json:"veterinarian_id"`
	Date           Date   `json:"date"`
	StartTime      Clock  `json:"start_time"`
	EndTime        Clock  `json:"end_time"`
	IsAvailable    bool   `json:"is_available"`
}

type Appointment struct {
	ID                string     `json:"id"`
	PetID             string     `json:"pet_id"`
	ClientID          string     `json:"client_id"`
	VeterinarianID    string     `json:"veterinarian_id,omitempty"`
	TimeSlotID        string     `json:"time_slot_id,omitempty"`
	Date              Date       `json:"appointment_date"`
	Time              Clock      `json:"appointment_time"`
	Reason            string     `json:"reason"`
	Status            Status     `json:"status"`
	Confirmed24h      bool       `json:"confirmed_24h"`
	ConfirmationDate  *time.Time `json:"confirmation_date,omitempty"`
	Notes             string     `json:"notes"`
	ReceptionistNotes string     `json:"receptionist_notes"`
	RescheduledFromID string     `json:"rescheduled_from_id,omitempty"`
	CreatedBy         string     `json:"created_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// RescheduleRecord snapshots one move of an appointment.
type RescheduleRecord struct {
	ID                 string    `json:"id"`
	AppointmentID      string    `json:"appointment_id"`
	FromDate           Date      `json:"from_date"`
	FromTime           Clock     `json:"from_time"`
	FromVeterinarianID string    `json:"from_veterinarian_id,omitempty"`
	FromSlotID         string    `json:"from_slot_id,omitempty"`
	ToDate             Date      `json:"to_date"`
	ToTime             Clock     `json:"to_time"`
	ToVeterinarianID   string    `json:"to_veterinarian_id,omitempty"`
	ToSlotID           string    `json:"to_slot_id,omitempty"`
	Reason             string    `json:"reason"`
	ActorID            string    `json:"actor_id"`
	CreatedAt          time.Time `json:"created_at"`
}

type WaitingListEntry struct {
	ID                      string     `json:"id"`
	ClientID                string     `json:"client_id"`
	PetID                   string     `json:"pet_id"`
	PreferredVeterinarianID string     `json:"preferred_veterinarian_id,omitempty"`
	Reason                  string     `json:"reason"`
	Notes                   string     `json:"notes"`
	IsActive                bool       `json:"is_active"`
	Contacted               bool       `json:"contacted"`
	ContactDate             *time.Time `json:"contact_date,omitempty"`
	Priority                int        `json:"priority"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// AlternativeVeterinarian is a vet with an open slot at the requested date
// and start time.
type AlternativeVeterinarian struct {
	VeterinarianID string `json:"veterinarian_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	SlotID         string `json:"slot_id"`
}

// SlotChange tells listeners that a veterinarian's availability on a date
// moved.
type SlotChange struct {
	VeterinarianID string `json:"veterinarian_id"`
	Date           Date   `json:"date"`
	Kind           string `json:"kind"`
	SlotID         string `json:"slot_id,omitempty"`
	AppointmentID  string `json:"appointment_id,omitempty"`
}
