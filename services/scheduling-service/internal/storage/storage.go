package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// Transactor runs fn in one atomic unit. Repository calls made with the ctx
// passed to fn join that unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type SlotFilter struct {
	VeterinarianID string
	From           model.Date // inclusive, zero means unbounded
	To             model.Date // inclusive, zero means unbounded
	StartTime      *model.Clock
	AvailableOnly  bool
}

type SlotRepository interface {
	CreateSlot(ctx context.Context, slot *model.TimeSlot) error
	GetSlot(ctx context.Context, id string) (model.TimeSlot, error)
	// ListSlots orders by date then start time.
	ListSlots(ctx context.Context, f SlotFilter) ([]model.TimeSlot, error)
	SetSlotAvailability(ctx context.Context, id string, available bool) error
	// ClaimSlot flips an available slot to unavailable and reports whether
	// this call won it.
	ClaimSlot(ctx context.Context, id string) (bool, error)
}

type AppointmentFilter struct {
	ClientID       string
	VeterinarianID string
	Statuses       []model.Status
	From           model.Date
	To             model.Date
	Limit          int
}

type AppointmentRepository interface {
	CreateAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// GetAppointmentForUpdate locks the row until the surrounding
	// transaction ends.
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, appt *model.Appointment) error
	AppointmentBySlot(ctx context.Context, slotID string) (model.Appointment, error)
	// ListAppointments orders by date then time.
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)
	CreateRescheduleRecord(ctx context.Context, rec *model.RescheduleRecord) error
	ListRescheduleRecords(ctx context.Context, appointmentID string) ([]model.RescheduleRecord, error)
}

type WaitingListFilter struct {
	ClientID        string
	ActiveOnly      bool
	UncontactedOnly bool
	Limit           int
}

type WaitingListRepository interface {
	CreateWaitingListEntry(ctx context.Context, e *model.WaitingListEntry) error
	GetWaitingListEntry(ctx context.Context, id string) (model.WaitingListEntry, error)
	UpdateWaitingListEntry(ctx context.Context, e *model.WaitingListEntry) error
	// ListWaitingList orders by priority then created_at.
	ListWaitingList(ctx context.Context, f WaitingListFilter) ([]model.WaitingListEntry, error)
}

// Directory is the read-only view of users and pets.
type Directory interface {
	FindUser(ctx context.Context, id string) (model.User, error)
	UsersByRole(ctx context.Context, role model.Role, activeOnly bool) ([]model.User, error)
	FindPet(ctx context.Context, id string) (model.Pet, error)
}

// Store is everything the scheduling service persists.
type Store interface {
	Transactor
	SlotRepository
	AppointmentRepository
	WaitingListRepository
	Directory
	outbox.Store
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate) || IsUniqueViolation(err)
}
