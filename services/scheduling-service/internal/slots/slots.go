// Package slots owns veterinarian time slots and their availability.
package slots

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

type Store struct {
	repo storage.SlotRepository
	dir  storage.Directory
}

func NewStore(repo storage.SlotRepository, dir storage.Directory) *Store {
	return &Store{repo: repo, dir: dir}
}

type CreateInput struct {
	VeterinarianID string
	Date           model.Date
	StartTime      model.Clock
	EndTime        model.Clock
}

// Create adds an available slot. Slots of one veterinarian may not share a
// start time on the same date, and may not overlap.
func (s *Store) Create(ctx context.Context, actor authz.Actor, in CreateInput) (model.TimeSlot, error) {
	if err := authz.Authorize(actor, authz.ManageSlots, authz.Resource{}); err != nil {
		return model.TimeSlot{}, err
	}
	if in.VeterinarianID == "" || in.Date.IsZero() {
		return model.TimeSlot{}, apperr.Validation("veterinarian_id and date are required")
	}
	if !in.StartTime.Valid() || !in.EndTime.Valid() {
		return model.TimeSlot{}, apperr.Validation("start_time and end_time must be valid times of day")
	}
	if in.EndTime <= in.StartTime {
		return model.TimeSlot{}, apperr.Validation("end_time must be after start_time")
	}

	vet, err := s.dir.FindUser(ctx, in.VeterinarianID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.TimeSlot{}, apperr.Validation("veterinarian %s does not exist", in.VeterinarianID)
		}
		return model.TimeSlot{}, fmt.Errorf("find veterinarian: %w", err)
	}
	if vet.Role != model.RoleVeterinarian {
		return model.TimeSlot{}, apperr.Validation("user %s is not a veterinarian", vet.ID)
	}

	sameDay, err := s.repo.ListSlots(ctx, storage.SlotFilter{VeterinarianID: in.VeterinarianID, From: in.Date, To: in.Date})
	if err != nil {
		return model.TimeSlot{}, fmt.Errorf("list slots: %w", err)
	}
	for _, o := range sameDay {
		if o.StartTime == in.StartTime {
			return model.TimeSlot{}, apperr.Conflict("veterinarian already has a slot on %s at %s", in.Date, in.StartTime)
		}
		if overlaps(in.StartTime, in.EndTime, o.StartTime, o.EndTime) {
			return model.TimeSlot{}, apperr.Conflict("slot %s-%s overlaps existing slot %s-%s on %s",
				in.StartTime, in.EndTime, o.StartTime, o.EndTime, in.Date)
		}
	}

	slot := model.TimeSlot{
		ID:             uuid.NewString(),
		VeterinarianID: in.VeterinarianID,
		Date:           in.Date,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		IsAvailable:    true,
	}
	if err := s.repo.CreateSlot(ctx, &slot); err != nil {
		if storage.IsDuplicate(err) {
			return model.TimeSlot{}, apperr.Conflict("veterinarian already has a slot on %s at %s", in.Date, in.StartTime)
		}
		return model.TimeSlot{}, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// overlaps treats slots as half-open intervals [start, end).
func overlaps(aStart, aEnd, bStart, bEnd model.Clock) bool {
	return aStart < bEnd && bStart < aEnd
}

func (s *Store) Get(ctx context.Context, id string) (model.TimeSlot, error) {
	slot, err := s.repo.GetSlot(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.TimeSlot{}, apperr.NotFound("time slot %s not found", id)
		}
		return model.TimeSlot{}, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

// List returns slots matching f ordered by date and start time.
func (s *Store) List(ctx context.Context, f storage.SlotFilter) ([]model.TimeSlot, error) {
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, apperr.Validation("to must not be before from")
	}
	out, err := s.repo.ListSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	if out == nil {
		out = []model.TimeSlot{}
	}
	return out, nil
}

// ListAvailable returns the open slots of one veterinarian between from and
// to inclusive.
func (s *Store) ListAvailable(ctx context.Context, vetID string, from, to model.Date) ([]model.TimeSlot, error) {
	return s.List(ctx, storage.SlotFilter{VeterinarianID: vetID, From: from, To: to, AvailableOnly: true})
}

// SetAvailability is idempotent. Only the booking engine calls it.
func (s *Store) SetAvailability(ctx context.Context, id string, available bool) error {
	if err := s.repo.SetSlotAvailability(ctx, id, available); err != nil {
		if storage.IsNotFound(err) {
			return apperr.NotFound("time slot %s not found", id)
		}
		return fmt.Errorf("set slot availability: %w", err)
	}
	return nil
}

// Claim marks an open slot unavailable. It fails with slot_unavailable when
// another booking got there first.
func (s *Store) Claim(ctx context.Context, id string) error {
	ok, err := s.repo.ClaimSlot(ctx, id)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		return apperr.SlotUnavailable(nil, "time slot %s is no longer available", id)
	}
	return nil
}

type DailyAvailability struct {
	Veterinarian model.User       `json:"-"`
	Date         model.Date       `json:"date"`
	Slots        []model.TimeSlot `json:"available_slots"`
}

// Daily lists one veterinarian's open slots on date.
func (s *Store) Daily(ctx context.Context, vetID string, date model.Date) (DailyAvailability, error) {
	vet, err := s.dir.FindUser(ctx, vetID)
	if err != nil {
		if storage.IsNotFound(err) {
			return DailyAvailability{}, apperr.NotFound("veterinarian %s not found", vetID)
		}
		return DailyAvailability{}, fmt.Errorf("find veterinarian: %w", err)
	}
	if vet.Role != model.RoleVeterinarian {
		return DailyAvailability{}, apperr.NotFound("veterinarian %s not found", vetID)
	}
	open, err := s.ListAvailable(ctx, vetID, date, date)
	if err != nil {
		return DailyAvailability{}, err
	}
	return DailyAvailability{Veterinarian: vet, Date: date, Slots: open}, nil
}
