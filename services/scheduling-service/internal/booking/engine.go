// Package booking is the scheduling engine: it reserves slots, moves and
// cancels appointments and suggests alternative veterinarians.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/waitlist"
)

// Repository is the storage the engine needs.
type Repository interface {
	storage.Transactor
	storage.SlotRepository
	storage.AppointmentRepository
	storage.Directory
	outbox.Store
}

// Notifier hears about availability changes after they commit.
type Notifier interface {
	SlotsChanged(ctx context.Context, changes []model.SlotChange)
}

// Notifiers fans one change set out to several listeners.
type Notifiers []Notifier

func (ns Notifiers) SlotsChanged(ctx context.Context, changes []model.SlotChange) {
	for _, n := range ns {
		if n != nil {
			n.SlotsChanged(ctx, changes)
		}
	}
}

type Engine struct {
	repo     Repository
	slots    *slots.Store
	waitlist *waitlist.Selector
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Engine)

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(repo Repository, slotStore *slots.Store, selector *waitlist.Selector, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		slots:    slotStore,
		waitlist: selector,
		logger:   logger,
		tracer:   otel.Tracer("scheduling-service/booking"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := e.tracer.Start(ctx, "booking."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		err := *errp
		observe(op, err)
		if err != nil {
			span.SetAttributes(attribute.String("error.kind", string(apperr.KindOf(err))))
			if apperr.KindOf(err) == apperr.KindInternal {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}
		span.End()
	}
}

// appointmentChanges reports the (vet, date) whose calendar shows a. An
// appointment without a veterinarian appears on no calendar.
func appointmentChanges(a model.Appointment, kind string) []model.SlotChange {
	if a.VeterinarianID == "" || a.Date.IsZero() {
		return nil
	}
	return []model.SlotChange{{
		VeterinarianID: a.VeterinarianID,
		Date:           a.Date,
		Kind:           kind,
		SlotID:         a.TimeSlotID,
		AppointmentID:  a.ID,
	}}
}

func (e *Engine) notify(ctx context.Context, changes ...model.SlotChange) {
	if e.notifier == nil || len(changes) == 0 {
		return
	}
	e.notifier.SlotsChanged(ctx, changes)
}

func (e *Engine) appendEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	evt, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	return outbox.Append(ctx, e.repo, evt)
}

type CreateInput struct {
	PetID          string
	ClientID       string
	VeterinarianID string
	TimeSlotID     string
	Date           model.Date
	Time           model.Clock
	Reason         string
	Notes          string
}

// CreateAppointment books a PENDING appointment. When a slot is given its
// date and start time win over the caller's, and the slot is claimed in the
// same transaction as the insert.
func (e *Engine) CreateAppointment(ctx context.Context, actor authz.Actor, in CreateInput) (appt model.Appointment, err error) {
	ctx, finish := e.start(ctx, "create", attribute.String("slot_id", in.TimeSlotID))
	defer finish(&err)

	if in.ClientID == "" && actor.Role == model.RoleClient {
		in.ClientID = actor.ID
	}
	if err := authz.Authorize(actor, authz.CreateAppointment, authz.Resource{ClientID: in.ClientID}); err != nil {
		return model.Appointment{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.PetID == "" || in.ClientID == "" {
		return model.Appointment{}, apperr.Validation("pet_id and client_id are required")
	}
	if in.Reason == "" {
		return model.Appointment{}, apperr.Validation("reason is required")
	}
	if in.TimeSlotID == "" && (in.Date.IsZero() || !in.Time.Valid()) {
		return model.Appointment{}, apperr.Validation("appointment_date and appointment_time are required without a time slot")
	}

	if _, err := e.clientOwningPet(ctx, in.ClientID, in.PetID); err != nil {
		return model.Appointment{}, err
	}
	if in.VeterinarianID != "" {
		if _, err := e.veterinarian(ctx, in.VeterinarianID); err != nil {
			return model.Appointment{}, err
		}
	}

	appt = model.Appointment{
		ID:             uuid.NewString(),
		PetID:          in.PetID,
		ClientID:       in.ClientID,
		VeterinarianID: in.VeterinarianID,
		Date:           in.Date,
		Time:           in.Time,
		Reason:         in.Reason,
		Status:         model.StatusPending,
		Notes:          in.Notes,
		CreatedBy:      actor.ID,
	}

	err = e.repo.InTx(ctx, func(ctx context.Context) error {
		if in.TimeSlotID != "" {
			slot, err := e.slots.Get(ctx, in.TimeSlotID)
			if err != nil {
				return err
			}
			if appt.VeterinarianID != "" && appt.VeterinarianID != slot.VeterinarianID {
				return apperr.Validation("time slot %s belongs to another veterinarian", slot.ID)
			}
			if err := e.claim(ctx, slot); err != nil {
				return err
			}
			appt.VeterinarianID = slot.VeterinarianID
			appt.TimeSlotID = slot.ID
			appt.Date = slot.Date
			appt.Time = slot.StartTime
		}

		if err := e.repo.CreateAppointment(ctx, &appt); err != nil {
			if storage.IsDuplicate(err) && appt.TimeSlotID != "" {
				return &slotLost{date: appt.Date, at: appt.Time, vetID: appt.VeterinarianID}
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
		return e.appendEvent(ctx, outbox.AggregateAppointment, appt.ID, outbox.AppointmentCreated, appointmentEvent(appt, actor))
	})
	if err != nil {
		err = e.withAlternatives(ctx, err)
		e.logger.Info("appointment not created", "slot_id", in.TimeSlotID, "kind", apperr.KindOf(err), "err", err)
		return model.Appointment{}, err
	}

	e.logger.Info("appointment created", "appointment_id", appt.ID, "slot_id", appt.TimeSlotID, "veterinarian_id", appt.VeterinarianID)
	e.notify(ctx, appointmentChanges(appt, "booked")...)
	return appt, nil
}

// slotLost carries a lost claim out of the transaction so alternatives are
// looked up after rollback.
type slotLost struct {
	date  model.Date
	at    model.Clock
	vetID string
}

func (l *slotLost) Error() string {
	return fmt.Sprintf("slot for %s at %s %s was taken", l.vetID, l.date, l.at)
}

func (e *Engine) claim(ctx context.Context, slot model.TimeSlot) error {
	if err := e.slots.Claim(ctx, slot.ID); err != nil {
		if apperr.Is(err, apperr.KindSlotUnavailable) {
			return &slotLost{date: slot.Date, at: slot.StartTime, vetID: slot.VeterinarianID}
		}
		return err
	}
	return nil
}

// withAlternatives turns a lost claim into slot_unavailable listing the
// veterinarians still open at the same moment.
func (e *Engine) withAlternatives(ctx context.Context, err error) error {
	var lost *slotLost
	if !errors.As(err, &lost) {
		return err
	}
	alts, altErr := e.FindAlternatives(ctx, lost.date, lost.at, lost.vetID)
	if altErr != nil {
		return altErr
	}
	return apperr.SlotUnavailable(alts, "this time is no longer available with the selected veterinarian")
}

// FindAlternatives lists active veterinarians other than excludedVetID with
// an open slot starting exactly at date and at.
func (e *Engine) FindAlternatives(ctx context.Context, date model.Date, at model.Clock, excludedVetID string) ([]model.AlternativeVeterinarian, error) {
	vets, err := e.repo.UsersByRole(ctx, model.RoleVeterinarian, true)
	if err != nil {
		return nil, fmt.Errorf("list veterinarians: %w", err)
	}
	alts := []model.AlternativeVeterinarian{}
	for _, vet := range vets {
		if vet.ID == excludedVetID {
			continue
		}
		open, err := e.repo.ListSlots(ctx, storage.SlotFilter{
			VeterinarianID: vet.ID,
			From:           date,
			To:             date,
			StartTime:      &at,
			AvailableOnly:  true,
		})
		if err != nil {
			return nil, fmt.Errorf("list slots for %s: %w", vet.ID, err)
		}
		if len(open) == 0 {
			continue
		}
		alts = append(alts, model.AlternativeVeterinarian{
			VeterinarianID: vet.ID,
			Name:           vet.FullName(),
			Email:          vet.Email,
			SlotID:         open[0].ID,
		})
	}
	return alts, nil
}

type RescheduleInput struct {
	NewDate           model.Date
	NewTime           model.Clock
	NewVeterinarianID string
	NewTimeSlotID     string
	Reason            string
}

// RescheduleAppointment moves the appointment in place. The old slot is
// released and a new slot, when given, is claimed; both happen or neither.
func (e *Engine) RescheduleAppointment(ctx context.Context, actor authz.Actor, id string, in RescheduleInput) (appt model.Appointment, err error) {
	ctx, finish := e.start(ctx, "reschedule", attribute.String("appointment_id", id), attribute.String("slot_id", in.NewTimeSlotID))
	defer finish(&err)

	if in.NewTimeSlotID == "" && (in.NewDate.IsZero() || !in.NewTime.Valid()) {
		return model.Appointment{}, apperr.Validation("new_date and new_time are required without a new time slot")
	}

	var (
		prev    model.Appointment
		changes []model.SlotChange
	)
	err = e.repo.InTx(ctx, func(ctx context.Context) error {
		cur, err := e.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.Authorize(actor, authz.RescheduleAppointment, authz.Resource{ClientID: cur.ClientID}); err != nil {
			return err
		}
		next, err := Transition(cur.Status, ActionReschedule)
		if err != nil {
			return err
		}
		prev, appt = cur, cur
		changes = nil

		if cur.TimeSlotID != "" {
			released, err := e.release(ctx, cur.TimeSlotID)
			if err != nil {
				return err
			}
			changes = append(changes, model.SlotChange{VeterinarianID: released.VeterinarianID, Date: released.Date, Kind: "released", SlotID: released.ID, AppointmentID: cur.ID})
			if err := e.appendEvent(ctx, outbox.AggregateTimeSlot, released.ID, outbox.SlotReleased, slotReleasedEvent(released, cur.ID, "rescheduled", nil)); err != nil {
				return err
			}
			appt.TimeSlotID = ""
		} else {
			changes = append(changes, appointmentChanges(cur, "moved")...)
		}

		vetID := cur.VeterinarianID
		if in.NewVeterinarianID != "" {
			if _, err := e.veterinarian(ctx, in.NewVeterinarianID); err != nil {
				return err
			}
			vetID = in.NewVeterinarianID
		}
		appt.Date, appt.Time = in.NewDate, in.NewTime

		if in.NewTimeSlotID != "" {
			slot, err := e.slots.Get(ctx, in.NewTimeSlotID)
			if err != nil {
				return err
			}
			if in.NewVeterinarianID != "" && in.NewVeterinarianID != slot.VeterinarianID {
				return apperr.Validation("time slot %s belongs to another veterinarian", slot.ID)
			}
			if err := e.claim(ctx, slot); err != nil {
				return err
			}
			vetID = slot.VeterinarianID
			appt.TimeSlotID = slot.ID
			appt.Date, appt.Time = slot.Date, slot.StartTime
			changes = append(changes, model.SlotChange{VeterinarianID: slot.VeterinarianID, Date: slot.Date, Kind: "booked", SlotID: slot.ID, AppointmentID: cur.ID})
		}
		appt.VeterinarianID = vetID
		appt.Status = next
		if appt.TimeSlotID == "" {
			changes = append(changes, appointmentChanges(appt, "moved")...)
		}

		rec := model.RescheduleRecord{
			ID:                 uuid.NewString(),
			AppointmentID:      cur.ID,
			FromDate:           prev.Date,
			FromTime:           prev.Time,
			FromVeterinarianID: prev.VeterinarianID,
			FromSlotID:         prev.TimeSlotID,
			ToDate:             appt.Date,
			ToTime:             appt.Time,
			ToVeterinarianID:   appt.VeterinarianID,
			ToSlotID:           appt.TimeSlotID,
			Reason:             strings.TrimSpace(in.Reason),
			ActorID:            actor.ID,
		}
		if err := e.repo.CreateRescheduleRecord(ctx, &rec); err != nil {
			return fmt.Errorf("insert reschedule record: %w", err)
		}
		appt.RescheduledFromID = rec.ID
		appt.ReceptionistNotes = appendNote(appt.ReceptionistNotes, e.rescheduleNote(ctx, prev, appt, rec.Reason))

		if err := e.repo.UpdateAppointment(ctx, &appt); err != nil {
			if storage.IsDuplicate(err) {
				return &slotLost{date: appt.Date, at: appt.Time, vetID: appt.VeterinarianID}
			}
			return fmt.Errorf("update appointment: %w", err)
		}
		return e.appendEvent(ctx, outbox.AggregateAppointment, appt.ID, outbox.AppointmentRescheduled, rescheduledEvent(appt, rec))
	})
	if err != nil {
		return model.Appointment{}, e.withAlternatives(ctx, err)
	}

	e.logger.Info("appointment rescheduled", "appointment_id", appt.ID, "from_slot_id", prev.TimeSlotID, "slot_id", appt.TimeSlotID)
	e.notify(ctx, changes...)
	return appt, nil
}

// FreedSlot describes a slot returned to the pool by a cancellation.
type FreedSlot struct {
	SlotID           string      `json:"slot_id"`
	Date             model.Date  `json:"date"`
	StartTime        model.Clock `json:"start_time"`
	EndTime          model.Clock `json:"end_time"`
	VeterinarianID   string      `json:"veterinarian_id"`
	VeterinarianName string      `json:"veterinarian_name"`
}

type ClientSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PetSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Species string `json:"species"`
}

type CancelResult struct {
	Message        string                   `json:"message"`
	Appointment    model.Appointment        `json:"appointment"`
	Client         ClientSummary            `json:"client"`
	Pet            PetSummary               `json:"pet"`
	FreedSlot      *FreedSlot               `json:"freed_slot"`
	CandidateCount int                      `json:"waiting_list_count"`
	Candidates     []model.WaitingListEntry `json:"waiting_list_clients"`
}

// CancelAppointment releases the bound slot and surfaces the top waiting
// list candidates. Nobody is notified or assigned.
func (e *Engine) CancelAppointment(ctx context.Context, actor authz.Actor, id string) (res CancelResult, err error) {
	ctx, finish := e.start(ctx, "cancel", attribute.String("appointment_id", id))
	defer finish(&err)

	var changes []model.SlotChange
	err = e.repo.InTx(ctx, func(ctx context.Context) error {
		appt, err := e.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.Authorize(actor, authz.CancelAppointment, authz.Resource{ClientID: appt.ClientID}); err != nil {
			return err
		}
		next, err := Transition(appt.Status, ActionCancel)
		if err != nil {
			return err
		}

		candidates, err := e.waitlist.TopCandidates(ctx, waitlist.DefaultCandidateLimit)
		if err != nil {
			return err
		}
		res = CancelResult{Candidates: candidates, CandidateCount: len(candidates)}
		changes = nil

		if appt.TimeSlotID != "" {
			slot, err := e.release(ctx, appt.TimeSlotID)
			if err != nil {
				return err
			}
			res.FreedSlot = &FreedSlot{
				SlotID:           slot.ID,
				Date:             slot.Date,
				StartTime:        slot.StartTime,
				EndTime:          slot.EndTime,
				VeterinarianID:   slot.VeterinarianID,
				VeterinarianName: e.userName(ctx, slot.VeterinarianID),
			}
			changes = append(changes, model.SlotChange{VeterinarianID: slot.VeterinarianID, Date: slot.Date, Kind: "released", SlotID: slot.ID, AppointmentID: appt.ID})
			if err := e.appendEvent(ctx, outbox.AggregateTimeSlot, slot.ID, outbox.SlotReleased, slotReleasedEvent(slot, appt.ID, "cancelled", candidates)); err != nil {
				return err
			}
			appt.TimeSlotID = ""
		} else {
			changes = append(changes, appointmentChanges(appt, "cancelled")...)
		}

		appt.Status = next
		appt.ReceptionistNotes = appendNote(appt.ReceptionistNotes,
			fmt.Sprintf("Cancelled on %s by %s", e.now().Format(noteTimeLayout), e.actorName(ctx, actor)))
		if err := e.repo.UpdateAppointment(ctx, &appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		res.Appointment = appt
		return e.appendEvent(ctx, outbox.AggregateAppointment, appt.ID, outbox.AppointmentCancelled, appointmentEvent(appt, actor))
	})
	if err != nil {
		return CancelResult{}, err
	}

	res.Message = "appointment cancelled"
	res.Client, res.Pet = e.parties(ctx, res.Appointment)
	e.logger.Info("appointment cancelled", "appointment_id", id, "freed_slot", res.FreedSlot != nil, "candidates", res.CandidateCount)
	e.notify(ctx, changes...)
	return res, nil
}

// AttendAppointment is reserved for the assigned veterinarian and has no slot
// side effects.
func (e *Engine) AttendAppointment(ctx context.Context, actor authz.Actor, id string) (appt model.Appointment, err error) {
	ctx, finish := e.start(ctx, "attend", attribute.String("appointment_id", id))
	defer finish(&err)

	err = e.repo.InTx(ctx, func(ctx context.Context) error {
		cur, err := e.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.Authorize(actor, authz.AttendAppointment, authz.Resource{VeterinarianID: cur.VeterinarianID}); err != nil {
			return err
		}
		next, err := Transition(cur.Status, ActionAttend)
		if err != nil {
			return err
		}
		cur.Status = next
		if err := e.repo.UpdateAppointment(ctx, &cur); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		appt = cur
		return e.appendEvent(ctx, outbox.AggregateAppointment, appt.ID, outbox.AppointmentAttended, appointmentEvent(appt, actor))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	e.logger.Info("appointment attended", "appointment_id", appt.ID, "veterinarian_id", actor.ID)
	e.notify(ctx, appointmentChanges(appt, "status")...)
	return appt, nil
}

// ConfirmAppointment records the client's confirmation.
func (e *Engine) ConfirmAppointment(ctx context.Context, actor authz.Actor, id string, confirmed24h bool) (appt model.Appointment, err error) {
	ctx, finish := e.start(ctx, "confirm", attribute.String("appointment_id", id))
	defer finish(&err)

	err = e.repo.InTx(ctx, func(ctx context.Context) error {
		cur, err := e.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.Authorize(actor, authz.ConfirmAppointment, authz.Resource{ClientID: cur.ClientID}); err != nil {
			return err
		}
		next, err := Transition(cur.Status, ActionConfirm)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		cur.Status = next
		cur.Confirmed24h = confirmed24h
		cur.ConfirmationDate = &now
		if err := e.repo.UpdateAppointment(ctx, &cur); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		appt = cur
		return e.appendEvent(ctx, outbox.AggregateAppointment, appt.ID, outbox.AppointmentConfirmed, appointmentEvent(appt, actor))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	e.logger.Info("appointment confirmed", "appointment_id", appt.ID)
	e.notify(ctx, appointmentChanges(appt, "status")...)
	return appt, nil
}

// NotesInput holds the note fields to overwrite. Nil fields are kept.
type NotesInput struct {
	Notes             *string
	ReceptionistNotes *string
}

// UpdateNotes edits free text on an appointment. Receptionists may set both
// fields; the owning client only notes. Status, slot and time are untouched.
func (e *Engine) UpdateNotes(ctx context.Context, actor authz.Actor, id string, in NotesInput) (appt model.Appointment, err error) {
	ctx, finish := e.start(ctx, "update_notes", attribute.String("appointment_id", id))
	defer finish(&err)

	if in.Notes == nil && in.ReceptionistNotes == nil {
		return model.Appointment{}, apperr.Validation("notes or receptionist_notes is required")
	}
	if in.ReceptionistNotes != nil && actor.Role != model.RoleReceptionist {
		return model.Appointment{}, apperr.Permission("only receptionists can edit receptionist_notes")
	}

	err = e.repo.InTx(ctx, func(ctx context.Context) error {
		cur, err := e.lockAppointment(ctx, id)
		if err != nil {
			return err
		}
		if err := authz.Authorize(actor, authz.EditAppointment, authz.Resource{ClientID: cur.ClientID}); err != nil {
			return err
		}
		if in.Notes != nil {
			cur.Notes = strings.TrimSpace(*in.Notes)
		}
		if in.ReceptionistNotes != nil {
			cur.ReceptionistNotes = strings.TrimSpace(*in.ReceptionistNotes)
		}
		if err := e.repo.UpdateAppointment(ctx, &cur); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		appt = cur
		return e.appendEvent(ctx, outbox.AggregateAppointment, appt.ID, outbox.AppointmentUpdated, appointmentEvent(appt, actor))
	})
	if err != nil {
		return model.Appointment{}, err
	}
	e.logger.Info("appointment notes updated", "appointment_id", appt.ID, "actor_role", actor.Role)
	return appt, nil
}

// GetAppointment hides appointments the actor may not see behind not_found.
func (e *Engine) GetAppointment(ctx context.Context, actor authz.Actor, id string) (model.Appointment, error) {
	appt, err := e.repo.GetAppointment(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, apperr.NotFound("appointment %s not found", id)
		}
		return model.Appointment{}, fmt.Errorf("get appointment: %w", err)
	}
	if err := authz.Authorize(actor, authz.ViewAppointment, authz.Resource{ClientID: appt.ClientID, VeterinarianID: appt.VeterinarianID}); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// History returns the structured reschedule trail of one appointment.
func (e *Engine) History(ctx context.Context, actor authz.Actor, id string) ([]model.RescheduleRecord, error) {
	if _, err := e.GetAppointment(ctx, actor, id); err != nil {
		return nil, err
	}
	recs, err := e.repo.ListRescheduleRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list reschedule records: %w", err)
	}
	if recs == nil {
		recs = []model.RescheduleRecord{}
	}
	return recs, nil
}

type ListFilter struct {
	Status         model.Status
	VeterinarianID string
	ClientID       string
	Date           model.Date
	Limit          int
}

// ListAppointments scopes clients to their own appointments and
// veterinarians to their assigned ones.
func (e *Engine) ListAppointments(ctx context.Context, actor authz.Actor, f ListFilter) ([]model.Appointment, error) {
	q := storage.AppointmentFilter{
		ClientID:       f.ClientID,
		VeterinarianID: f.VeterinarianID,
		From:           f.Date,
		To:             f.Date,
		Limit:          f.Limit,
	}
	if f.Status != "" {
		q.Statuses = []model.Status{f.Status}
	}
	switch actor.Role {
	case model.RoleClient:
		q.ClientID = actor.ID
	case model.RoleVeterinarian:
		q.VeterinarianID = actor.ID
	case model.RoleReceptionist:
	default:
		return nil, apperr.Permission("authentication required")
	}
	out, err := e.repo.ListAppointments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if out == nil {
		out = []model.Appointment{}
	}
	return out, nil
}

func (e *Engine) lockAppointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := e.repo.GetAppointmentForUpdate(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, apperr.NotFound("appointment %s not found", id)
		}
		return model.Appointment{}, fmt.Errorf("lock appointment: %w", err)
	}
	return appt, nil
}

func (e *Engine) release(ctx context.Context, slotID string) (model.TimeSlot, error) {
	slot, err := e.slots.Get(ctx, slotID)
	if err != nil {
		return model.TimeSlot{}, err
	}
	if err := e.slots.SetAvailability(ctx, slotID, true); err != nil {
		return model.TimeSlot{}, err
	}
	slot.IsAvailable = true
	return slot, nil
}

func (e *Engine) clientOwningPet(ctx context.Context, clientID, petID string) (model.User, error) {
	client, err := e.repo.FindUser(ctx, clientID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.User{}, apperr.NotFound("client %s not found", clientID)
		}
		return model.User{}, fmt.Errorf("find client: %w", err)
	}
	if client.Role != model.RoleClient {
		return model.User{}, apperr.Validation("user %s is not a client", clientID)
	}
	pet, err := e.repo.FindPet(ctx, petID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.User{}, apperr.NotFound("pet %s not found", petID)
		}
		return model.User{}, fmt.Errorf("find pet: %w", err)
	}
	if pet.OwnerID != client.ID {
		return model.User{}, apperr.Validation("pet does not belong to the selected client")
	}
	return client, nil
}

func (e *Engine) veterinarian(ctx context.Context, id string) (model.User, error) {
	vet, err := e.repo.FindUser(ctx, id)
	if err != nil && !storage.IsNotFound(err) {
		return model.User{}, fmt.Errorf("find veterinarian: %w", err)
	}
	if err != nil || vet.Role != model.RoleVeterinarian {
		return model.User{}, apperr.NotFound("veterinarian %s not found", id)
	}
	return vet, nil
}

// parties summarizes the client and pet of a. Lookup failures leave only the
// ids filled in.
func (e *Engine) parties(ctx context.Context, a model.Appointment) (ClientSummary, PetSummary) {
	client, pet := ClientSummary{ID: a.ClientID}, PetSummary{ID: a.PetID}
	if u, err := e.repo.FindUser(ctx, a.ClientID); err == nil {
		client.Name, client.Email = u.FullName(), u.Email
	} else {
		e.logger.Warn("cancel summary: client lookup failed", "client_id", a.ClientID, "err", err)
	}
	if p, err := e.repo.FindPet(ctx, a.PetID); err == nil {
		pet.Name, pet.Species = p.Name, p.Species
	} else {
		e.logger.Warn("cancel summary: pet lookup failed", "pet_id", a.PetID, "err", err)
	}
	return client, pet
}

func (e *Engine) userName(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	u, err := e.repo.FindUser(ctx, id)
	if err != nil {
		return ""
	}
	return u.FullName()
}

func (e *Engine) actorName(ctx context.Context, actor authz.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	if name := e.userName(ctx, actor.ID); name != "" {
		return name
	}
	return actor.ID
}
