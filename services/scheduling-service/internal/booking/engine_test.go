package booking_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/clinictest"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/waitlist"
)

const (
	slotAna9   = "a0000000-0000-0000-0000-000000000009"
	slotBruno9 = "b0000000-0000-0000-0000-000000000009"
	slotCarla9 = "c0000000-0000-0000-0000-000000000009"
	slotAna10  = "a0000000-0000-0000-0000-000000000010"
)

type recorder struct {
	mu      sync.Mutex
	changes []model.SlotChange
}

func (r *recorder) SlotsChanged(_ context.Context, changes []model.SlotChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, changes...)
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind+":"+c.SlotID)
	}
	return out
}

type fixture struct {
	clinic *clinictest.Clinic
	engine *booking.Engine
	notes  *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	c := clinictest.New(t)
	rec := &recorder{}
	now := func() time.Time { return time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC) }
	e := booking.NewEngine(
		c.Store,
		slots.NewStore(c.Store, c.Store),
		waitlist.NewSelector(c.Store, c.Store),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		booking.WithNotifier(rec),
		booking.WithClock(now),
	)
	return fixture{clinic: c, engine: e, notes: rec}
}

// nineOClock seeds Ana, Bruno and Carla with 09:00 slots on June 10.
func (f fixture) nineOClock(t *testing.T) {
	t.Helper()
	f.clinic.Slot(t, slotAna9, clinictest.VetAna, clinictest.June10, 9)
	f.clinic.Slot(t, slotBruno9, clinictest.VetBruno, clinictest.June10, 9)
	f.clinic.Slot(t, slotCarla9, clinictest.VetCarla, clinictest.June10, 9)
}

func (f fixture) book(t *testing.T, actor authz.Actor, clientID, petID, slotID string) model.Appointment {
	t.Helper()
	appt, err := f.engine.CreateAppointment(context.Background(), actor, booking.CreateInput{
		PetID:      petID,
		ClientID:   clientID,
		TimeSlotID: slotID,
		Reason:     "vaccination",
	})
	if err != nil {
		t.Fatalf("book %s: %v", slotID, err)
	}
	return appt
}

func slotOpen(t *testing.T, f fixture, id string) bool {
	t.Helper()
	s, err := f.clinic.Store.GetSlot(context.Background(), id)
	if err != nil {
		t.Fatalf("get slot %s: %v", id, err)
	}
	return s.IsAvailable
}

func TestCreateAppointmentBindsSlot(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)

	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	if appt.Status != model.StatusPending {
		t.Fatalf("status = %s, want PENDING", appt.Status)
	}
	if appt.VeterinarianID != clinictest.VetAna || appt.TimeSlotID != slotAna9 {
		t.Fatalf("binding = %s/%s", appt.VeterinarianID, appt.TimeSlotID)
	}
	if appt.Date != clinictest.June10 || appt.Time != model.NewClock(9, 0) {
		t.Fatalf("moment = %s %s, want slot moment", appt.Date, appt.Time)
	}
	if slotOpen(t, f, slotAna9) {
		t.Fatal("slot still available after booking")
	}
	if got := f.notes.kinds(); len(got) != 1 || got[0] != "booked:"+slotAna9 {
		t.Fatalf("notified %v", got)
	}
	events := f.clinic.Store.OutboxEvents()
	if len(events) != 1 || events[0].EventType != outbox.AppointmentCreated || events[0].AggregateID != appt.ID {
		t.Fatalf("outbox = %+v", events)
	}
}

func TestCreateAppointmentSlotTakenOffersAlternatives(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	_, err := f.engine.CreateAppointment(context.Background(), f.clinic.Receptionist(), booking.CreateInput{
		PetID:      clinictest.PetLuna,
		ClientID:   clinictest.ClientPedro,
		TimeSlotID: slotAna9,
		Reason:     "check-up",
	})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindSlotUnavailable {
		t.Fatalf("err = %v, want slot_unavailable", err)
	}
	got := map[string]string{}
	for _, a := range e.Alternatives {
		got[a.VeterinarianID] = a.SlotID
	}
	want := map[string]string{clinictest.VetBruno: slotBruno9, clinictest.VetCarla: slotCarla9}
	if len(got) != len(want) {
		t.Fatalf("alternatives = %+v", e.Alternatives)
	}
	for vet, slot := range want {
		if got[vet] != slot {
			t.Fatalf("alternative for %s = %q, want %q", vet, got[vet], slot)
		}
	}
	if n := len(f.clinic.Store.OutboxEvents()); n != 1 {
		t.Fatalf("outbox has %d events after failed booking", n)
	}
}

func TestCreateAppointmentConcurrentClaims(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)

	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		errs   = make([]error, 2)
		owners = []struct{ client, pet string }{
			{clinictest.ClientMaria, clinictest.PetRex},
			{clinictest.ClientPedro, clinictest.PetLuna},
		}
	)
	for i, o := range owners {
		wg.Add(1)
		go func(i int, client, pet string) {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.CreateAppointment(context.Background(), f.clinic.Receptionist(), booking.CreateInput{
				PetID: pet, ClientID: client, TimeSlotID: slotAna9, Reason: "vaccination",
			})
		}(i, o.client, o.pet)
	}
	close(start)
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case apperr.Is(err, apperr.KindSlotUnavailable):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || lost != 1 {
		t.Fatalf("won=%d lost=%d, want exactly one winner", won, lost)
	}
	bound, err := f.clinic.Store.ListAppointments(context.Background(), storage.AppointmentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bound) != 1 {
		t.Fatalf("%d appointments stored, want 1", len(bound))
	}
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)

	cases := []struct {
		name  string
		actor authz.Actor
		in    booking.CreateInput
		kind  apperr.Kind
	}{
		{
			name:  "veterinarian may not book",
			actor: f.clinic.Vet(clinictest.VetAna),
			in:    booking.CreateInput{PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria, TimeSlotID: slotAna9, Reason: "x"},
			kind:  apperr.KindPermission,
		},
		{
			name:  "client books for someone else",
			actor: f.clinic.Maria(),
			in:    booking.CreateInput{PetID: clinictest.PetLuna, ClientID: clinictest.ClientPedro, TimeSlotID: slotAna9, Reason: "x"},
			kind:  apperr.KindPermission,
		},
		{
			name:  "pet of another client",
			actor: f.clinic.Receptionist(),
			in:    booking.CreateInput{PetID: clinictest.PetLuna, ClientID: clinictest.ClientMaria, TimeSlotID: slotAna9, Reason: "x"},
			kind:  apperr.KindValidation,
		},
		{
			name:  "missing reason",
			actor: f.clinic.Receptionist(),
			in:    booking.CreateInput{PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria, TimeSlotID: slotAna9, Reason: "  "},
			kind:  apperr.KindValidation,
		},
		{
			name:  "slot of another veterinarian",
			actor: f.clinic.Receptionist(),
			in:    booking.CreateInput{PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria, VeterinarianID: clinictest.VetBruno, TimeSlotID: slotAna9, Reason: "x"},
			kind:  apperr.KindValidation,
		},
		{
			name:  "unknown slot",
			actor: f.clinic.Receptionist(),
			in:    booking.CreateInput{PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria, TimeSlotID: "deadbeef-0000-0000-0000-000000000000", Reason: "x"},
			kind:  apperr.KindNotFound,
		},
		{
			name:  "unknown pet",
			actor: f.clinic.Receptionist(),
			in:    booking.CreateInput{PetID: "deadbeef-0000-0000-0000-000000000001", ClientID: clinictest.ClientMaria, TimeSlotID: slotAna9, Reason: "x"},
			kind:  apperr.KindNotFound,
		},
		{
			name:  "no slot and no moment",
			actor: f.clinic.Receptionist(),
			in:    booking.CreateInput{PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria, Reason: "x"},
			kind:  apperr.KindValidation,
		},
		{
			name: "anonymous",
			in:   booking.CreateInput{PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria, TimeSlotID: slotAna9, Reason: "x"},
			kind: apperr.KindPermission,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.CreateAppointment(context.Background(), tc.actor, tc.in)
			if got := apperr.KindOf(err); err == nil || got != tc.kind {
				t.Fatalf("err = %v, want kind %s", err, tc.kind)
			}
		})
	}
	if !slotOpen(t, f, slotAna9) {
		t.Fatal("rejected bookings must leave the slot open")
	}
}

func TestClientBooksForSelfByDefault(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)

	appt, err := f.engine.CreateAppointment(context.Background(), f.clinic.Maria(), booking.CreateInput{
		PetID: clinictest.PetRex, TimeSlotID: slotBruno9, Reason: "limping",
	})
	if err != nil {
		t.Fatal(err)
	}
	if appt.ClientID != clinictest.ClientMaria || appt.CreatedBy != clinictest.ClientMaria {
		t.Fatalf("client=%s created_by=%s", appt.ClientID, appt.CreatedBy)
	}
}

func TestCreateAppointmentWithoutSlot(t *testing.T) {
	f := newFixture(t)

	appt, err := f.engine.CreateAppointment(context.Background(), f.clinic.Receptionist(), booking.CreateInput{
		PetID: clinictest.PetRex, ClientID: clinictest.ClientMaria,
		Date: clinictest.June10, Time: model.NewClock(15, 30), Reason: "walk-in",
	})
	if err != nil {
		t.Fatal(err)
	}
	if appt.TimeSlotID != "" || appt.VeterinarianID != "" {
		t.Fatalf("unexpected binding %+v", appt)
	}
	if got := f.notes.kinds(); len(got) != 0 {
		t.Fatalf("notified %v for an unbound appointment", got)
	}
}

func TestCancelReleasesSlotAndSurfacesCandidates(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	base := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	ids := []string{
		"e0000000-0000-0000-0000-000000000001",
		"e0000000-0000-0000-0000-000000000002",
		"e0000000-0000-0000-0000-000000000003",
		"e0000000-0000-0000-0000-000000000004",
		"e0000000-0000-0000-0000-000000000005",
		"e0000000-0000-0000-0000-000000000006",
		"e0000000-0000-0000-0000-000000000007",
	}
	// priority, created offset in hours
	seed := [][2]int{{2, 0}, {1, 5}, {1, 1}, {3, 0}, {2, 2}, {1, 9}, {3, 1}}
	for i, s := range seed {
		f.clinic.Waiting(t, ids[i], clinictest.ClientPedro, clinictest.PetLuna, s[0], base.Add(time.Duration(s[1])*time.Hour))
	}

	res, err := f.engine.CancelAppointment(context.Background(), f.clinic.Maria(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Appointment.Status != model.StatusCancelled || res.Appointment.TimeSlotID != "" {
		t.Fatalf("appointment after cancel = %+v", res.Appointment)
	}
	if !strings.Contains(res.Appointment.ReceptionistNotes, "Cancelled on 01/06/2025 08:30 by Maria Lopez") {
		t.Fatalf("notes = %q", res.Appointment.ReceptionistNotes)
	}
	if res.FreedSlot == nil || res.FreedSlot.SlotID != slotAna9 || res.FreedSlot.VeterinarianName != "Ana Ruiz" {
		t.Fatalf("freed slot = %+v", res.FreedSlot)
	}
	if res.Message != "appointment cancelled" {
		t.Fatalf("message = %q", res.Message)
	}
	wantClient := booking.ClientSummary{ID: clinictest.ClientMaria, Name: "Maria Lopez", Email: "maria@example.com"}
	wantPet := booking.PetSummary{ID: clinictest.PetRex, Name: "Rex", Species: "dog"}
	if res.Client != wantClient || res.Pet != wantPet {
		t.Fatalf("summaries = %+v %+v", res.Client, res.Pet)
	}
	if !slotOpen(t, f, slotAna9) {
		t.Fatal("slot not released")
	}

	want := []string{ids[2], ids[1], ids[5], ids[0], ids[4]}
	if res.CandidateCount != len(want) || len(res.Candidates) != len(want) {
		t.Fatalf("candidates = %d, want %d", len(res.Candidates), len(want))
	}
	for i, c := range res.Candidates {
		if c.ID != want[i] {
			t.Fatalf("candidate %d = %s, want %s", i, c.ID, want[i])
		}
		if c.Contacted {
			t.Fatal("candidates must not be marked contacted")
		}
	}

	if got := f.notes.kinds(); got[len(got)-1] != "released:"+slotAna9 {
		t.Fatalf("notified %v", got)
	}
	var released bool
	for _, evt := range f.clinic.Store.OutboxEvents() {
		if evt.EventType == outbox.SlotReleased && evt.AggregateID == slotAna9 {
			released = strings.Contains(string(evt.Payload), ids[2])
		}
	}
	if !released {
		t.Fatal("slot.released event missing or without candidates")
	}

	_, err = f.engine.CancelAppointment(context.Background(), f.clinic.Maria(), appt.ID)
	if !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("second cancel err = %v, want invalid_state", err)
	}
}

func TestCancelWithEmptyWaitingList(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	res, err := f.engine.CancelAppointment(context.Background(), f.clinic.Receptionist(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Candidates == nil || res.CandidateCount != 0 {
		t.Fatalf("candidates = %#v", res.Candidates)
	}
}

func TestCancelOtherClientsAppointment(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	_, err := f.engine.CancelAppointment(context.Background(), f.clinic.Pedro(), appt.ID)
	if !apperr.Is(err, apperr.KindPermission) {
		t.Fatalf("err = %v, want permission", err)
	}
	if slotOpen(t, f, slotAna9) {
		t.Fatal("denied cancel released the slot")
	}
}

func TestRescheduleMovesSlot(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	f.clinic.Slot(t, slotAna10, clinictest.VetAna, clinictest.June10, 10)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	moved, err := f.engine.RescheduleAppointment(context.Background(), f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{
		NewTimeSlotID: slotBruno9,
		Reason:        "Dr. Ana unavailable",
	})
	if err != nil {
		t.Fatal(err)
	}
	if moved.ID != appt.ID {
		t.Fatal("reschedule must keep the appointment identity")
	}
	if moved.Status != model.StatusRescheduled || moved.TimeSlotID != slotBruno9 || moved.VeterinarianID != clinictest.VetBruno {
		t.Fatalf("moved = %+v", moved)
	}
	if !slotOpen(t, f, slotAna9) || slotOpen(t, f, slotBruno9) {
		t.Fatal("old slot must be open and new slot taken")
	}
	for _, want := range []string{"Rescheduled on 01/06/2025 08:30", "From: 2025-06-10 09:00 - Dr. Ana Ruiz", "To: 2025-06-10 09:00 - Dr. Bruno Soto", "Reason: Dr. Ana unavailable"} {
		if !strings.Contains(moved.ReceptionistNotes, want) {
			t.Fatalf("notes %q missing %q", moved.ReceptionistNotes, want)
		}
	}

	history, err := f.engine.History(context.Background(), f.clinic.Maria(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].FromSlotID != slotAna9 || history[0].ToSlotID != slotBruno9 {
		t.Fatalf("history = %+v", history)
	}
	if moved.RescheduledFromID != history[0].ID {
		t.Fatalf("rescheduled_from_id = %s, want %s", moved.RescheduledFromID, history[0].ID)
	}

	// A RESCHEDULED appointment may move again.
	again, err := f.engine.RescheduleAppointment(context.Background(), f.clinic.Maria(), appt.ID, booking.RescheduleInput{NewTimeSlotID: slotAna10})
	if err != nil {
		t.Fatal(err)
	}
	if again.TimeSlotID != slotAna10 || !slotOpen(t, f, slotBruno9) {
		t.Fatalf("second move = %+v", again)
	}
}

func TestRescheduleOntoTakenSlotRollsBack(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	mine := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)
	f.book(t, f.clinic.Receptionist(), clinictest.ClientPedro, clinictest.PetLuna, slotBruno9)

	_, err := f.engine.RescheduleAppointment(context.Background(), f.clinic.Receptionist(), mine.ID, booking.RescheduleInput{NewTimeSlotID: slotBruno9})
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindSlotUnavailable {
		t.Fatalf("err = %v, want slot_unavailable", err)
	}
	if len(e.Alternatives) != 1 || e.Alternatives[0].VeterinarianID != clinictest.VetCarla {
		t.Fatalf("alternatives = %+v", e.Alternatives)
	}
	if slotOpen(t, f, slotAna9) {
		t.Fatal("failed reschedule released the original slot")
	}
	cur, err := f.engine.GetAppointment(context.Background(), f.clinic.Receptionist(), mine.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != model.StatusPending || cur.TimeSlotID != slotAna9 {
		t.Fatalf("appointment changed after failed reschedule: %+v", cur)
	}
}

func TestRescheduleOntoOwnSlot(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	moved, err := f.engine.RescheduleAppointment(context.Background(), f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{NewTimeSlotID: slotAna9})
	if err != nil {
		t.Fatal(err)
	}
	if moved.TimeSlotID != slotAna9 || slotOpen(t, f, slotAna9) {
		t.Fatalf("moved = %+v", moved)
	}
}

func TestRescheduleWithoutMoment(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	_, err := f.engine.RescheduleAppointment(context.Background(), f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestRescheduleWithoutSlotReleasesOld(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	ctx := context.Background()
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)
	june12 := model.NewDate(2025, time.June, 12)

	moved, err := f.engine.RescheduleAppointment(ctx, f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{
		NewDate: june12,
		NewTime: model.NewClock(14, 30),
	})
	if err != nil {
		t.Fatal(err)
	}
	if moved.TimeSlotID != "" || moved.Date != june12 || moved.Time != model.NewClock(14, 30) || moved.VeterinarianID != clinictest.VetAna {
		t.Fatalf("moved = %+v", moved)
	}
	if !slotOpen(t, f, slotAna9) {
		t.Fatal("old slot still taken")
	}
	history, err := f.engine.History(ctx, f.clinic.Receptionist(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].FromSlotID != slotAna9 || history[0].ToSlotID != "" || history[0].ToDate != june12 {
		t.Fatalf("history = %+v", history)
	}
	kinds := f.notes.kinds()
	if got := kinds[len(kinds)-2:]; got[0] != "released:"+slotAna9 || got[1] != "moved:" {
		t.Fatalf("notifications = %v", kinds)
	}
	last := f.notes.changes[len(f.notes.changes)-1]
	if last.VeterinarianID != clinictest.VetAna || last.Date != june12 {
		t.Fatalf("moved change = %+v", last)
	}

	// A slotless move may hand the appointment to another veterinarian.
	bruno, err := f.engine.RescheduleAppointment(ctx, f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{
		NewDate:           june12,
		NewTime:           model.NewClock(15, 0),
		NewVeterinarianID: clinictest.VetBruno,
	})
	if err != nil {
		t.Fatal(err)
	}
	if bruno.VeterinarianID != clinictest.VetBruno || bruno.TimeSlotID != "" || bruno.Time != model.NewClock(15, 0) {
		t.Fatalf("bruno = %+v", bruno)
	}
	history, err = f.engine.History(ctx, f.clinic.Receptionist(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	var handover *model.RescheduleRecord
	for i := range history {
		if history[i].ToVeterinarianID == clinictest.VetBruno {
			handover = &history[i]
		}
	}
	if len(history) != 2 || handover == nil || handover.FromVeterinarianID != clinictest.VetAna || handover.FromSlotID != "" {
		t.Fatalf("history = %+v", history)
	}

	_, err = f.engine.RescheduleAppointment(ctx, f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{
		NewDate:           june12,
		NewTime:           model.NewClock(16, 0),
		NewVeterinarianID: "99999999-0000-0000-0000-000000000000",
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
	cur, err := f.engine.GetAppointment(ctx, f.clinic.Receptionist(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.VeterinarianID != clinictest.VetBruno || cur.Time != model.NewClock(15, 0) {
		t.Fatalf("failed move changed the appointment: %+v", cur)
	}
}

func TestUpdateNotes(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	ctx := context.Background()
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)
	text := func(s string) *string { return &s }

	got, err := f.engine.UpdateNotes(ctx, f.clinic.Maria(), appt.ID, booking.NotesInput{Notes: text(" Rex is nervous with cats ")})
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes != "Rex is nervous with cats" || got.Status != model.StatusPending || got.TimeSlotID != slotAna9 {
		t.Fatalf("after client edit = %+v", got)
	}

	got, err = f.engine.UpdateNotes(ctx, f.clinic.Receptionist(), appt.ID, booking.NotesInput{ReceptionistNotes: text("Owner called ahead")})
	if err != nil {
		t.Fatal(err)
	}
	if got.ReceptionistNotes != "Owner called ahead" || got.Notes != "Rex is nervous with cats" {
		t.Fatalf("after receptionist edit = %+v", got)
	}

	cases := []struct {
		name  string
		actor authz.Actor
		in    booking.NotesInput
		want  apperr.Kind
	}{
		{"client sets receptionist notes", f.clinic.Maria(), booking.NotesInput{ReceptionistNotes: text("x")}, apperr.KindPermission},
		{"other client", f.clinic.Pedro(), booking.NotesInput{Notes: text("x")}, apperr.KindPermission},
		{"veterinarian", f.clinic.Vet(clinictest.VetAna), booking.NotesInput{Notes: text("x")}, apperr.KindPermission},
		{"nothing to change", f.clinic.Receptionist(), booking.NotesInput{}, apperr.KindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.UpdateNotes(ctx, tc.actor, appt.ID, tc.in)
			if apperr.KindOf(err) != tc.want {
				t.Fatalf("err = %v, want %s", err, tc.want)
			}
		})
	}

	cur, err := f.engine.GetAppointment(ctx, f.clinic.Receptionist(), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Notes != "Rex is nervous with cats" || cur.ReceptionistNotes != "Owner called ahead" {
		t.Fatalf("denied edits leaked: %+v", cur)
	}
	var updates int
	for _, evt := range f.clinic.Store.OutboxEvents() {
		if evt.EventType == outbox.AppointmentUpdated && evt.AggregateID == appt.ID {
			updates++
		}
	}
	if updates != 2 {
		t.Fatalf("%d updated events, want 2", updates)
	}
	if _, err := f.engine.UpdateNotes(ctx, f.clinic.Receptionist(), "99999999-0000-0000-0000-000000000000", booking.NotesInput{Notes: text("x")}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestAttendLifecycle(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	if _, err := f.engine.AttendAppointment(context.Background(), f.clinic.Vet(clinictest.VetBruno), appt.ID); !apperr.Is(err, apperr.KindPermission) {
		t.Fatalf("other vet attend err = %v, want permission", err)
	}
	if _, err := f.engine.AttendAppointment(context.Background(), f.clinic.Receptionist(), appt.ID); !apperr.Is(err, apperr.KindPermission) {
		t.Fatalf("receptionist attend err = %v, want permission", err)
	}

	done, err := f.engine.AttendAppointment(context.Background(), f.clinic.Vet(clinictest.VetAna), appt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.StatusAttended {
		t.Fatalf("status = %s", done.Status)
	}
	if slotOpen(t, f, slotAna9) {
		t.Fatal("attending must not release the slot")
	}

	if _, err := f.engine.AttendAppointment(context.Background(), f.clinic.Vet(clinictest.VetAna), appt.ID); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("second attend err = %v, want invalid_state", err)
	}
	if _, err := f.engine.CancelAppointment(context.Background(), f.clinic.Receptionist(), appt.ID); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("cancel attended err = %v, want invalid_state", err)
	}
	if _, err := f.engine.RescheduleAppointment(context.Background(), f.clinic.Receptionist(), appt.ID, booking.RescheduleInput{NewTimeSlotID: slotBruno9}); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("reschedule attended err = %v, want invalid_state", err)
	}
}

func TestConfirmAppointment(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	appt := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)

	got, err := f.engine.ConfirmAppointment(context.Background(), f.clinic.Maria(), appt.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusConfirmed || !got.Confirmed24h || got.ConfirmationDate == nil {
		t.Fatalf("confirmed = %+v", got)
	}
	if _, err := f.engine.ConfirmAppointment(context.Background(), f.clinic.Maria(), appt.ID, true); !apperr.Is(err, apperr.KindInvalidState) {
		t.Fatalf("second confirm err = %v, want invalid_state", err)
	}
}

func TestGetAndListVisibility(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	maria := f.book(t, f.clinic.Receptionist(), clinictest.ClientMaria, clinictest.PetRex, slotAna9)
	f.book(t, f.clinic.Receptionist(), clinictest.ClientPedro, clinictest.PetLuna, slotBruno9)

	if _, err := f.engine.GetAppointment(context.Background(), f.clinic.Pedro(), maria.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("foreign get err = %v, want not_found", err)
	}
	if _, err := f.engine.GetAppointment(context.Background(), f.clinic.Vet(clinictest.VetAna), maria.ID); err != nil {
		t.Fatalf("assigned vet get: %v", err)
	}

	cases := []struct {
		name  string
		actor authz.Actor
		want  int
	}{
		{"receptionist sees all", f.clinic.Receptionist(), 2},
		{"client sees own", f.clinic.Maria(), 1},
		{"vet sees assigned", f.clinic.Vet(clinictest.VetBruno), 1},
		{"vet without appointments", f.clinic.Vet(clinictest.VetCarla), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.engine.ListAppointments(context.Background(), tc.actor, booking.ListFilter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d appointments, want %d", len(got), tc.want)
			}
		})
	}
	if _, err := f.engine.ListAppointments(context.Background(), authz.Actor{}, booking.ListFilter{}); !apperr.Is(err, apperr.KindPermission) {
		t.Fatalf("anonymous list err = %v", err)
	}
}

func TestFindAlternatives(t *testing.T) {
	f := newFixture(t)
	f.nineOClock(t)
	f.clinic.Slot(t, "d0000000-0000-0000-0000-000000000009", clinictest.VetRetired, clinictest.June10, 9)
	f.book(t, f.clinic.Receptionist(), clinictest.ClientPedro, clinictest.PetLuna, slotCarla9)

	alts, err := f.engine.FindAlternatives(context.Background(), clinictest.June10, model.NewClock(9, 0), clinictest.VetAna)
	if err != nil {
		t.Fatal(err)
	}
	if len(alts) != 1 || alts[0].VeterinarianID != clinictest.VetBruno || alts[0].Name != "Bruno Soto" || alts[0].Email == "" {
		t.Fatalf("alternatives = %+v", alts)
	}

	none, err := f.engine.FindAlternatives(context.Background(), clinictest.June10, model.NewClock(17, 0), "")
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("alternatives at 17:00 = %#v", none)
	}
}
