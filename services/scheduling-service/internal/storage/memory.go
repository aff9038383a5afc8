package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
)

// Memory is an in-process Store. Transactions hold the write lock for their
// whole duration and roll back by restoring a snapshot.
type Memory struct {
	mu   sync.RWMutex
	data memData
	now  func() time.Time
}

type memData struct {
	users       map[string]model.User
	pets        map[string]model.Pet
	slots       map[string]model.TimeSlot
	appts       map[string]model.Appointment
	reschedules map[string]model.RescheduleRecord
	waiting     map[string]model.WaitingListEntry
	outbox      []memOutbox
	outboxSeq   int64
}

type memOutbox struct {
	rec       outbox.Record
	published bool
}

func NewMemory() *Memory {
	return &Memory{
		data: memData{
			users:       map[string]model.User{},
			pets:        map[string]model.Pet{},
			slots:       map[string]model.TimeSlot{},
			appts:       map[string]model.Appointment{},
			reschedules: map[string]model.RescheduleRecord{},
			waiting:     map[string]model.WaitingListEntry{},
		},
		now: time.Now,
	}
}

var _ Store = (*Memory)(nil)

func (d memData) clone() memData {
	c := memData{
		users:       make(map[string]model.User, len(d.users)),
		pets:        make(map[string]model.Pet, len(d.pets)),
		slots:       make(map[string]model.TimeSlot, len(d.slots)),
		appts:       make(map[string]model.Appointment, len(d.appts)),
		reschedules: make(map[string]model.RescheduleRecord, len(d.reschedules)),
		waiting:     make(map[string]model.WaitingListEntry, len(d.waiting)),
		outbox:      append([]memOutbox(nil), d.outbox...),
		outboxSeq:   d.outboxSeq,
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.pets {
		c.pets[k] = v
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	for k, v := range d.appts {
		c.appts[k] = v
	}
	for k, v := range d.reschedules {
		c.reschedules[k] = v
	}
	for k, v := range d.waiting {
		c.waiting[k] = v
	}
	return c
}

type memTxKey struct{ m *Memory }

func (m *Memory) inTx(ctx context.Context) bool {
	return ctx.Value(memTxKey{m}) != nil
}

func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(context.WithValue(ctx, memTxKey{m}, true)); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (m *Memory) read(ctx context.Context, fn func(d *memData)) {
	if !m.inTx(ctx) {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	fn(&m.data)
}

func (m *Memory) write(ctx context.Context, fn func(d *memData) error) error {
	if !m.inTx(ctx) {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	return fn(&m.data)
}

// PutUser seeds the user directory.
func (m *Memory) PutUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.users[u.ID] = u
}

// PutPet seeds the pet directory.
func (m *Memory) PutPet(p model.Pet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.pets[p.ID] = p
}

// Slots

func (m *Memory) CreateSlot(ctx context.Context, s *model.TimeSlot) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.slots[s.ID]; ok {
			return fmt.Errorf("%w: slot id %s", ErrDuplicate, s.ID)
		}
		for _, o := range d.slots {
			if o.VeterinarianID == s.VeterinarianID && o.Date == s.Date && o.StartTime == s.StartTime {
				return fmt.Errorf("%w: slot %s %s for veterinarian %s", ErrDuplicate, s.Date, s.StartTime, s.VeterinarianID)
			}
		}
		d.slots[s.ID] = *s
		return nil
	})
}

func (m *Memory) GetSlot(ctx context.Context, id string) (model.TimeSlot, error) {
	var (
		s  model.TimeSlot
		ok bool
	)
	m.read(ctx, func(d *memData) { s, ok = d.slots[id] })
	if !ok {
		return model.TimeSlot{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSlots(ctx context.Context, f SlotFilter) ([]model.TimeSlot, error) {
	var out []model.TimeSlot
	m.read(ctx, func(d *memData) {
		for _, s := range d.slots {
			if f.VeterinarianID != "" && s.VeterinarianID != f.VeterinarianID {
				continue
			}
			if !f.From.IsZero() && s.Date.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && s.Date.After(f.To) {
				continue
			}
			if f.StartTime != nil && s.StartTime != *f.StartTime {
				continue
			}
			if f.AvailableOnly && !s.IsAvailable {
				continue
			}
			out = append(out, s)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.VeterinarianID < b.VeterinarianID
	})
	return out, nil
}

func (m *Memory) SetSlotAvailability(ctx context.Context, id string, available bool) error {
	return m.write(ctx, func(d *memData) error {
		s, ok := d.slots[id]
		if !ok {
			return ErrNotFound
		}
		s.IsAvailable = available
		d.slots[id] = s
		return nil
	})
}

func (m *Memory) ClaimSlot(ctx context.Context, id string) (bool, error) {
	claimed := false
	err := m.write(ctx, func(d *memData) error {
		s, ok := d.slots[id]
		if !ok || !s.IsAvailable {
			return nil
		}
		s.IsAvailable = false
		d.slots[id] = s
		claimed = true
		return nil
	})
	return claimed, err
}

// Appointments

func slotTaken(d *memData, slotID, exceptID string) bool {
	if slotID == "" {
		return false
	}
	for _, a := range d.appts {
		if a.ID != exceptID && a.TimeSlotID == slotID {
			return true
		}
	}
	return false
}

func (m *Memory) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.appts[a.ID]; ok {
			return fmt.Errorf("%w: appointment id %s", ErrDuplicate, a.ID)
		}
		if slotTaken(d, a.TimeSlotID, a.ID) {
			return fmt.Errorf("%w: time slot %s already bound", ErrDuplicate, a.TimeSlotID)
		}
		now := m.now().UTC()
		a.CreatedAt, a.UpdatedAt = now, now
		d.appts[a.ID] = *a
		return nil
	})
}

func (m *Memory) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	var (
		a  model.Appointment
		ok bool
	)
	m.read(ctx, func(d *memData) { a, ok = d.appts[id] })
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

// GetAppointmentForUpdate needs no extra locking: transactions already hold
// the write lock.
func (m *Memory) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return m.GetAppointment(ctx, id)
}

func (m *Memory) UpdateAppointment(ctx context.Context, a *model.Appointment) error {
	return m.write(ctx, func(d *memData) error {
		cur, ok := d.appts[a.ID]
		if !ok {
			return ErrNotFound
		}
		if slotTaken(d, a.TimeSlotID, a.ID) {
			return fmt.Errorf("%w: time slot %s already bound", ErrDuplicate, a.TimeSlotID)
		}
		a.CreatedAt = cur.CreatedAt
		a.UpdatedAt = m.now().UTC()
		d.appts[a.ID] = *a
		return nil
	})
}

func (m *Memory) AppointmentBySlot(ctx context.Context, slotID string) (model.Appointment, error) {
	var (
		found model.Appointment
		ok    bool
	)
	m.read(ctx, func(d *memData) {
		for _, a := range d.appts {
			if slotID != "" && a.TimeSlotID == slotID {
				found, ok = a, true
				return
			}
		}
	})
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return found, nil
}

func (m *Memory) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	m.read(ctx, func(d *memData) {
		for _, a := range d.appts {
			if f.ClientID != "" && a.ClientID != f.ClientID {
				continue
			}
			if f.VeterinarianID != "" && a.VeterinarianID != f.VeterinarianID {
				continue
			}
			if len(f.Statuses) > 0 && !hasStatus(f.Statuses, a.Status) {
				continue
			}
			if !f.From.IsZero() && a.Date.Before(f.From) {
				continue
			}
			if !f.To.IsZero() && a.Date.After(f.To) {
				continue
			}
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func hasStatus(list []model.Status, s model.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *Memory) CreateRescheduleRecord(ctx context.Context, r *model.RescheduleRecord) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.appts[r.AppointmentID]; !ok {
			return ErrNotFound
		}
		r.CreatedAt = m.now().UTC()
		d.reschedules[r.ID] = *r
		return nil
	})
}

func (m *Memory) ListRescheduleRecords(ctx context.Context, appointmentID string) ([]model.RescheduleRecord, error) {
	var out []model.RescheduleRecord
	m.read(ctx, func(d *memData) {
		for _, r := range d.reschedules {
			if r.AppointmentID == appointmentID {
				out = append(out, r)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Waiting list

func (m *Memory) CreateWaitingListEntry(ctx context.Context, e *model.WaitingListEntry) error {
	return m.write(ctx, func(d *memData) error {
		if _, ok := d.waiting[e.ID]; ok {
			return fmt.Errorf("%w: waiting list id %s", ErrDuplicate, e.ID)
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now().UTC()
		}
		e.UpdatedAt = e.CreatedAt
		d.waiting[e.ID] = *e
		return nil
	})
}

func (m *Memory) GetWaitingListEntry(ctx context.Context, id string) (model.WaitingListEntry, error) {
	var (
		e  model.WaitingListEntry
		ok bool
	)
	m.read(ctx, func(d *memData) { e, ok = d.waiting[id] })
	if !ok {
		return model.WaitingListEntry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) UpdateWaitingListEntry(ctx context.Context, e *model.WaitingListEntry) error {
	return m.write(ctx, func(d *memData) error {
		cur, ok := d.waiting[e.ID]
		if !ok {
			return ErrNotFound
		}
		cur.IsActive = e.IsActive
		cur.Contacted = e.Contacted
		cur.ContactDate = e.ContactDate
		cur.Priority = e.Priority
		cur.Notes = e.Notes
		cur.UpdatedAt = m.now().UTC()
		d.waiting[e.ID] = cur
		*e = cur
		return nil
	})
}

func (m *Memory) ListWaitingList(ctx context.Context, f WaitingListFilter) ([]model.WaitingListEntry, error) {
	var out []model.WaitingListEntry
	m.read(ctx, func(d *memData) {
		for _, e := range d.waiting {
			if f.ClientID != "" && e.ClientID != f.ClientID {
				continue
			}
			if f.ActiveOnly && !e.IsActive {
				continue
			}
			if f.UncontactedOnly && e.Contacted {
				continue
			}
			out = append(out, e)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Directory

func (m *Memory) FindUser(ctx context.Context, id string) (model.User, error) {
	var (
		u  model.User
		ok bool
	)
	m.read(ctx, func(d *memData) { u, ok = d.users[id] })
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UsersByRole(ctx context.Context, role model.Role, activeOnly bool) ([]model.User, error) {
	var out []model.User
	m.read(ctx, func(d *memData) {
		for _, u := range d.users {
			if u.Role == role && (!activeOnly || u.IsActive) {
				out = append(out, u)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) FindPet(ctx context.Context, id string) (model.Pet, error) {
	var (
		p  model.Pet
		ok bool
	)
	m.read(ctx, func(d *memData) { p, ok = d.pets[id] })
	if !ok {
		return model.Pet{}, ErrNotFound
	}
	return p, nil
}

// Outbox

func (m *Memory) AppendOutbox(ctx context.Context, evt outbox.Event) error {
	return m.write(ctx, func(d *memData) error {
		d.outboxSeq++
		d.outbox = append(d.outbox, memOutbox{rec: outbox.Record{
			ID:        d.outboxSeq,
			Event:     evt,
			CreatedAt: m.now().UTC(),
		}})
		return nil
	})
}

func (m *Memory) FetchUnpublishedOutbox(ctx context.Context, limit int) ([]outbox.Record, error) {
	var out []outbox.Record
	m.read(ctx, func(d *memData) {
		for _, o := range d.outbox {
			if o.published {
				continue
			}
			out = append(out, o.rec)
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, nil
}

func (m *Memory) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	return m.write(ctx, func(d *memData) error {
		set := make(map[int64]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		for i := range d.outbox {
			if set[d.outbox[i].rec.ID] {
				d.outbox[i].published = true
			}
		}
		return nil
	})
}

// OutboxEvents returns every stored event in append order.
func (m *Memory) OutboxEvents() []outbox.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]outbox.Event, 0, len(m.data.outbox))
	for _, o := range m.data.outbox {
		out = append(out, o.rec.Event)
	}
	return out
}
