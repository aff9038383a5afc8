// Package calendar renders month views of veterinarian availability.
package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

// DegradedReason marks an occupied slot that has no appointment bound to it.
const DegradedReason = "unavailable, no reason on record"

type Repository interface {
	storage.SlotRepository
	storage.AppointmentRepository
	storage.Directory
}

type OccupiedSlot struct {
	TimeSlotID    string       `json:"time_slot_id"`
	StartTime     model.Clock  `json:"start_time"`
	EndTime       model.Clock  `json:"end_time"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	PetName       string       `json:"pet_name,omitempty"`
	ClientName    string       `json:"client_name,omitempty"`
	Status        model.Status `json:"status,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

type Day struct {
	VeterinarianID   string           `json:"veterinarian_id"`
	VeterinarianName string           `json:"veterinarian_name"`
	Date             model.Date       `json:"date"`
	AvailableSlots   []model.TimeSlot `json:"available_slots"`
	OccupiedSlots    []OccupiedSlot   `json:"occupied_slots"`
}

type Month struct {
	Year     int   `json:"year"`
	Month    int   `json:"month"`
	Calendar []Day `json:"calendar"`
}

// OccupiedMarker is the public view of a booked appointment.
type OccupiedMarker struct {
	ID     string       `json:"id"`
	Time   model.Clock  `json:"time"`
	Status model.Status `json:"status"`
}

type PublicDay struct {
	VeterinarianID   string           `json:"veterinarian_id"`
	VeterinarianName string           `json:"veterinarian_name"`
	Date             model.Date       `json:"date"`
	AvailableSlots   []model.TimeSlot `json:"available_slots"`
	OccupiedSlots    []OccupiedMarker `json:"occupied_slots"`
}

type PublicMonth struct {
	Year     int         `json:"year"`
	Month    int         `json:"month"`
	Calendar []PublicDay `json:"calendar"`
}

type Aggregator struct {
	repo   Repository
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Aggregator)

// WithCache caches public availability for ttl.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(a *Aggregator) {
		a.cache = c
		a.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(repo Repository, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{repo: repo, cache: NopCache{}, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// resolveMonth fills zero year or month from the clock.
func (a *Aggregator) resolveMonth(year, month int) (int, time.Month, error) {
	now := a.now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = int(now.Month())
	}
	if month < 1 || month > 12 {
		return 0, 0, apperr.Validation("month must be between 1 and 12")
	}
	if year < 1 || year > 9999 {
		return 0, 0, apperr.Validation("year %d is out of range", year)
	}
	return year, time.Month(month), nil
}

// MonthlyCalendar groups every slot of the selected veterinarians by date.
// Per date, available and occupied slots partition the veterinarian's slots.
func (a *Aggregator) MonthlyCalendar(ctx context.Context, actor authz.Actor, year, month int, vetID string) (Month, error) {
	if err := authz.Authorize(actor, authz.BrowseCalendar, authz.Resource{}); err != nil {
		return Month{}, err
	}
	y, m, err := a.resolveMonth(year, month)
	if err != nil {
		return Month{}, err
	}
	vets, err := a.selectVeterinarians(ctx, vetID)
	if err != nil {
		return Month{}, err
	}

	first, last := model.MonthBounds(y, m)
	out := Month{Year: y, Month: int(m), Calendar: []Day{}}
	names := nameCache{dir: a.repo}
	for _, vet := range vets {
		all, err := a.repo.ListSlots(ctx, storage.SlotFilter{VeterinarianID: vet.ID, From: first, To: last})
		if err != nil {
			return Month{}, fmt.Errorf("list slots for %s: %w", vet.ID, err)
		}
		var cur *Day
		for _, slot := range all {
			if cur == nil || cur.Date != slot.Date {
				out.Calendar = append(out.Calendar, Day{
					VeterinarianID:   vet.ID,
					VeterinarianName: vet.FullName(),
					Date:             slot.Date,
					AvailableSlots:   []model.TimeSlot{},
					OccupiedSlots:    []OccupiedSlot{},
				})
				cur = &out.Calendar[len(out.Calendar)-1]
			}
			if slot.IsAvailable {
				cur.AvailableSlots = append(cur.AvailableSlots, slot)
				continue
			}
			occ, err := a.occupied(ctx, slot, &names)
			if err != nil {
				return Month{}, err
			}
			cur.OccupiedSlots = append(cur.OccupiedSlots, occ)
		}
	}
	return out, nil
}

func (a *Aggregator) selectVeterinarians(ctx context.Context, vetID string) ([]model.User, error) {
	if vetID == "" {
		vets, err := a.repo.UsersByRole(ctx, model.RoleVeterinarian, true)
		if err != nil {
			return nil, fmt.Errorf("list veterinarians: %w", err)
		}
		return vets, nil
	}
	vet, err := a.repo.FindUser(ctx, vetID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find veterinarian: %w", err)
	}
	if vet.Role != model.RoleVeterinarian {
		return nil, nil
	}
	return []model.User{vet}, nil
}

func (a *Aggregator) occupied(ctx context.Context, slot model.TimeSlot, names *nameCache) (OccupiedSlot, error) {
	occ := OccupiedSlot{TimeSlotID: slot.ID, StartTime: slot.StartTime, EndTime: slot.EndTime}
	appt, err := a.repo.AppointmentBySlot(ctx, slot.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			a.logger.Warn("occupied slot without appointment", "slot_id", slot.ID, "veterinarian_id", slot.VeterinarianID)
			occ.Reason = DegradedReason
			return occ, nil
		}
		return OccupiedSlot{}, fmt.Errorf("appointment for slot %s: %w", slot.ID, err)
	}
	occ.AppointmentID = appt.ID
	occ.Status = appt.Status
	occ.PetName = names.pet(ctx, appt.PetID)
	occ.ClientName = names.user(ctx, appt.ClientID)
	return occ, nil
}

// PublicAvailability lists the dates of the month where vetID has open
// slots, with markers for the pending and confirmed appointments on them.
func (a *Aggregator) PublicAvailability(ctx context.Context, year, month int, vetID string) (PublicMonth, error) {
	if vetID == "" {
		return PublicMonth{}, apperr.Validation("veterinarian_id is required")
	}
	y, m, err := a.resolveMonth(year, month)
	if err != nil {
		return PublicMonth{}, err
	}
	vet, err := a.repo.FindUser(ctx, vetID)
	if err != nil && !storage.IsNotFound(err) {
		return PublicMonth{}, fmt.Errorf("find veterinarian: %w", err)
	}
	if err != nil || vet.Role != model.RoleVeterinarian || !vet.IsActive {
		return PublicMonth{}, apperr.NotFound("veterinarian %s not found", vetID)
	}

	key := publicKey(vetID, y, m)
	var cached PublicMonth
	if hit, err := a.cache.Get(ctx, key, &cached); err != nil {
		a.logger.Warn("calendar cache read failed", "key", key, "err", err)
	} else if hit {
		return cached, nil
	}

	first, last := model.MonthBounds(y, m)
	open, err := a.repo.ListSlots(ctx, storage.SlotFilter{VeterinarianID: vetID, From: first, To: last, AvailableOnly: true})
	if err != nil {
		return PublicMonth{}, fmt.Errorf("list slots: %w", err)
	}
	appts, err := a.repo.ListAppointments(ctx, storage.AppointmentFilter{
		VeterinarianID: vetID,
		Statuses:       []model.Status{model.StatusPending, model.StatusConfirmed},
		From:           first,
		To:             last,
	})
	if err != nil {
		return PublicMonth{}, fmt.Errorf("list appointments: %w", err)
	}

	out := PublicMonth{Year: y, Month: int(m), Calendar: []PublicDay{}}
	index := map[model.Date]int{}
	for _, slot := range open {
		i, ok := index[slot.Date]
		if !ok {
			out.Calendar = append(out.Calendar, PublicDay{
				VeterinarianID:   vet.ID,
				VeterinarianName: vet.FullName(),
				Date:             slot.Date,
				AvailableSlots:   []model.TimeSlot{},
				OccupiedSlots:    []OccupiedMarker{},
			})
			i = len(out.Calendar) - 1
			index[slot.Date] = i
		}
		out.Calendar[i].AvailableSlots = append(out.Calendar[i].AvailableSlots, slot)
	}
	for _, appt := range appts {
		if i, ok := index[appt.Date]; ok {
			out.Calendar[i].OccupiedSlots = append(out.Calendar[i].OccupiedSlots, OccupiedMarker{ID: appt.ID, Time: appt.Time, Status: appt.Status})
		}
	}

	if err := a.cache.Set(ctx, key, out, a.ttl); err != nil {
		a.logger.Warn("calendar cache write failed", "key", key, "err", err)
	}
	return out, nil
}

// SlotsChanged drops cached public months touched by changes.
func (a *Aggregator) SlotsChanged(ctx context.Context, changes []model.SlotChange) {
	seen := map[string]bool{}
	keys := make([]string, 0, len(changes))
	for _, c := range changes {
		if c.VeterinarianID == "" {
			continue
		}
		k := publicKey(c.VeterinarianID, c.Date.Year, c.Date.Month)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := a.cache.Delete(ctx, keys...); err != nil {
		a.logger.Warn("calendar cache invalidation failed", "keys", keys, "err", err)
	}
}

func publicKey(vetID string, year int, month time.Month) string {
	return fmt.Sprintf("public:%s:%04d-%02d", vetID, year, int(month))
}

type nameCache struct {
	dir   storage.Directory
	users map[string]string
	pets  map[string]string
}

func (n *nameCache) user(ctx context.Context, id string) string {
	if name, ok := n.users[id]; ok {
		return name
	}
	if n.users == nil {
		n.users = map[string]string{}
	}
	u, err := n.dir.FindUser(ctx, id)
	if err == nil {
		n.users[id] = u.FullName()
	}
	return n.users[id]
}

func (n *nameCache) pet(ctx context.Context, id string) string {
	if name, ok := n.pets[id]; ok {
		return name
	}
	if n.pets == nil {
		n.pets = map[string]string{}
	}
	p, err := n.dir.FindPet(ctx, id)
	if err == nil {
		n.pets[id] = p.Name
	}
	return n.pets[id]
}
