package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/md-rashed-zaman/vetclinic/libs/db"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/outbox"
)

type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.pool.InTx(ctx, fn)
}

func (p *Postgres) conn(ctx context.Context) db.Queryable {
	return p.pool.Conn(ctx)
}

// pgTime encodes a clock for a TIME column.
func pgTime(c model.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: c.Duration().Microseconds(), Valid: true}
}

func clockFromPG(t pgtype.Time) model.Clock {
	return model.Clock(time.Duration(t.Microseconds) * time.Microsecond / time.Minute)
}

// pgDate encodes a date for a DATE column; the zero date is NULL.
func pgDate(d model.Date) pgtype.Date {
	if d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time(), Valid: true}
}

// nullable maps "" to NULL for optional uuid columns.
func nullable(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// Slots

const slotColumns = `id::text, veterinarian_id::text, slot_date, start_time, end_time, is_available`

func scanSlot(row pgx.Row) (model.TimeSlot, error) {
	var (
		s          model.TimeSlot
		date       time.Time
		start, end pgtype.Time
	)
	if err := row.Scan(&s.ID, &s.VeterinarianID, &date, &start, &end, &s.IsAvailable); err != nil {
		return model.TimeSlot{}, err
	}
	s.Date = model.DateOf(date)
	s.StartTime = clockFromPG(start)
	s.EndTime = clockFromPG(end)
	return s, nil
}

func (p *Postgres) CreateSlot(ctx context.Context, s *model.TimeSlot) error {
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO time_slots (id, veterinarian_id, slot_date, start_time, end_time, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.ID, s.VeterinarianID, pgDate(s.Date), pgTime(s.StartTime), pgTime(s.EndTime), s.IsAvailable)
	return mapErr(err)
}

func (p *Postgres) GetSlot(ctx context.Context, id string) (model.TimeSlot, error) {
	s, err := scanSlot(p.conn(ctx).QueryRow(ctx, `SELECT `+slotColumns+` FROM time_slots WHERE id = $1`, id))
	return s, mapErr(err)
}

func (p *Postgres) ListSlots(ctx context.Context, f SlotFilter) ([]model.TimeSlot, error) {
	var start pgtype.Time
	if f.StartTime != nil {
		start = pgTime(*f.StartTime)
	}
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE ($1::uuid IS NULL OR veterinarian_id = $1)
			AND ($2::date IS NULL OR slot_date >= $2)
			AND ($3::date IS NULL OR slot_date <= $3)
			AND ($4::time IS NULL OR start_time = $4)
			AND (NOT $5 OR is_available)
		ORDER BY slot_date, start_time, veterinarian_id
	`, nullable(f.VeterinarianID), pgDate(f.From), pgDate(f.To), start, f.AvailableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

func (p *Postgres) SetSlotAvailability(ctx context.Context, id string, available bool) error {
	tag, err := p.conn(ctx).Exec(ctx, `UPDATE time_slots SET is_available = $2 WHERE id = $1`, id, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ClaimSlot(ctx context.Context, id string) (bool, error) {
	tag, err := p.conn(ctx).Exec(ctx, `
		UPDATE time_slots SET is_available = false
		WHERE id = $1 AND is_available = true
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Appointments

const appointmentColumns = `id::text, pet_id::text, client_id::text, COALESCE(veterinarian_id::text, ''),
	COALESCE(time_slot_id::text, ''), appointment_date, appointment_time, reason, status, confirmed_24h,
	confirmation_date, notes, receptionist_notes, COALESCE(rescheduled_from_id::text, ''),
	COALESCE(created_by::text, ''), created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		date   time.Time
		at     pgtype.Time
		status string
	)
	if err := row.Scan(&a.ID, &a.PetID, &a.ClientID, &a.VeterinarianID, &a.TimeSlotID, &date, &at,
		&a.Reason, &status, &a.Confirmed24h, &a.ConfirmationDate, &a.Notes, &a.ReceptionistNotes,
		&a.RescheduledFromID, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Appointment{}, err
	}
	a.Date = model.DateOf(date)
	a.Time = clockFromPG(at)
	a.Status = model.Status(status)
	return a, nil
}

func (p *Postgres) CreateAppointment(ctx context.Context, a *model.Appointment) error {
	err := p.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments
			(id, pet_id, client_id, veterinarian_id, time_slot_id, appointment_date, appointment_time,
			 reason, status, confirmed_24h, notes, receptionist_notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, a.ID, a.PetID, a.ClientID, nullable(a.VeterinarianID), nullable(a.TimeSlotID), pgDate(a.Date),
		pgTime(a.Time), a.Reason, string(a.Status), a.Confirmed24h, a.Notes, a.ReceptionistNotes,
		nullable(a.CreatedBy)).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(p.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	return a, mapErr(err)
}

func (p *Postgres) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(p.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	return a, mapErr(err)
}

func (p *Postgres) UpdateAppointment(ctx context.Context, a *model.Appointment) error {
	err := p.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET veterinarian_id = $2,
			time_slot_id = $3,
			appointment_date = $4,
			appointment_time = $5,
			reason = $6,
			status = $7,
			confirmed_24h = $8,
			confirmation_date = $9,
			notes = $10,
			receptionist_notes = $11,
			rescheduled_from_id = $12,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, a.ID, nullable(a.VeterinarianID), nullable(a.TimeSlotID), pgDate(a.Date), pgTime(a.Time), a.Reason,
		string(a.Status), a.Confirmed24h, a.ConfirmationDate, a.Notes, a.ReceptionistNotes,
		nullable(a.RescheduledFromID)).Scan(&a.UpdatedAt)
	return mapErr(err)
}

func (p *Postgres) AppointmentBySlot(ctx context.Context, slotID string) (model.Appointment, error) {
	a, err := scanAppointment(p.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE time_slot_id = $1`, slotID))
	return a, mapErr(err)
}

func (p *Postgres) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses = append(statuses, string(s))
	}
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::uuid IS NULL OR client_id = $1)
			AND ($2::uuid IS NULL OR veterinarian_id = $2)
			AND (cardinality($3::text[]) = 0 OR status = ANY($3))
			AND ($4::date IS NULL OR appointment_date >= $4)
			AND ($5::date IS NULL OR appointment_date <= $5)
		ORDER BY appointment_date, appointment_time, id
		LIMIT $6
	`, nullable(f.ClientID), nullable(f.VeterinarianID), statuses, pgDate(f.From), pgDate(f.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (p *Postgres) CreateRescheduleRecord(ctx context.Context, r *model.RescheduleRecord) error {
	err := p.conn(ctx).QueryRow(ctx, `
		INSERT INTO reschedule_records
			(id, appointment_id, from_date, from_time, from_veterinarian_id, from_slot_id,
			 to_date, to_time, to_veterinarian_id, to_slot_id, reason, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, r.ID, r.AppointmentID, pgDate(r.FromDate), pgTime(r.FromTime), nullable(r.FromVeterinarianID),
		nullable(r.FromSlotID), pgDate(r.ToDate), pgTime(r.ToTime), nullable(r.ToVeterinarianID),
		nullable(r.ToSlotID), r.Reason, r.ActorID).Scan(&r.CreatedAt)
	return mapErr(err)
}

func (p *Postgres) ListRescheduleRecords(ctx context.Context, appointmentID string) ([]model.RescheduleRecord, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT id::text, appointment_id::text, from_date, from_time, COALESCE(from_veterinarian_id::text, ''),
			COALESCE(from_slot_id::text, ''), to_date, to_time, COALESCE(to_veterinarian_id::text, ''),
			COALESCE(to_slot_id::text, ''), reason, actor_id::text, created_at
		FROM reschedule_records
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.RescheduleRecord
	for rows.Next() {
		var (
			r                model.RescheduleRecord
			fromDate, toDate time.Time
			fromAt, toAt     pgtype.Time
		)
		if err := rows.Scan(&r.ID, &r.AppointmentID, &fromDate, &fromAt, &r.FromVeterinarianID, &r.FromSlotID,
			&toDate, &toAt, &r.ToVeterinarianID, &r.ToSlotID, &r.Reason, &r.ActorID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.FromDate, r.ToDate = model.DateOf(fromDate), model.DateOf(toDate)
		r.FromTime, r.ToTime = clockFromPG(fromAt), clockFromPG(toAt)
		recs = append(recs, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return recs, nil
}

// Waiting list

const waitingColumns = `id::text, client_id::text, pet_id::text, COALESCE(preferred_veterinarian_id::text, ''),
	reason, notes, is_active, contacted, contact_date, priority, created_at, updated_at`

func scanWaiting(row pgx.Row) (model.WaitingListEntry, error) {
	var e model.WaitingListEntry
	err := row.Scan(&e.ID, &e.ClientID, &e.PetID, &e.PreferredVeterinarianID, &e.Reason, &e.Notes,
		&e.IsActive, &e.Contacted, &e.ContactDate, &e.Priority, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (p *Postgres) CreateWaitingListEntry(ctx context.Context, e *model.WaitingListEntry) error {
	err := p.conn(ctx).QueryRow(ctx, `
		INSERT INTO waiting_list
			(id, client_id, pet_id, preferred_veterinarian_id, reason, notes, is_active, contacted, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, e.ID, e.ClientID, e.PetID, nullable(e.PreferredVeterinarianID), e.Reason, e.Notes, e.IsActive,
		e.Contacted, e.Priority).Scan(&e.CreatedAt, &e.UpdatedAt)
	return mapErr(err)
}

func (p *Postgres) GetWaitingListEntry(ctx context.Context, id string) (model.WaitingListEntry, error) {
	e, err := scanWaiting(p.conn(ctx).QueryRow(ctx, `SELECT `+waitingColumns+` FROM waiting_list WHERE id = $1`, id))
	return e, mapErr(err)
}

func (p *Postgres) UpdateWaitingListEntry(ctx context.Context, e *model.WaitingListEntry) error {
	err := p.conn(ctx).QueryRow(ctx, `
		UPDATE waiting_list
		SET is_active = $2, contacted = $3, contact_date = $4, priority = $5, notes = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, e.ID, e.IsActive, e.Contacted, e.ContactDate, e.Priority, e.Notes).Scan(&e.UpdatedAt)
	return mapErr(err)
}

func (p *Postgres) ListWaitingList(ctx context.Context, f WaitingListFilter) ([]model.WaitingListEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT `+waitingColumns+`
		FROM waiting_list
		WHERE ($1::uuid IS NULL OR client_id = $1)
			AND (NOT $2 OR is_active)
			AND (NOT $3 OR NOT contacted)
		ORDER BY priority, created_at, id
		LIMIT $4
	`, nullable(f.ClientID), f.ActiveOnly, f.UncontactedOnly, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WaitingListEntry
	for rows.Next() {
		e, err := scanWaiting(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// Directory

func (p *Postgres) FindUser(ctx context.Context, id string) (model.User, error) {
	var (
		u    model.User
		role string
	)
	err := p.conn(ctx).QueryRow(ctx, `
		SELECT id::text, role, first_name, last_name, email, is_active FROM users WHERE id = $1
	`, id).Scan(&u.ID, &role, &u.FirstName, &u.LastName, &u.Email, &u.IsActive)
	u.Role = model.Role(role)
	return u, mapErr(err)
}

func (p *Postgres) UsersByRole(ctx context.Context, role model.Role, activeOnly bool) ([]model.User, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT id::text, role, first_name, last_name, email, is_active
		FROM users
		WHERE role = $1 AND (NOT $2 OR is_active)
		ORDER BY last_name, first_name, id
	`, string(role), activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			u model.User
			r string
		)
		if err := rows.Scan(&u.ID, &r, &u.FirstName, &u.LastName, &u.Email, &u.IsActive); err != nil {
			return nil, err
		}
		u.Role = model.Role(r)
		users = append(users, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return users, nil
}

func (p *Postgres) FindPet(ctx context.Context, id string) (model.Pet, error) {
	var pet model.Pet
	err := p.conn(ctx).QueryRow(ctx, `
		SELECT id::text, name, species, owner_id::text FROM pets WHERE id = $1
	`, id).Scan(&pet.ID, &pet.Name, &pet.Species, &pet.OwnerID)
	return pet, mapErr(err)
}

// Outbox

func (p *Postgres) AppendOutbox(ctx context.Context, evt outbox.Event) error {
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, evt.Traceparent, evt.Tracestate)
	return err
}

func (p *Postgres) FetchUnpublishedOutbox(ctx context.Context, limit int) ([]outbox.Record, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var r outbox.Record
		if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload,
			&r.Traceparent, &r.Tracestate, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (p *Postgres) MarkOutboxPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.conn(ctx).Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
