package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
)

type createAppointmentRequest struct {
	PetID           string `json:"pet_id"`
	ClientID        string `json:"client_id"`
	VeterinarianID  string `json:"veterinarian_id"`
	TimeSlotID      string `json:"time_slot_id"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	Reason          string `json:"reason"`
	Notes           string `json:"notes"`
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	in := booking.CreateInput{Reason: req.Reason, Notes: req.Notes}
	var errs [6]error
	in.PetID, errs[0] = parseID("pet_id", req.PetID)
	in.ClientID, errs[1] = parseID("client_id", req.ClientID)
	in.VeterinarianID, errs[2] = parseID("veterinarian_id", req.VeterinarianID)
	in.TimeSlotID, errs[3] = parseID("time_slot_id", req.TimeSlotID)
	in.Date, errs[4] = parseDate("appointment_date", req.AppointmentDate)
	in.Time, errs[5] = parseClock("appointment_time", req.AppointmentTime)
	if err := firstErr(errs[:]...); err != nil {
		h.writeErr(w, r, err)
		return
	}

	appt, err := h.Engine.CreateAppointment(r.Context(), authz.FromContext(r.Context()), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f    booking.ListFilter
		errs [4]error
	)
	f.VeterinarianID, errs[0] = parseID("veterinarian_id", q.Get("veterinarian_id"))
	f.ClientID, errs[1] = parseID("client_id", q.Get("client_id"))
	f.Date, errs[2] = parseDate("date", q.Get("date"))
	f.Limit, errs[3] = parseInt("limit", q.Get("limit"))
	if err := firstErr(errs[:]...); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := model.ParseStatus(raw)
		if !ok {
			h.writeErr(w, r, apperr.Validation("unknown status %q", raw))
			return
		}
		f.Status = status
	}

	out, err := h.Engine.ListAppointments(r.Context(), authz.FromContext(r.Context()), f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	appt, err := h.Engine.GetAppointment(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *Handler) appointmentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	recs, err := h.Engine.History(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointment_id": id, "reschedules": recs})
}

type confirmRequest struct {
	Confirmed24h bool `json:"confirmed_24h"`
}

func (h *Handler) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	req := confirmRequest{Confirmed24h: true}
	if err := decodeOptional(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	appt, err := h.Engine.ConfirmAppointment(r.Context(), authz.FromContext(r.Context()), id, req.Confirmed24h)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

type rescheduleRequest struct {
	NewDate           string `json:"new_date"`
	NewTime           string `json:"new_time"`
	NewVeterinarianID string `json:"new_veterinarian_id"`
	NewTimeSlotID     string `json:"new_time_slot_id"`
	Reason            string `json:"reason"`
}

func (h *Handler) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	in := booking.RescheduleInput{Reason: req.Reason}
	var errs [4]error
	in.NewDate, errs[0] = parseDate("new_date", req.NewDate)
	in.NewTime, errs[1] = parseClock("new_time", req.NewTime)
	in.NewVeterinarianID, errs[2] = parseID("new_veterinarian_id", req.NewVeterinarianID)
	in.NewTimeSlotID, errs[3] = parseID("new_time_slot_id", req.NewTimeSlotID)
	if err := firstErr(errs[:]...); err != nil {
		h.writeErr(w, r, err)
		return
	}

	appt, err := h.Engine.RescheduleAppointment(r.Context(), authz.FromContext(r.Context()), id, in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message":     "appointment rescheduled",
		"appointment": appt,
	})
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	res, err := h.Engine.CancelAppointment(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type notesRequest struct {
	Notes             *string `json:"notes"`
	ReceptionistNotes *string `json:"receptionist_notes"`
}

func (h *Handler) updateAppointmentNotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var req notesRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	appt, err := h.Engine.UpdateNotes(r.Context(), authz.FromContext(r.Context()), id, booking.NotesInput{
		Notes:             req.Notes,
		ReceptionistNotes: req.ReceptionistNotes,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *Handler) attendAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	appt, err := h.Engine.AttendAppointment(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *Handler) alternatives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	at, err := parseClock("time", q.Get("time"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if date.IsZero() || !at.Valid() {
		h.writeErr(w, r, apperr.Validation("date and time are required"))
		return
	}
	exclude, err := parseID("exclude_veterinarian_id", q.Get("exclude_veterinarian_id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	alts, err := h.Engine.FindAlternatives(r.Context(), date, at, exclude)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"alternative_veterinarians": alts})
}
