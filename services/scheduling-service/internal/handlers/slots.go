package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

type createSlotRequest struct {
	VeterinarianID string `json:"veterinarian_id"`
	Date           string `json:"date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
}

func (h *Handler) createSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	var (
		in   slots.CreateInput
		errs [4]error
	)
	in.VeterinarianID, errs[0] = parseID("veterinarian_id", req.VeterinarianID)
	in.Date, errs[1] = parseDate("date", req.Date)
	in.StartTime, errs[2] = parseClock("start_time", req.StartTime)
	in.EndTime, errs[3] = parseClock("end_time", req.EndTime)
	if err := firstErr(errs[:]...); err != nil {
		h.writeErr(w, r, err)
		return
	}

	slot, err := h.Slots.Create(r.Context(), authz.FromContext(r.Context()), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if h.Notifier != nil {
		h.Notifier.SlotsChanged(r.Context(), []model.SlotChange{{
			VeterinarianID: slot.VeterinarianID, Date: slot.Date, Kind: "created", SlotID: slot.ID,
		}})
	}
	httpx.WriteJSON(w, http.StatusCreated, slot)
}

func (h *Handler) listSlots(w http.ResponseWriter, r *http.Request) {
	if authz.FromContext(r.Context()).Anonymous() {
		h.writeErr(w, r, apperr.Permission("authentication required"))
		return
	}
	q := r.URL.Query()
	var (
		f    storage.SlotFilter
		errs [3]error
	)
	f.VeterinarianID, errs[0] = parseID("veterinarian_id", q.Get("veterinarian_id"))
	f.From, errs[1] = parseDate("from", q.Get("from"))
	f.To, errs[2] = parseDate("to", q.Get("to"))
	if err := firstErr(errs[:]...); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if raw := q.Get("available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeErr(w, r, apperr.Validation("available must be a boolean"))
			return
		}
		f.AvailableOnly = v
	}

	out, err := h.Slots.List(r.Context(), f)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"time_slots": out})
}

func (h *Handler) getSlot(w http.ResponseWriter, r *http.Request) {
	if authz.FromContext(r.Context()).Anonymous() {
		h.writeErr(w, r, apperr.Permission("authentication required"))
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	slot, err := h.Slots.Get(r.Context(), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slot)
}

type dailyAvailabilityResponse struct {
	Veterinarian struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"veterinarian"`
	Date           model.Date       `json:"date"`
	AvailableSlots []model.TimeSlot `json:"available_slots"`
}

func (h *Handler) dailyAvailability(w http.ResponseWriter, r *http.Request) {
	if authz.FromContext(r.Context()).Anonymous() {
		h.writeErr(w, r, apperr.Permission("authentication required"))
		return
	}
	vetID, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	date, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if date.IsZero() {
		date = model.DateOf(time.Now())
	}

	day, err := h.Slots.Daily(r.Context(), vetID, date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var resp dailyAvailabilityResponse
	resp.Veterinarian.ID = day.Veterinarian.ID
	resp.Veterinarian.Name = day.Veterinarian.FullName()
	resp.Date = day.Date
	resp.AvailableSlots = day.Slots
	httpx.WriteJSON(w, http.StatusOK, resp)
}
