// Package handlers exposes the scheduling engine over HTTP under /api/v1.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/waitlist"
)

// LivePath is the websocket route. Request timeouts must skip it.
const LivePath = "/api/v1/calendar/live"

type Deps struct {
	Engine   *booking.Engine
	Slots    *slots.Store
	Waitlist *waitlist.Selector
	Calendar *calendar.Aggregator
	// Live serves LivePath when set.
	Live http.Handler
	// Notifier hears about slots created through the API.
	Notifier booking.Notifier
	Logger   *slog.Logger
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	return &Handler{Deps: d}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/slots", h.createSlot)
	mux.HandleFunc("GET /api/v1/slots", h.listSlots)
	mux.HandleFunc("GET /api/v1/slots/{id}", h.getSlot)
	mux.HandleFunc("GET /api/v1/veterinarians/{id}/availability", h.dailyAvailability)

	mux.HandleFunc("POST /api/v1/appointments", h.createAppointment)
	mux.HandleFunc("GET /api/v1/appointments", h.listAppointments)
	mux.HandleFunc("GET /api/v1/appointments/{id}", h.getAppointment)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}", h.updateAppointmentNotes)
	mux.HandleFunc("GET /api/v1/appointments/{id}/history", h.appointmentHistory)
	mux.HandleFunc("POST /api/v1/appointments/{id}/confirm", h.confirmAppointment)
	mux.HandleFunc("POST /api/v1/appointments/{id}/reschedule", h.rescheduleAppointment)
	mux.HandleFunc("POST /api/v1/appointments/{id}/cancel", h.cancelAppointment)
	mux.HandleFunc("POST /api/v1/appointments/{id}/attend", h.attendAppointment)
	mux.HandleFunc("GET /api/v1/alternatives", h.alternatives)

	mux.HandleFunc("GET /api/v1/calendar/monthly", h.monthlyCalendar)
	mux.HandleFunc("GET /api/v1/public/availability", h.publicAvailability)
	if h.Live != nil {
		mux.Handle("GET "+LivePath, h.Live)
	}

	mux.HandleFunc("POST /api/v1/waiting-list", h.registerWaiting)
	mux.HandleFunc("GET /api/v1/waiting-list", h.listWaiting)
	mux.HandleFunc("GET /api/v1/waiting-list/candidates", h.waitingCandidates)
	mux.HandleFunc("PATCH /api/v1/waiting-list/{id}", h.updateWaiting)
	mux.HandleFunc("POST /api/v1/waiting-list/{id}/contact", h.markContacted)
}

type errorResponse struct {
	Error        string                          `json:"error"`
	Message      string                          `json:"message"`
	Alternatives []model.AlternativeVeterinarian `json:"alternative_veterinarians,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPermission:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindSlotUnavailable, apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
		return
	}
	resp := errorResponse{Error: string(e.Kind), Message: e.Message}
	if e.Kind == apperr.KindSlotUnavailable {
		resp.Alternatives = e.Alternatives
		if resp.Alternatives == nil {
			resp.Alternatives = []model.AlternativeVeterinarian{}
		}
	}
	httpx.WriteJSON(w, statusFor(e.Kind), resp)
}

func pathID(r *http.Request) (string, error) {
	return parseID("id", r.PathValue("id"))
}

func parseID(field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", apperr.Validation("%s must be a uuid", field)
	}
	return id.String(), nil
}

func parseDate(field, raw string) (model.Date, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Date{}, nil
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return model.Date{}, apperr.Validation("%s must be YYYY-MM-DD", field)
	}
	return d, nil
}

func parseClock(field, raw string) (model.Clock, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Clock(-1), nil
	}
	c, err := model.ParseClock(raw)
	if err != nil {
		return model.Clock(-1), apperr.Validation("%s must be HH:MM", field)
	}
	return c, nil
}

func parseInt(field, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", field)
	}
	return n, nil
}

func decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	return nil
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return decode(r, dst)
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
