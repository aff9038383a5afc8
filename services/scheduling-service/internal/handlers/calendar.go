package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
)

type monthQuery struct {
	year, month int
	vetID       string
}

func parseMonthQuery(r *http.Request) (monthQuery, error) {
	q := r.URL.Query()
	var (
		m    monthQuery
		errs [3]error
	)
	m.year, errs[0] = parseInt("year", q.Get("year"))
	m.month, errs[1] = parseInt("month", q.Get("month"))
	m.vetID, errs[2] = parseID("veterinarian_id", q.Get("veterinarian_id"))
	return m, firstErr(errs[:]...)
}

func (h *Handler) monthlyCalendar(w http.ResponseWriter, r *http.Request) {
	m, err := parseMonthQuery(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out, err := h.Calendar.MonthlyCalendar(r.Context(), authz.FromContext(r.Context()), m.year, m.month, m.vetID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) publicAvailability(w http.ResponseWriter, r *http.Request) {
	m, err := parseMonthQuery(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out, err := h.Calendar.PublicAvailability(r.Context(), m.year, m.month, m.vetID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
