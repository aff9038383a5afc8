package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetclinic/libs/auth"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/clinictest"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/slots"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/waitlist"
)

const (
	secret     = "test-secret"
	slotAna9   = "a0000000-0000-0000-0000-000000000009"
	slotBruno9 = "b0000000-0000-0000-0000-000000000009"
)

type api struct {
	t      *testing.T
	clinic *clinictest.Clinic
	h      http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	c := clinictest.New(t)
	c.Slot(t, slotAna9, clinictest.VetAna, clinictest.June10, 9)
	c.Slot(t, slotBruno9, clinictest.VetBruno, clinictest.June10, 9)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	slotStore := slots.NewStore(c.Store, c.Store)
	selector := waitlist.NewSelector(c.Store, c.Store)
	agg := calendar.NewAggregator(c.Store, logger)
	engine := booking.NewEngine(c.Store, slotStore, selector, logger, booking.WithNotifier(agg))

	mux := http.NewServeMux()
	handlers.New(handlers.Deps{
		Engine:   engine,
		Slots:    slotStore,
		Waitlist: selector,
		Calendar: agg,
		Notifier: agg,
		Logger:   logger,
	}).Register(mux)
	return &api{t: t, clinic: c, h: auth.Middleware(secret, nil)(mux)}
}

func token(t *testing.T, sub string, role model.Role) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims(sub, string(role), "", time.Hour), secret)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (a *api) do(method, path, tok string, body any) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			a.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rw := httptest.NewRecorder()
	a.h.ServeHTTP(rw, req)
	var out map[string]any
	if rw.Body.Len() > 0 {
		_ = json.Unmarshal(rw.Body.Bytes(), &out)
	}
	return rw, out
}

func TestCreateAppointmentConflictReturnsAlternatives(t *testing.T) {
	a := newAPI(t)
	staff := token(t, clinictest.Receptionist, model.RoleReceptionist)

	rw, body := a.do(http.MethodPost, "/api/v1/appointments", staff, map[string]string{
		"pet_id": clinictest.PetRex, "client_id": clinictest.ClientMaria, "time_slot_id": slotAna9, "reason": "vaccination",
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rw.Code, rw.Body)
	}
	if body["status"] != "PENDING" || body["appointment_date"] != "2025-06-10" || body["appointment_time"] != "09:00" {
		t.Fatalf("body = %v", body)
	}

	rw, body = a.do(http.MethodPost, "/api/v1/appointments", staff, map[string]string{
		"pet_id": clinictest.PetLuna, "client_id": clinictest.ClientPedro, "time_slot_id": slotAna9, "reason": "check-up",
	})
	if rw.Code != http.StatusConflict || body["error"] != "slot_unavailable" {
		t.Fatalf("second create = %d %s", rw.Code, rw.Body)
	}
	alts, ok := body["alternative_veterinarians"].([]any)
	if !ok || len(alts) != 1 {
		t.Fatalf("alternatives = %v", body["alternative_veterinarians"])
	}
	if alt := alts[0].(map[string]any); alt["veterinarian_id"] != clinictest.VetBruno || alt["slot_id"] != slotBruno9 {
		t.Fatalf("alternative = %v", alt)
	}
}

func TestErrorMapping(t *testing.T) {
	a := newAPI(t)
	vet := token(t, clinictest.VetAna, model.RoleVeterinarian)
	maria := token(t, clinictest.ClientMaria, model.RoleClient)

	cases := []struct {
		name   string
		method string
		path   string
		tok    string
		body   any
		status int
		kind   string
	}{
		{"vet cannot book", http.MethodPost, "/api/v1/appointments", vet,
			map[string]string{"pet_id": clinictest.PetRex, "client_id": clinictest.ClientMaria, "time_slot_id": slotAna9, "reason": "x"},
			http.StatusForbidden, "permission"},
		{"pet not owned", http.MethodPost, "/api/v1/appointments", maria,
			map[string]string{"pet_id": clinictest.PetLuna, "time_slot_id": slotAna9, "reason": "x"},
			http.StatusBadRequest, "validation"},
		{"bad uuid", http.MethodGet, "/api/v1/appointments/not-a-uuid", maria, nil, http.StatusBadRequest, "validation"},
		{"unknown appointment", http.MethodGet, "/api/v1/appointments/deadbeef-0000-0000-0000-000000000000", maria, nil, http.StatusNotFound, "not_found"},
		{"unknown field", http.MethodPost, "/api/v1/appointments", maria, map[string]string{"pet": "x"}, http.StatusBadRequest, "validation"},
		{"vet browsing calendar", http.MethodGet, "/api/v1/calendar/monthly?year=2025&month=6", vet, nil, http.StatusForbidden, "permission"},
		{"month out of range", http.MethodGet, "/api/v1/calendar/monthly?month=13", "", nil, http.StatusBadRequest, "validation"},
		{"public needs vet", http.MethodGet, "/api/v1/public/availability?year=2025&month=6", "", nil, http.StatusBadRequest, "validation"},
		{"anonymous slots", http.MethodGet, "/api/v1/slots", "", nil, http.StatusForbidden, "permission"},
		{"duplicate slot", http.MethodPost, "/api/v1/slots", token(t, clinictest.Receptionist, model.RoleReceptionist),
			map[string]string{"veterinarian_id": clinictest.VetAna, "date": "2025-06-10", "start_time": "09:30", "end_time": "10:30"},
			http.StatusConflict, "conflict"},
		{"candidates need staff", http.MethodGet, "/api/v1/waiting-list/candidates", maria, nil, http.StatusForbidden, "permission"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rw, body := a.do(tc.method, tc.path, tc.tok, tc.body)
			if rw.Code != tc.status || body["error"] != tc.kind {
				t.Fatalf("got %d %s, want %d %s", rw.Code, rw.Body, tc.status, tc.kind)
			}
		})
	}
}

func TestBadTokenRejected(t *testing.T) {
	a := newAPI(t)
	rw, _ := a.do(http.MethodGet, "/api/v1/public/availability", "garbage", nil)
	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rw.Code)
	}
}

func TestCancelFlow(t *testing.T) {
	a := newAPI(t)
	maria := token(t, clinictest.ClientMaria, model.RoleClient)
	staff := token(t, clinictest.Receptionist, model.RoleReceptionist)

	rw, body := a.do(http.MethodPost, "/api/v1/waiting-list", token(t, clinictest.ClientPedro, model.RoleClient), map[string]any{
		"pet_id": clinictest.PetLuna, "reason": "any opening", "priority": 1,
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("join waiting list = %d %s", rw.Code, rw.Body)
	}
	waitingID := body["id"].(string)

	rw, body = a.do(http.MethodPost, "/api/v1/appointments", maria, map[string]string{
		"pet_id": clinictest.PetRex, "time_slot_id": slotAna9, "reason": "vaccination",
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rw.Code, rw.Body)
	}
	id := body["id"].(string)

	rw, body = a.do(http.MethodPost, "/api/v1/appointments/"+id+"/cancel", maria, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("cancel = %d %s", rw.Code, rw.Body)
	}
	if body["waiting_list_count"] != float64(1) || body["message"] != "appointment cancelled" {
		t.Fatalf("cancel body = %v", body)
	}
	if client := body["client"].(map[string]any); client["email"] != "maria@example.com" || client["name"] != "Maria Lopez" {
		t.Fatalf("client = %v", client)
	}
	if pet := body["pet"].(map[string]any); pet["id"] != clinictest.PetRex || pet["species"] != "dog" {
		t.Fatalf("pet = %v", pet)
	}
	freed := body["freed_slot"].(map[string]any)
	if freed["slot_id"] != slotAna9 || freed["start_time"] != "09:00" {
		t.Fatalf("freed = %v", freed)
	}

	rw, body = a.do(http.MethodGet, "/api/v1/public/availability?year=2025&month=6&veterinarian_id="+clinictest.VetAna, "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("public = %d %s", rw.Code, rw.Body)
	}
	if days := body["calendar"].([]any); len(days) != 1 {
		t.Fatalf("public days = %v", days)
	}

	rw, body = a.do(http.MethodPatch, "/api/v1/waiting-list/"+waitingID, staff, map[string]any{"priority": 0, "notes": "call after 5pm"})
	if rw.Code != http.StatusOK || body["priority"] != float64(0) || body["notes"] != "call after 5pm" {
		t.Fatalf("update waiting = %d %s", rw.Code, rw.Body)
	}
	if rw, _ := a.do(http.MethodPatch, "/api/v1/waiting-list/"+waitingID, maria, map[string]any{"is_active": false}); rw.Code != http.StatusForbidden {
		t.Fatalf("client update waiting = %d %s", rw.Code, rw.Body)
	}

	rw, _ = a.do(http.MethodPost, "/api/v1/waiting-list/"+waitingID+"/contact", staff, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("contact = %d %s", rw.Code, rw.Body)
	}
	_, body = a.do(http.MethodGet, "/api/v1/waiting-list/candidates", staff, nil)
	if body["count"] != float64(0) {
		t.Fatalf("candidates after contact = %v", body)
	}

	rw, body = a.do(http.MethodPost, "/api/v1/appointments/"+id+"/cancel", maria, nil)
	if rw.Code != http.StatusConflict || body["error"] != "invalid_state" {
		t.Fatalf("second cancel = %d %s", rw.Code, rw.Body)
	}
}

func TestUpdateAppointmentNotes(t *testing.T) {
	a := newAPI(t)
	maria := token(t, clinictest.ClientMaria, model.RoleClient)
	staff := token(t, clinictest.Receptionist, model.RoleReceptionist)

	_, body := a.do(http.MethodPost, "/api/v1/appointments", maria, map[string]string{
		"pet_id": clinictest.PetRex, "time_slot_id": slotAna9, "reason": "vaccination",
	})
	id := body["id"].(string)

	rw, body := a.do(http.MethodPatch, "/api/v1/appointments/"+id, maria, map[string]string{"notes": "bring vaccine card"})
	if rw.Code != http.StatusOK || body["notes"] != "bring vaccine card" || body["status"] != "PENDING" {
		t.Fatalf("client notes = %d %s", rw.Code, rw.Body)
	}
	rw, body = a.do(http.MethodPatch, "/api/v1/appointments/"+id, maria, map[string]string{"receptionist_notes": "vip"})
	if rw.Code != http.StatusForbidden || body["error"] != "permission" {
		t.Fatalf("client receptionist notes = %d %s", rw.Code, rw.Body)
	}
	rw, body = a.do(http.MethodPatch, "/api/v1/appointments/"+id, staff, map[string]string{"receptionist_notes": "paid deposit"})
	if rw.Code != http.StatusOK || body["receptionist_notes"] != "paid deposit" || body["notes"] != "bring vaccine card" {
		t.Fatalf("staff notes = %d %s", rw.Code, rw.Body)
	}
	if rw, _ := a.do(http.MethodPatch, "/api/v1/appointments/"+id, staff, map[string]string{}); rw.Code != http.StatusBadRequest {
		t.Fatalf("empty patch = %d %s", rw.Code, rw.Body)
	}
}

func TestRescheduleAndHistory(t *testing.T) {
	a := newAPI(t)
	staff := token(t, clinictest.Receptionist, model.RoleReceptionist)

	_, body := a.do(http.MethodPost, "/api/v1/appointments", staff, map[string]string{
		"pet_id": clinictest.PetRex, "client_id": clinictest.ClientMaria, "time_slot_id": slotAna9, "reason": "vaccination",
	})
	id := body["id"].(string)

	rw, body := a.do(http.MethodPost, "/api/v1/appointments/"+id+"/reschedule", staff, map[string]string{
		"new_time_slot_id": slotBruno9, "reason": "vet on leave",
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("reschedule = %d %s", rw.Code, rw.Body)
	}
	if appt := body["appointment"].(map[string]any); appt["status"] != "RESCHEDULED" || appt["veterinarian_id"] != clinictest.VetBruno {
		t.Fatalf("appointment = %v", appt)
	}

	rw, body = a.do(http.MethodGet, "/api/v1/appointments/"+id+"/history", token(t, clinictest.ClientMaria, model.RoleClient), nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("history = %d %s", rw.Code, rw.Body)
	}
	if recs := body["reschedules"].([]any); len(recs) != 1 {
		t.Fatalf("history = %v", recs)
	}

	vet := token(t, clinictest.VetBruno, model.RoleVeterinarian)
	if rw, _ := a.do(http.MethodPost, "/api/v1/appointments/"+id+"/attend", vet, nil); rw.Code != http.StatusOK {
		t.Fatalf("attend = %d %s", rw.Code, rw.Body)
	}
	if rw, body := a.do(http.MethodPost, "/api/v1/appointments/"+id+"/attend", vet, nil); rw.Code != http.StatusConflict || body["error"] != "invalid_state" {
		t.Fatalf("second attend = %d %s", rw.Code, rw.Body)
	}
}

func TestSlotCreationAndDailyAvailability(t *testing.T) {
	a := newAPI(t)
	staff := token(t, clinictest.Receptionist, model.RoleReceptionist)

	rw, body := a.do(http.MethodPost, "/api/v1/slots", staff, map[string]string{
		"veterinarian_id": clinictest.VetAna, "date": "2025-06-10", "start_time": "14:00", "end_time": "14:30",
	})
	if rw.Code != http.StatusCreated || body["is_available"] != true {
		t.Fatalf("create slot = %d %s", rw.Code, rw.Body)
	}

	rw, body = a.do(http.MethodGet, "/api/v1/veterinarians/"+clinictest.VetAna+"/availability?date=2025-06-10", staff, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("daily = %d %s", rw.Code, rw.Body)
	}
	if got := body["available_slots"].([]any); len(got) != 2 {
		t.Fatalf("daily slots = %v", got)
	}
	if vet := body["veterinarian"].(map[string]any); vet["name"] != "Ana Ruiz" {
		t.Fatalf("veterinarian = %v", vet)
	}

	rw, body = a.do(http.MethodGet, "/api/v1/alternatives?date=2025-06-10&time=09:00&exclude_veterinarian_id="+clinictest.VetAna, "", nil)
	if rw.Code != http.StatusOK || len(body["alternative_veterinarians"].([]any)) != 1 {
		t.Fatalf("alternatives = %d %s", rw.Code, rw.Body)
	}
}
