// Package clinictest seeds an in-memory clinic for tests.
package clinictest

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

const (
	VetAna       = "11111111-1111-1111-1111-111111111111"
	VetBruno     = "22222222-2222-2222-2222-222222222222"
	VetCarla     = "33333333-3333-3333-3333-333333333333"
	VetRetired   = "44444444-4444-4444-4444-444444444444"
	Receptionist = "55555555-5555-5555-5555-555555555555"
	ClientMaria  = "66666666-6666-6666-6666-666666666666"
	ClientPedro  = "77777777-7777-7777-7777-777777777777"
	PetRex       = "88888888-8888-8888-8888-888888888888"
	PetLuna      = "99999999-9999-9999-9999-999999999999"
)

// Clinic is a memory store with three active veterinarians, one retired
// veterinarian, a receptionist and two clients with one pet each.
type Clinic struct {
	Store *storage.Memory
}

func New(t testing.TB) *Clinic {
	t.Helper()
	m := storage.NewMemory()
	for _, u := range []model.User{
		{ID: VetAna, Role: model.RoleVeterinarian, FirstName: "Ana", LastName: "Ruiz", Email: "ana@clinic.example", IsActive: true},
		{ID: VetBruno, Role: model.RoleVeterinarian, FirstName: "Bruno", LastName: "Soto", Email: "bruno@clinic.example", IsActive: true},
		{ID: VetCarla, Role: model.RoleVeterinarian, FirstName: "Carla", LastName: "Vega", Email: "carla@clinic.example", IsActive: true},
		{ID: VetRetired, Role: model.RoleVeterinarian, FirstName: "Rodolfo", LastName: "Paz", Email: "rodolfo@clinic.example", IsActive: false},
		{ID: Receptionist, Role: model.RoleReceptionist, FirstName: "Rita", LastName: "Front", IsActive: true},
		{ID: ClientMaria, Role: model.RoleClient, FirstName: "Maria", LastName: "Lopez", Email: "maria@example.com", IsActive: true},
		{ID: ClientPedro, Role: model.RoleClient, FirstName: "Pedro", LastName: "Diaz", Email: "pedro@example.com", IsActive: true},
	} {
		m.PutUser(u)
	}
	m.PutPet(model.Pet{ID: PetRex, Name: "Rex", Species: "dog", OwnerID: ClientMaria})
	m.PutPet(model.Pet{ID: PetLuna, Name: "Luna", Species: "cat", OwnerID: ClientPedro})
	return &Clinic{Store: m}
}

func (c *Clinic) Receptionist() authz.Actor {
	return authz.Actor{ID: Receptionist, Role: model.RoleReceptionist, Name: "Rita Front"}
}

func (c *Clinic) Maria() authz.Actor {
	return authz.Actor{ID: ClientMaria, Role: model.RoleClient, Name: "Maria Lopez"}
}

func (c *Clinic) Pedro() authz.Actor {
	return authz.Actor{ID: ClientPedro, Role: model.RoleClient, Name: "Pedro Diaz"}
}

func (c *Clinic) Vet(id string) authz.Actor {
	u, _ := c.Store.FindUser(context.Background(), id)
	return authz.Actor{ID: id, Role: model.RoleVeterinarian, Name: u.FullName()}
}

// Slot stores an available slot of one hour starting at hour:00.
func (c *Clinic) Slot(t testing.TB, id, vetID string, date model.Date, hour int) model.TimeSlot {
	t.Helper()
	s := model.TimeSlot{
		ID:             id,
		VeterinarianID: vetID,
		Date:           date,
		StartTime:      model.NewClock(hour, 0),
		EndTime:        model.NewClock(hour+1, 0),
		IsAvailable:    true,
	}
	if err := c.Store.CreateSlot(context.Background(), &s); err != nil {
		t.Fatalf("seed slot %s: %v", id, err)
	}
	return s
}

// Waiting stores an active waiting list entry.
func (c *Clinic) Waiting(t testing.TB, id, clientID, petID string, priority int, created time.Time) model.WaitingListEntry {
	t.Helper()
	e := model.WaitingListEntry{
		ID:        id,
		ClientID:  clientID,
		PetID:     petID,
		Reason:    "any opening",
		IsActive:  true,
		Priority:  priority,
		CreatedAt: created,
	}
	if err := c.Store.CreateWaitingListEntry(context.Background(), &e); err != nil {
		t.Fatalf("seed waiting entry %s: %v", id, err)
	}
	return e
}

// June10 is the date used across scheduling scenarios.
var June10 = model.NewDate(2025, time.June, 10)
