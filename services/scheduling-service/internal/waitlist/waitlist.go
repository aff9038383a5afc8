// Package waitlist ranks clients waiting for a freed slot.
package waitlist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/apperr"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/storage"
)

const DefaultCandidateLimit = 5

// Repository is the storage the selector needs.
type Repository interface {
	storage.Transactor
	storage.WaitingListRepository
}

type Selector struct {
	repo Repository
	dir  storage.Directory
	now  func() time.Time
}

func NewSelector(repo Repository, dir storage.Directory) *Selector {
	return &Selector{repo: repo, dir: dir, now: time.Now}
}

// TopCandidates returns active, not yet contacted entries ordered by
// priority then submission time. A non-positive limit means the default.
func (s *Selector) TopCandidates(ctx context.Context, limit int) ([]model.WaitingListEntry, error) {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	out, err := s.repo.ListWaitingList(ctx, storage.WaitingListFilter{
		ActiveOnly:      true,
		UncontactedOnly: true,
		Limit:           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list waiting candidates: %w", err)
	}
	if out == nil {
		out = []model.WaitingListEntry{}
	}
	return out, nil
}

// Candidates is TopCandidates for staff.
func (s *Selector) Candidates(ctx context.Context, actor authz.Actor, limit int) ([]model.WaitingListEntry, error) {
	if err := authz.Authorize(actor, authz.ManageWaitlist, authz.Resource{}); err != nil {
		return nil, err
	}
	return s.TopCandidates(ctx, limit)
}

type RegisterInput struct {
	ClientID                string
	PetID                   string
	PreferredVeterinarianID string
	Reason                  string
	Notes                   string
	Priority                int
}

func (s *Selector) Register(ctx context.Context, actor authz.Actor, in RegisterInput) (model.WaitingListEntry, error) {
	if in.ClientID == "" && actor.Role == model.RoleClient {
		in.ClientID = actor.ID
	}
	if err := authz.Authorize(actor, authz.JoinWaitlist, authz.Resource{ClientID: in.ClientID}); err != nil {
		return model.WaitingListEntry{}, err
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.ClientID == "" || in.PetID == "" || in.Reason == "" {
		return model.WaitingListEntry{}, apperr.Validation("client_id, pet_id and reason are required")
	}
	if in.Priority < 0 {
		return model.WaitingListEntry{}, apperr.Validation("priority must not be negative")
	}

	client, err := s.dir.FindUser(ctx, in.ClientID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.WaitingListEntry{}, apperr.Validation("client %s does not exist", in.ClientID)
		}
		return model.WaitingListEntry{}, fmt.Errorf("find client: %w", err)
	}
	if client.Role != model.RoleClient {
		return model.WaitingListEntry{}, apperr.Validation("user %s must have role CLIENT", client.ID)
	}
	pet, err := s.dir.FindPet(ctx, in.PetID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.WaitingListEntry{}, apperr.Validation("pet %s does not exist", in.PetID)
		}
		return model.WaitingListEntry{}, fmt.Errorf("find pet: %w", err)
	}
	if pet.OwnerID != client.ID {
		return model.WaitingListEntry{}, apperr.Validation("pet %s does not belong to client %s", pet.ID, client.ID)
	}
	if in.PreferredVeterinarianID != "" {
		vet, err := s.dir.FindUser(ctx, in.PreferredVeterinarianID)
		if err != nil && !storage.IsNotFound(err) {
			return model.WaitingListEntry{}, fmt.Errorf("find veterinarian: %w", err)
		}
		if err != nil || vet.Role != model.RoleVeterinarian {
			return model.WaitingListEntry{}, apperr.Validation("preferred veterinarian %s does not exist", in.PreferredVeterinarianID)
		}
	}

	entry := model.WaitingListEntry{
		ID:                      uuid.NewString(),
		ClientID:                in.ClientID,
		PetID:                   in.PetID,
		PreferredVeterinarianID: in.PreferredVeterinarianID,
		Reason:                  in.Reason,
		Notes:                   in.Notes,
		IsActive:                true,
		Priority:                in.Priority,
	}
	if err := s.repo.CreateWaitingListEntry(ctx, &entry); err != nil {
		return model.WaitingListEntry{}, fmt.Errorf("create waiting entry: %w", err)
	}
	return entry, nil
}

// MarkContacted records that staff reached the client. Repeating it keeps
// the first contact date.
func (s *Selector) MarkContacted(ctx context.Context, actor authz.Actor, id string) (model.WaitingListEntry, error) {
	if err := authz.Authorize(actor, authz.ManageWaitlist, authz.Resource{}); err != nil {
		return model.WaitingListEntry{}, err
	}
	var entry model.WaitingListEntry
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetWaitingListEntry(ctx, id)
		if err != nil {
			if storage.IsNotFound(err) {
				return apperr.NotFound("waiting list entry %s not found", id)
			}
			return fmt.Errorf("get waiting entry: %w", err)
		}
		if !e.Contacted {
			now := s.now().UTC()
			e.Contacted = true
			e.ContactDate = &now
		}
		if err := s.repo.UpdateWaitingListEntry(ctx, &e); err != nil {
			return fmt.Errorf("update waiting entry: %w", err)
		}
		entry = e
		return nil
	})
	return entry, err
}

// UpdateInput holds the entry fields staff may change. Nil fields are kept.
type UpdateInput struct {
	IsActive *bool
	Priority *int
	Notes    *string
}

// Update edits an entry in place. Contact state is left to MarkContacted.
func (s *Selector) Update(ctx context.Context, actor authz.Actor, id string, in UpdateInput) (model.WaitingListEntry, error) {
	if err := authz.Authorize(actor, authz.ManageWaitlist, authz.Resource{}); err != nil {
		return model.WaitingListEntry{}, err
	}
	if in.IsActive == nil && in.Priority == nil && in.Notes == nil {
		return model.WaitingListEntry{}, apperr.Validation("is_active, priority or notes is required")
	}
	if in.Priority != nil && *in.Priority < 0 {
		return model.WaitingListEntry{}, apperr.Validation("priority must not be negative")
	}
	var entry model.WaitingListEntry
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetWaitingListEntry(ctx, id)
		if err != nil {
			if storage.IsNotFound(err) {
				return apperr.NotFound("waiting list entry %s not found", id)
			}
			return fmt.Errorf("get waiting entry: %w", err)
		}
		if in.IsActive != nil {
			e.IsActive = *in.IsActive
		}
		if in.Priority != nil {
			e.Priority = *in.Priority
		}
		if in.Notes != nil {
			e.Notes = strings.TrimSpace(*in.Notes)
		}
		if err := s.repo.UpdateWaitingListEntry(ctx, &e); err != nil {
			return fmt.Errorf("update waiting entry: %w", err)
		}
		entry = e
		return nil
	})
	return entry, err
}

// List shows clients their own entries and staff every active entry.
func (s *Selector) List(ctx context.Context, actor authz.Actor) ([]model.WaitingListEntry, error) {
	var f storage.WaitingListFilter
	switch actor.Role {
	case model.RoleClient:
		f.ClientID = actor.ID
	case model.RoleReceptionist, model.RoleVeterinarian:
		f.ActiveOnly = true
	default:
		return nil, apperr.Permission("authentication required")
	}
	out, err := s.repo.ListWaitingList(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list waiting list: %w", err)
	}
	if out == nil {
		out = []model.WaitingListEntry{}
	}
	return out, nil
}
