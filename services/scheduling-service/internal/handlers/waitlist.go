package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/vetclinic/libs/httpx"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/authz"
	"github.com/md-rashed-zaman/vetclinic/services/scheduling-service/internal/waitlist"
)

type registerWaitingRequest struct {
	ClientID                string `json:"client_id"`
	PetID                   string `json:"pet_id"`
	PreferredVeterinarianID string `json:"preferred_veterinarian_id"`
	Reason                  string `json:"reason"`
	Notes                   string `json:"notes"`
	Priority                *int   `json:"priority"`
}

func (h *Handler) registerWaiting(w http.ResponseWriter, r *http.Request) {
	var req registerWaitingRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	in := waitlist.RegisterInput{Reason: req.Reason, Notes: req.Notes, Priority: 1}
	if req.Priority != nil {
		in.Priority = *req.Priority
	}
	var errs [3]error
	in.ClientID, errs[0] = parseID("client_id", req.ClientID)
	in.PetID, errs[1] = parseID("pet_id", req.PetID)
	in.PreferredVeterinarianID, errs[2] = parseID("preferred_veterinarian_id", req.PreferredVeterinarianID)
	if err := firstErr(errs[:]...); err != nil {
		h.writeErr(w, r, err)
		return
	}

	entry, err := h.Waitlist.Register(r.Context(), authz.FromContext(r.Context()), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, entry)
}

func (h *Handler) listWaiting(w http.ResponseWriter, r *http.Request) {
	out, err := h.Waitlist.List(r.Context(), authz.FromContext(r.Context()))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"waiting_list": out})
}

func (h *Handler) waitingCandidates(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt("limit", r.URL.Query().Get("limit"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	out, err := h.Waitlist.Candidates(r.Context(), authz.FromContext(r.Context()), limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"count": len(out), "candidates": out})
}

func (h *Handler) markContacted(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	entry, err := h.Waitlist.MarkContacted(r.Context(), authz.FromContext(r.Context()), id)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entry)
}

type updateWaitingRequest struct {
	IsActive *bool   `json:"is_active"`
	Priority *int    `json:"priority"`
	Notes    *string `json:"notes"`
}

func (h *Handler) updateWaiting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	var req updateWaitingRequest
	if err := decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	entry, err := h.Waitlist.Update(r.Context(), authz.FromContext(r.Context()), id, waitlist.UpdateInput{
		IsActive: req.IsActive,
		Priority: req.Priority,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entry)
}
