package handler

import (
	"context"
	"net/http"

	"github.com/Dan9191/sacco-service/internal/models"
)

type registerMemberRequest struct {
	Reference string                `json:"reference"`
	Email     string                `json:"email"`
	Type      models.MembershipType `json:"type"`
}

// RegisterMember records an approved membership application
func (h *Handler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.svc.Members.Register(r.Context(), req.Reference, req.Email, req.Type)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := h.svc.Members.GetMember(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) ActivateMember(w http.ResponseWriter, r *http.Request) {
	h.memberTransition(w, r, h.svc.Members.Activate)
}

func (h *Handler) SuspendMember(w http.ResponseWriter, r *http.Request) {
	h.memberTransition(w, r, h.svc.Members.Suspend)
}

func (h *Handler) CloseMember(w http.ResponseWriter, r *http.Request) {
	h.memberTransition(w, r, h.svc.Members.Close)
}

func (h *Handler) memberTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*models.Member, error)) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	m, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreditScore computes the member's score from the current ledger
func (h *Handler) CreditScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.svc.Calculator.RefreshCreditScore(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetAutoSave(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.Members.GetMember(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	setting, err := h.svc.Members.GetAutoSave(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

func (h *Handler) UpdateAutoSave(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var setting models.AutoSaveSetting
	if err := decode(r, &setting); err != nil {
		h.writeError(w, r, err)
		return
	}
	setting.MemberID = id
	if _, err := h.svc.Members.GetMember(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved, err := h.svc.Members.UpdateAutoSave(r.Context(), &setting)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	accounts, err := h.svc.Accounts.ListAccounts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.Members.GetMember(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	loans, err := h.svc.Loans.ListLoans(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}
