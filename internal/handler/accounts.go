package handler

import (
	"net/http"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

type openAccountRequest struct {
	MemberID       int64              `json:"member_id"`
	Type           models.AccountType `json:"type"`
	InitialDeposit int64              `json:"initial_deposit"`
	IdempotencyKey string             `json:"idempotency_key"`
}

type depositRequest struct {
	AccountID      int64  `json:"account_id"`
	Amount         int64  `json:"amount"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key"`
}

type withdrawRequest struct {
	AccountID      int64  `json:"account_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type transferRequest struct {
	FromAccountID  int64  `json:"from_account_id"`
	ToAccountID    int64  `json:"to_account_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type feeRequest struct {
	AccountID      int64  `json:"account_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

type confirmRequest struct {
	Success bool `json:"success"`
}

type reverseRequest struct {
	Reason string `json:"reason"`
}

type transferResponse struct {
	Out *models.Transaction `json:"out"`
	In  *models.Transaction `json:"in"`
}

type balanceResponse struct {
	AccountID int64 `json:"account_id"`
	Balance   int64 `json:"balance"`
}

type reconcileResponse struct {
	AccountID int64 `json:"account_id"`
	Cached    int64 `json:"cached"`
	Derived   int64 `json:"derived"`
	Repaired  bool  `json:"repaired"`
}

// OpenAccount opens a savings account and books the opening deposit
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.svc.Accounts.OpenAccount(r.Context(), req.MemberID, req.Type, req.InitialDeposit, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.svc.Accounts.GetAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	acct, err := h.svc.Accounts.CloseAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cached, derived, err := h.svc.Transactions.Reconcile(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{AccountID: id, Cached: cached, Derived: derived, Repaired: cached != derived})
}

// Deposit handles a completed deposit
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Transactions.Deposit(r.Context(), req.AccountID, req.Amount, req.Source, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// DepositPending records a mobile-money deposit awaiting confirmation
func (h *Handler) DepositPending(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = "mobile_money"
	}
	tx, err := h.svc.Transactions.DepositPending(r.Context(), req.AccountID, req.Amount, req.Source, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tx)
}

// ConfirmDeposit settles a pending deposit by hand
func (h *Handler) ConfirmDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req confirmRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Transactions.ConfirmDeposit(r.Context(), id, req.Success)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Transactions.Withdraw(r.Context(), req.AccountID, req.Amount, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, in, err := h.svc.Transactions.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transferResponse{Out: out, In: in})
}

func (h *Handler) ApplyFee(w http.ResponseWriter, r *http.Request) {
	var req feeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Transactions.ApplyFee(r.Context(), req.AccountID, req.Amount, req.Reason, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req reverseRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, err := h.svc.Transactions.Reverse(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := h.svc.Transactions.Balance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: id, Balance: balance})
}

// History lists transactions filtered by ?type=&status=&from=&to=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := models.TransactionFilter{
		Type:   models.TransactionType(q.Get("type")),
		Status: models.TransactionStatus(q.Get("status")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		h.writeError(w, r, apperr.ErrInvalidRequest.With("unknown transaction type %q", filter.Type))
		return
	}
	if filter.From, err = parseTime(q.Get("from"), false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to"), true); err != nil {
		h.writeError(w, r, err)
		return
	}

	txs := []*models.Transaction{}
	for tx, err := range h.svc.Transactions.History(r.Context(), id, filter) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		txs = append(txs, tx)
	}
	writeJSON(w, http.StatusOK, txs)
}
