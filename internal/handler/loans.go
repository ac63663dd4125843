package handler

import (
	"context"
	"net/http"

	"github.com/Dan9191/sacco-service/internal/models"
)

type loanFunc func(ctx context.Context, loanID int64) (*models.Loan, error)

type applyLoanRequest struct {
	MemberID   int64 `json:"member_id"`
	ProductID  int64 `json:"product_id"`
	Amount     int64 `json:"amount"`
	TermMonths int   `json:"term_months"`
}

type loanIDRequest struct {
	LoanID int64 `json:"loan_id"`
}

type repayRequest struct {
	LoanID         int64  `json:"loan_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type repayResponse struct {
	Transaction *models.Transaction `json:"transaction"`
	Loan        *models.Loan        `json:"loan"`
}

func (h *Handler) LoanProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.Loans.Products(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if products == nil {
		products = []*models.LoanProduct{}
	}
	writeJSON(w, http.StatusOK, products)
}

// ApplyLoan files a loan application
func (h *Handler) ApplyLoan(w http.ResponseWriter, r *http.Request) {
	var req applyLoanRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.Loans.Apply(r.Context(), req.MemberID, req.ProductID, req.Amount, req.TermMonths)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	h.loanAction(w, r, h.svc.Loans.Approve)
}

func (h *Handler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	h.loanAction(w, r, h.svc.Loans.Reject)
}

func (h *Handler) DisburseLoan(w http.ResponseWriter, r *http.Request) {
	h.loanAction(w, r, h.svc.Loans.Disburse)
}

func (h *Handler) loanAction(w http.ResponseWriter, r *http.Request, fn loanFunc) {
	var req loanIDRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := fn(r.Context(), req.LoanID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// RepayLoan debits savings and applies the payment to the loan
func (h *Handler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tx, loan, err := h.svc.Loans.Repay(r.Context(), req.LoanID, req.Amount, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{Transaction: tx, Loan: loan})
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	loan, err := h.svc.Loans.GetLoan(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}
