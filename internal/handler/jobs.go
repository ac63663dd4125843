package handler

import (
	"io"
	"net/http"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/integrations/momo"
	"github.com/sirupsen/logrus"
)

type jobResponse struct {
	Job     string `json:"job"`
	AsOf    string `json:"as_of"`
	Changed int    `json:"changed"`
	Error   string `json:"error,omitempty"`
}

// RunInterestAccrual triggers monthly interest for every open account
func (h *Handler) RunInterestAccrual(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.svc.Calculator.RunInterestAccrual(r.Context(), asOf)
	h.writeJob(w, r, "interest-accrual", asOf.Format("2006-01"), n, err)
}

// RunLoanDefaultSweep marks overdue loans as defaulted
func (h *Handler) RunLoanDefaultSweep(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.svc.Loans.RunLoanDefaultSweep(r.Context(), asOf)
	h.writeJob(w, r, "loan-default-sweep", asOf.Format("2006-01-02"), n, err)
}

// writeJob reports partial success with 207 so callers can retry the failed part.
func (h *Handler) writeJob(w http.ResponseWriter, r *http.Request, job, asOf string, n int, err error) {
	resp := jobResponse{Job: job, AsOf: asOf, Changed: n}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if apperr.KindOf(err) == apperr.KindUnavailable && n == 0 {
		h.writeError(w, r, err)
		return
	}
	resp.Error = err.Error()
	writeJSON(w, http.StatusMultiStatus, resp)
}

// MobileMoneyCallback settles a pending deposit from a signed gateway notification
func (h *Handler) MobileMoneyCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, apperr.ErrInvalidRequest.With("%v", err))
		return
	}
	if !momo.VerifySignature(body, r.Header.Get("X-Signature"), h.callbackSecret) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	cb, err := momo.Parse(r.Header.Get("Content-Type"), body)
	if err != nil {
		h.writeError(w, r, apperr.ErrInvalidRequest.With("%v", err))
		return
	}

	log := h.log.WithFields(logrus.Fields{
		"transaction_id": cb.TransactionID,
		"gateway_ref":    cb.GatewayRef,
		"status":         cb.Status,
	})
	pending, err := h.svc.Transactions.Find(r.Context(), cb.TransactionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	success := cb.Success()
	if success && cb.Amount != 0 && cb.Amount != pending.Amount {
		log.WithFields(logrus.Fields{"expected": pending.Amount, "reported": cb.Amount}).Warn("Callback amount mismatch, deposit failed")
		success = false
	}

	tx, err := h.svc.Transactions.ConfirmDeposit(r.Context(), cb.TransactionID, success)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	log.Info("Mobile money callback processed")
	writeJSON(w, http.StatusOK, tx)
}
