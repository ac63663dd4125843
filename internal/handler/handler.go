package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/middleware"
	"github.com/Dan9191/sacco-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	svc            *service.Service
	log            *logrus.Logger
	callbackSecret string
	now            func() time.Time
}

func NewHandler(svc *service.Service, log *logrus.Logger, callbackSecret string) *Handler {
	return &Handler{svc: svc, log: log, callbackSecret: callbackSecret, now: time.Now}
}

// NewRouter wires every route. Member routes need a bearer token, back-office routes the admin role.
func NewRouter(h *Handler, cfg *config.Config) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(h.log))

	auth := middleware.AuthMiddleware(cfg)
	admin := middleware.RequireRole(middleware.RoleAdmin)
	member := func(f http.HandlerFunc) http.Handler { return auth(f) }
	office := func(f http.HandlerFunc) http.Handler { return auth(admin(f)) }

	// Public routes
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/callbacks/mobile-money", h.MobileMoneyCallback).Methods("POST")

	// Members
	r.Handle("/members", office(h.RegisterMember)).Methods("POST")
	r.Handle("/members/{id}", member(h.GetMember)).Methods("GET")
	r.Handle("/members/{id}/activate", office(h.ActivateMember)).Methods("POST")
	r.Handle("/members/{id}/suspend", office(h.SuspendMember)).Methods("POST")
	r.Handle("/members/{id}/close", office(h.CloseMember)).Methods("POST")
	r.Handle("/members/{id}/credit-score", member(h.CreditScore)).Methods("GET")
	r.Handle("/members/{id}/autosave", member(h.GetAutoSave)).Methods("GET")
	r.Handle("/members/{id}/autosave", member(h.UpdateAutoSave)).Methods("PUT")
	r.Handle("/members/{id}/accounts", member(h.ListAccounts)).Methods("GET")
	r.Handle("/members/{id}/loans", member(h.ListLoans)).Methods("GET")

	// Accounts and money movement
	r.Handle("/accounts", member(h.OpenAccount)).Methods("POST")
	r.Handle("/accounts/{id}", member(h.GetAccount)).Methods("GET")
	r.Handle("/accounts/{id}/close", member(h.CloseAccount)).Methods("POST")
	r.Handle("/accounts/{id}/reconcile", office(h.Reconcile)).Methods("POST")
	r.Handle("/deposit", member(h.Deposit)).Methods("POST")
	r.Handle("/deposits/pending", member(h.DepositPending)).Methods("POST")
	r.Handle("/deposits/{id}/confirm", office(h.ConfirmDeposit)).Methods("POST")
	r.Handle("/withdraw", member(h.Withdraw)).Methods("POST")
	r.Handle("/transfer", member(h.Transfer)).Methods("POST")
	r.Handle("/fee", office(h.ApplyFee)).Methods("POST")
	r.Handle("/transactions/{id}/reverse", office(h.Reverse)).Methods("POST")
	r.Handle("/account/{id}/balance", member(h.Balance)).Methods("GET")
	r.Handle("/account/{id}/transactions", member(h.History)).Methods("GET")

	// Loans
	r.Handle("/loan/products", member(h.LoanProducts)).Methods("GET")
	r.Handle("/loan/apply", member(h.ApplyLoan)).Methods("POST")
	r.Handle("/loan/approve", office(h.ApproveLoan)).Methods("POST")
	r.Handle("/loan/reject", office(h.RejectLoan)).Methods("POST")
	r.Handle("/loan/disburse", office(h.DisburseLoan)).Methods("POST")
	r.Handle("/loan/repay", member(h.RepayLoan)).Methods("POST")
	r.Handle("/loans/{id}", member(h.GetLoan)).Methods("GET")

	// Dividends
	r.Handle("/dividend/open", office(h.OpenDividend)).Methods("POST")
	r.Handle("/dividend/calculate", office(h.CalculateDividend)).Methods("POST")
	r.Handle("/dividend/approve", office(h.ApproveDividend)).Methods("POST")
	r.Handle("/dividend/distribute", office(h.DistributeDividend)).Methods("POST")
	r.Handle("/dividend/{id}", office(h.GetDividend)).Methods("GET")

	// Scheduled triggers, also runnable by an external scheduler
	r.Handle("/jobs/interest", office(h.RunInterestAccrual)).Methods("POST")
	r.Handle("/jobs/default-sweep", office(h.RunLoanDefaultSweep)).Methods("POST")

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindPolicy:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict, apperr.KindState:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		if kind == apperr.KindInternal {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: apperr.CodeOf(err), Kind: string(kind), Message: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.ErrInvalidRequest.With("request body is empty")
		}
		return apperr.ErrInvalidRequest.With("%v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.ErrInvalidRequest.With("invalid id %q", raw)
	}
	return id, nil
}

// idempotencyKey prefers the body field and falls back to the Idempotency-Key header.
func idempotencyKey(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get("Idempotency-Key")
}

// parseTime accepts RFC 3339 or a plain date. A plain upper bound covers the whole day.
func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.ErrInvalidRequest.With("invalid time %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

type asOfRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// asOf reads an optional as_of date from the body; an empty body means now.
func (h *Handler) asOf(r *http.Request) (time.Time, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return time.Time{}, apperr.ErrInvalidRequest.With("%v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return h.now(), nil
	}
	var req asOfRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return time.Time{}, apperr.ErrInvalidRequest.With("%v", err)
	}
	if req.AsOf == "" {
		return h.now(), nil
	}
	return parseTime(req.AsOf, true)
}
