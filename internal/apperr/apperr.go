// Package apperr defines the error taxonomy shared by the ledger, the engines and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller boundary.
type Kind string

const (
	KindValidation  Kind = "validation_error"
	KindPolicy      Kind = "policy_violation"
	KindConflict    Kind = "conflict_error"
	KindNotFound    Kind = "not_found"
	KindState       Kind = "state_error"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Error is a classified error with a stable code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// Is matches on kind and code so wrapped copies created by With still compare equal to the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// With returns a copy of the sentinel carrying extra detail in its message.
func (e *Error) With(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Msg: e.Msg + ": " + fmt.Sprintf(format, args...)}
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrInvalidAmount       = newErr(KindValidation, "invalid_amount", "amount must be a positive integer in minor units")
	ErrInvalidAccountType  = newErr(KindValidation, "invalid_account_type", "unknown account type")
	ErrInvalidRequest      = newErr(KindValidation, "invalid_request", "invalid request")
	ErrSameAccountTransfer = newErr(KindValidation, "same_account_transfer", "cannot transfer to the same account")

	ErrInsufficientFunds      = newErr(KindPolicy, "insufficient_funds", "insufficient funds")
	ErrBelowMinimumOpening    = newErr(KindPolicy, "below_minimum_opening_deposit", "initial deposit below the minimum opening deposit")
	ErrAccountLocked          = newErr(KindPolicy, "account_locked", "account is locked")
	ErrWithdrawalNotPermitted = newErr(KindPolicy, "withdrawal_not_permitted", "account type does not permit withdrawals")
	ErrNonZeroBalance         = newErr(KindPolicy, "non_zero_balance", "account balance is not zero")
	ErrExceedsLoanLimit       = newErr(KindPolicy, "exceeds_loan_limit", "amount exceeds loan limit")
	ErrProductTermExceeded    = newErr(KindPolicy, "product_term_exceeded", "term exceeds product maximum")
	ErrOverPayment            = newErr(KindPolicy, "over_payment", "payment exceeds outstanding balance")
	ErrMemberInactive         = newErr(KindPolicy, "member_inactive", "member is not active")
	ErrAccountExists          = newErr(KindPolicy, "account_exists", "member already holds an open account of this type")
	ErrNoSavingsAccount       = newErr(KindPolicy, "no_savings_account", "member has no open regular savings account")
	ErrMemberHasFunds         = newErr(KindPolicy, "member_has_funds", "member still holds funds")

	ErrDuplicateTransaction   = newErr(KindConflict, "duplicate_transaction", "idempotency key already recorded for account")
	ErrConcurrentModification = newErr(KindConflict, "concurrent_modification", "record modified concurrently")
	ErrDuplicatePeriod        = newErr(KindConflict, "duplicate_period", "dividend period already open")
	ErrAlreadyExists          = newErr(KindConflict, "already_exists", "record already exists")

	ErrAccountNotFound      = newErr(KindNotFound, "account_not_found", "account not found")
	ErrMemberNotFound       = newErr(KindNotFound, "member_not_found", "member not found")
	ErrLoanNotFound         = newErr(KindNotFound, "loan_not_found", "loan not found")
	ErrProductNotFound      = newErr(KindNotFound, "loan_product_not_found", "loan product not found")
	ErrTransactionNotFound  = newErr(KindNotFound, "transaction_not_found", "transaction not found")
	ErrDistributionNotFound = newErr(KindNotFound, "distribution_not_found", "dividend distribution not found")

	ErrAlreadyDecided     = newErr(KindState, "already_decided", "loan application already decided")
	ErrInvalidState       = newErr(KindState, "invalid_state", "operation invalid for current state")
	ErrAccountClosed      = newErr(KindState, "account_closed", "account is closed")
	ErrNotPending         = newErr(KindState, "not_pending", "transaction is not pending")
	ErrAlreadyReversed    = newErr(KindState, "already_reversed", "transaction already reversed")
	ErrDistributionLocked = newErr(KindState, "distribution_locked", "distribution entries are locked")
	ErrNotReversible      = newErr(KindState, "not_reversible", "transaction belongs to a loan or dividend record")
	ErrPendingDeposits    = newErr(KindState, "pending_deposits", "account has deposits awaiting confirmation")

	ErrStoreUnavailable = newErr(KindUnavailable, "store_unavailable", "ledger storage unavailable")
)

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first classified error in the chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// Unavailable wraps a storage failure so it fails closed at the caller boundary.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
