package models

import "time"

// TransactionType determines the sign of a ledger entry.
type TransactionType string

const (
	TxDeposit       TransactionType = "deposit"
	TxWithdrawal    TransactionType = "withdrawal"
	TxInterest      TransactionType = "interest"
	TxFee           TransactionType = "fee"
	TxTransferIn    TransactionType = "transfer_in"
	TxTransferOut   TransactionType = "transfer_out"
	TxDividend      TransactionType = "dividend"
	TxLoanRepayment TransactionType = "loan_repayment"
	TxReversal      TransactionType = "reversal"
)

// Sign is +1 for credits, -1 for debits and 0 for reversals, whose sign follows the original.
func (t TransactionType) Sign() int64 {
	switch t {
	case TxDeposit, TxInterest, TxTransferIn, TxDividend:
		return 1
	case TxWithdrawal, TxFee, TxTransferOut, TxLoanRepayment:
		return -1
	}
	return 0
}

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	return t.Sign() != 0 || t == TxReversal
}

// TransactionStatus is the commit state of a ledger entry.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxReversed  TransactionStatus = "reversed"
)

// Transaction is an immutable ledger record. Amount is signed from the account's perspective.
type Transaction struct {
	ID             int64             `json:"id"`
	AccountID      int64             `json:"account_id"`
	Type           TransactionType   `json:"type"`
	Amount         int64             `json:"amount"`
	BalanceAfter   int64             `json:"balance_after"`
	Status         TransactionStatus `json:"status"`
	IdempotencyKey string            `json:"idempotency_key"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Reference      string            `json:"reference,omitempty"`
	ReversalOf     int64             `json:"reversal_of,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
}

// TransactionFilter narrows a history query. Zero values match everything.
type TransactionFilter struct {
	Type   TransactionType
	Status TransactionStatus
	From   time.Time
	To     time.Time
}

// Match reports whether tx passes the filter. To is inclusive.
func (f TransactionFilter) Match(tx *Transaction) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && tx.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.CreatedAt.After(f.To) {
		return false
	}
	return true
}
