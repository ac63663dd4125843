package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanProduct is read-only loan configuration.
type LoanProduct struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	InterestRate  decimal.Decimal `json:"interest_rate"` // annual
	MaxAmount     int64           `json:"max_amount"`
	SavingsFactor decimal.Decimal `json:"savings_multiplier"`
	MaxTermMonths int             `json:"max_term_months"`
}

// LoanStatus is the state of a loan in its lifecycle.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanRejected  LoanStatus = "rejected"
	LoanDisbursed LoanStatus = "disbursed"
	LoanActive    LoanStatus = "active"
	LoanClosed    LoanStatus = "closed"
	LoanDefaulted LoanStatus = "defaulted"
)

// Loan represents a member loan. Version guards concurrent updates.
type Loan struct {
	ID                 int64           `json:"id"`
	MemberID           int64           `json:"member_id"`
	ProductID          int64           `json:"product_id"`
	Principal          int64           `json:"principal"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	TermMonths         int             `json:"term_months"`
	OutstandingBalance int64           `json:"outstanding_balance"`
	MonthlyInstallment int64           `json:"monthly_installment"`
	AmountPaid         int64           `json:"amount_paid"`
	Status             LoanStatus      `json:"status"`
	Schedule           []Installment   `json:"schedule,omitempty"`
	AppliedAt          time.Time       `json:"applied_at"`
	DecidedAt          *time.Time      `json:"decided_at,omitempty"`
	DisbursedAt        *time.Time      `json:"disbursed_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	DefaultedAt        *time.Time      `json:"defaulted_at,omitempty"`
	Version            int64           `json:"version"`
}

// NextUnpaid returns the index of the earliest unpaid installment, or -1.
func (l *Loan) NextUnpaid() int {
	for i := range l.Schedule {
		if !l.Schedule[i].Paid() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so stores never share schedule slices with callers.
func (l *Loan) Clone() *Loan {
	c := *l
	c.Schedule = append([]Installment(nil), l.Schedule...)
	return &c
}
