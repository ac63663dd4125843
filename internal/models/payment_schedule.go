package models

import "time"

// Installment is one scheduled loan payment, split into interest and principal.
type Installment struct {
	Number        int        `json:"number"`
	DueDate       time.Time  `json:"due_date"`
	Amount        int64      `json:"amount"`
	Interest      int64      `json:"interest"`
	Principal     int64      `json:"principal"`
	InterestPaid  int64      `json:"interest_paid"`
	PrincipalPaid int64      `json:"principal_paid"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

// Paid reports whether both components are settled.
func (i *Installment) Paid() bool {
	return i.InterestPaid >= i.Interest && i.PrincipalPaid >= i.Principal
}

// OnTime reports whether the installment was settled by its due date.
func (i *Installment) OnTime() bool {
	return i.PaidAt != nil && !i.PaidAt.After(i.DueDate)
}
