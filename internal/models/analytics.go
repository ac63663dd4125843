package models

// CreditSnapshot is the ledger-derived input to the credit score.
type CreditSnapshot struct {
	TotalSavings       int64 `json:"total_savings"`
	TenureMonths       int   `json:"tenure_months"`
	InstallmentsDue    int   `json:"installments_due"`
	InstallmentsOnTime int   `json:"installments_on_time"`
	Defaults           int   `json:"defaults"`
}

// CreditReport is a computed score together with the snapshot it came from.
type CreditReport struct {
	MemberID int64          `json:"member_id"`
	Score    int            `json:"score"`
	Snapshot CreditSnapshot `json:"snapshot"`
}
