package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DistributionStatus is the state of a dividend run.
type DistributionStatus string

const (
	DistributionPending     DistributionStatus = "pending"
	DistributionApproved    DistributionStatus = "approved"
	DistributionDistributed DistributionStatus = "distributed"
)

// DividendDistribution is a periodic surplus distribution.
type DividendDistribution struct {
	ID            int64              `json:"id"`
	PeriodLabel   string             `json:"period_label"`
	Year          int                `json:"year"`
	TotalPool     int64              `json:"total_pool"`
	TotalShares   int64              `json:"total_shares"`
	RatePerShare  decimal.Decimal    `json:"rate_per_share"`
	Distributed   int64              `json:"distributed"`
	CalculatedAt  *time.Time         `json:"calculated_at,omitempty"`
	DistributedAt *time.Time         `json:"distributed_at,omitempty"`
	Status        DistributionStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	Version       int64              `json:"version"`
}

// Retained is the rounding remainder kept by the cooperative.
func (d *DividendDistribution) Retained() int64 {
	return d.TotalPool - d.Distributed
}

// EntryStatus is the payout state of a dividend entry.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryPaid    EntryStatus = "paid"
	EntryFailed  EntryStatus = "failed"
)

// DividendEntry is one member's share of a distribution.
type DividendEntry struct {
	ID             int64       `json:"id"`
	DistributionID int64       `json:"distribution_id"`
	MemberID       int64       `json:"member_id"`
	Shares         int64       `json:"shares"`
	Amount         int64       `json:"amount"`
	Status         EntryStatus `json:"status"`
	TransactionID  int64       `json:"transaction_id,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}
