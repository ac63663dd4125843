package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the kind of savings account a member holds.
type AccountType string

const (
	AccountRegular      AccountType = "regular"
	AccountFixedDeposit AccountType = "fixed_deposit"
	AccountTarget       AccountType = "target"
	AccountRetirement   AccountType = "retirement"
	AccountShares       AccountType = "shares"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountOpen   AccountStatus = "open"
	AccountClosed AccountStatus = "closed"
)

// AccountPolicy carries the per-type rules consulted by the account manager and the transaction engine.
type AccountPolicy struct {
	Type              AccountType     `json:"type"`
	MinOpeningDeposit int64           `json:"min_opening_deposit"`
	MinimumBalance    int64           `json:"minimum_balance"`
	InterestRate      decimal.Decimal `json:"interest_rate"` // annual, 0.05 = 5%
	LockMonths        int             `json:"lock_months"`
	Withdrawable      bool            `json:"withdrawable"`
	ShareUnitPrice    int64           `json:"share_unit_price,omitempty"`
}

// Policies maps each account type to its policy.
type Policies map[AccountType]AccountPolicy

// Lookup returns the policy for t.
func (p Policies) Lookup(t AccountType) (AccountPolicy, bool) {
	pol, ok := p[t]
	return pol, ok
}

// DefaultPolicies returns the stock account policy table in UGX minor units.
func DefaultPolicies() Policies {
	return Policies{
		AccountRegular: {
			Type:              AccountRegular,
			MinOpeningDeposit: 5_000,
			MinimumBalance:    0,
			InterestRate:      decimal.RequireFromString("0.03"),
			Withdrawable:      true,
		},
		AccountFixedDeposit: {
			Type:              AccountFixedDeposit,
			MinOpeningDeposit: 100_000,
			InterestRate:      decimal.RequireFromString("0.10"),
			LockMonths:        12,
			Withdrawable:      true,
		},
		AccountTarget: {
			Type:         AccountTarget,
			InterestRate: decimal.RequireFromString("0.05"),
			Withdrawable: true,
		},
		AccountRetirement: {
			Type:              AccountRetirement,
			MinOpeningDeposit: 10_000,
			InterestRate:      decimal.RequireFromString("0.08"),
			LockMonths:        120,
			Withdrawable:      true,
		},
		AccountShares: {
			Type:              AccountShares,
			MinOpeningDeposit: 10_000,
			InterestRate:      decimal.Zero,
			ShareUnitPrice:    10_000,
		},
	}
}

// Account is a member's savings account. Balance is a cached projection of the ledger.
type Account struct {
	ID             int64           `json:"id"`
	MemberID       int64           `json:"member_id"`
	Type           AccountType     `json:"type"`
	Balance        int64           `json:"balance"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	MinimumBalance int64           `json:"minimum_balance"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty"`
	Status         AccountStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LockedAt reports whether the account is inside its lock period at t.
func (a *Account) LockedAt(t time.Time) bool {
	return a.LockedUntil != nil && t.Before(*a.LockedUntil)
}
