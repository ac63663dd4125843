// Package repository declares the storage contracts of the ledger service. The ledger is the only
// shared mutable resource; implementations serialize writers per account.
package repository

import (
	"context"
	"iter"

	"github.com/Dan9191/sacco-service/internal/models"
)

// Entry is one ledger append request. Amount is already signed by the transaction engine.
type Entry struct {
	AccountID      int64
	Type           models.TransactionType
	Amount         int64
	IdempotencyKey string
	Status         models.TransactionStatus
	CorrelationID  string
	Reference      string
	ReversalOf     int64
	// Check runs under the account lock with the current completed balance, before anything is written.
	Check func(acct *models.Account, balance int64) error
}

// LedgerStore is the append-only transaction log with a cached balance projection.
type LedgerStore interface {
	// Append commits all entries or none, locking the touched accounts in ascending id order.
	Append(ctx context.Context, entries ...Entry) ([]*models.Transaction, error)
	// Confirm settles a pending transaction as completed or failed. A closed account cannot be credited.
	Confirm(ctx context.Context, txID int64, status models.TransactionStatus) (*models.Transaction, error)
	BalanceOf(ctx context.Context, accountID int64) (int64, error)
	// History yields the account's transactions in ascending time order. Each range re-reads the log.
	History(ctx context.Context, accountID int64, filter models.TransactionFilter) iter.Seq2[*models.Transaction, error]
	FindTransaction(ctx context.Context, txID int64) (*models.Transaction, error)
	FindByKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error)
	// FindByCorrelation returns every transaction sharing the correlation id, in id order.
	FindByCorrelation(ctx context.Context, correlationID string) ([]*models.Transaction, error)
	// Reconcile recomputes the balance from the log and repairs the cached projection if it drifted.
	Reconcile(ctx context.Context, accountID int64) (cached, derived int64, err error)
}

// AccountStore holds account records. Balances are only changed through LedgerStore.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct *models.Account) error
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListAccountsByMember(ctx context.Context, memberID int64) ([]*models.Account, error)
	ListOpenAccounts(ctx context.Context, accType models.AccountType) ([]*models.Account, error)
	// CloseAccount marks the account closed after check passes under the account lock.
	// Accounts with pending deposits are never closed.
	CloseAccount(ctx context.Context, id int64, check func(acct *models.Account) error) (*models.Account, error)
}

// MemberStore holds member records and auto-save settings.
type MemberStore interface {
	CreateMember(ctx context.Context, m *models.Member) error
	GetMember(ctx context.Context, id int64) (*models.Member, error)
	UpdateMember(ctx context.Context, m *models.Member) error
	// UpdateCreditScore writes only the score column.
	UpdateCreditScore(ctx context.Context, memberID int64, score int) error
	GetAutoSave(ctx context.Context, memberID int64) (*models.AutoSaveSetting, error)
	SaveAutoSave(ctx context.Context, s *models.AutoSaveSetting) error
}

// LoanStore holds loan products and loans. UpdateLoan enforces the loan's Version.
type LoanStore interface {
	CreateProduct(ctx context.Context, p *models.LoanProduct) error
	GetProduct(ctx context.Context, id int64) (*models.LoanProduct, error)
	ListProducts(ctx context.Context) ([]*models.LoanProduct, error)
	CreateLoan(ctx context.Context, l *models.Loan) error
	GetLoan(ctx context.Context, id int64) (*models.Loan, error)
	UpdateLoan(ctx context.Context, l *models.Loan) error
	ListLoansByMember(ctx context.Context, memberID int64) ([]*models.Loan, error)
	ListLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error)
}

// DividendStore holds distributions and their entries.
type DividendStore interface {
	CreateDistribution(ctx context.Context, d *models.DividendDistribution) error
	GetDistribution(ctx context.Context, id int64) (*models.DividendDistribution, error)
	UpdateDistribution(ctx context.Context, d *models.DividendDistribution) error
	ReplaceEntries(ctx context.Context, distributionID int64, entries []*models.DividendEntry) error
	ListEntries(ctx context.Context, distributionID int64) ([]*models.DividendEntry, error)
	UpdateEntry(ctx context.Context, e *models.DividendEntry) error
}

// Repository is the full persistence surface.
type Repository interface {
	LedgerStore
	AccountStore
	MemberStore
	LoanStore
	DividendStore
}
