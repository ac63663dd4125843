// Package memory is an in-process implementation of repository.Repository. Balance-affecting writes
// are serialized by a mutex per account; the store-wide lock only guards map access.
package memory

import (
	"context"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
)

type ledgerKey struct {
	accountID int64
	key       string
}

// Store keeps all state in memory.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	accounts     map[int64]*models.Account
	accountLocks map[int64]*sync.Mutex
	txByID       map[int64]*models.Transaction
	txByAccount  map[int64][]*models.Transaction
	txByKey      map[ledgerKey]*models.Transaction
	txByCorr     map[string][]*models.Transaction

	members  map[int64]*models.Member
	autoSave map[int64]*models.AutoSaveSetting

	products map[int64]*models.LoanProduct
	loans    map[int64]*models.Loan

	distributions map[int64]*models.DividendDistribution
	entries       map[int64][]*models.DividendEntry

	seq int64
}

var _ repository.Repository = (*Store)(nil)

// New creates an empty store. now may be nil to use time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:           now,
		accounts:      make(map[int64]*models.Account),
		accountLocks:  make(map[int64]*sync.Mutex),
		txByID:        make(map[int64]*models.Transaction),
		txByAccount:   make(map[int64][]*models.Transaction),
		txByKey:       make(map[ledgerKey]*models.Transaction),
		txByCorr:      make(map[string][]*models.Transaction),
		members:       make(map[int64]*models.Member),
		autoSave:      make(map[int64]*models.AutoSaveSetting),
		products:      make(map[int64]*models.LoanProduct),
		loans:         make(map[int64]*models.Loan),
		distributions: make(map[int64]*models.DividendDistribution),
		entries:       make(map[int64][]*models.DividendEntry),
	}
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// lockAccounts acquires the per-account mutexes in ascending id order.
func (s *Store) lockAccounts(ids ...int64) (func(), error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	s.mu.RLock()
	locks := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		l, ok := s.accountLocks[id]
		if !ok {
			s.mu.RUnlock()
			return nil, apperr.ErrAccountNotFound.With("account %d", id)
		}
		locks = append(locks, l)
	}
	s.mu.RUnlock()

	for _, l := range locks {
		l.Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}, nil
}

func (s *Store) Append(ctx context.Context, entries ...repository.Entry) ([]*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.AccountID)
	}
	unlock, err := s.lockAccounts(ids...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Validation phase: the account locks keep these balances stable until commit.
	s.mu.RLock()
	balances := make(map[int64]int64, len(ids))
	seen := make(map[ledgerKey]bool, len(entries))
	for _, e := range entries {
		acct := s.accounts[e.AccountID]
		if acct.Status == models.AccountClosed {
			s.mu.RUnlock()
			return nil, apperr.ErrAccountClosed.With("account %d", acct.ID)
		}
		k := ledgerKey{e.AccountID, e.IdempotencyKey}
		if _, dup := s.txByKey[k]; dup || seen[k] {
			s.mu.RUnlock()
			return nil, apperr.ErrDuplicateTransaction.With("account %d key %q", e.AccountID, e.IdempotencyKey)
		}
		seen[k] = true
		bal, ok := balances[e.AccountID]
		if !ok {
			bal = acct.Balance
		}
		if e.Check != nil {
			snapshot := *acct
			if err := e.Check(&snapshot, bal); err != nil {
				s.mu.RUnlock()
				return nil, err
			}
		}
		if e.Status == models.TxCompleted {
			bal += e.Amount
		}
		balances[e.AccountID] = bal
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]*models.Transaction, 0, len(entries))
	for _, e := range entries {
		acct := s.accounts[e.AccountID]
		tx := &models.Transaction{
			ID:             s.nextID(),
			AccountID:      e.AccountID,
			Type:           e.Type,
			Amount:         e.Amount,
			BalanceAfter:   acct.Balance,
			Status:         e.Status,
			IdempotencyKey: e.IdempotencyKey,
			CorrelationID:  e.CorrelationID,
			Reference:      e.Reference,
			ReversalOf:     e.ReversalOf,
			CreatedAt:      now,
		}
		if e.Status == models.TxCompleted {
			acct.Balance += e.Amount
			acct.UpdatedAt = now
			tx.BalanceAfter = acct.Balance
			tx.SettledAt = &now
		}
		s.txByID[tx.ID] = tx
		s.txByAccount[tx.AccountID] = append(s.txByAccount[tx.AccountID], tx)
		s.txByKey[ledgerKey{tx.AccountID, tx.IdempotencyKey}] = tx
		if tx.CorrelationID != "" {
			s.txByCorr[tx.CorrelationID] = append(s.txByCorr[tx.CorrelationID], tx)
		}
		c := *tx
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) Confirm(ctx context.Context, txID int64, status models.TransactionStatus) (*models.Transaction, error) {
	if status != models.TxCompleted && status != models.TxFailed {
		return nil, apperr.ErrInvalidRequest.With("confirmation status %q", status)
	}
	tx, err := s.FindTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lockAccounts(tx.AccountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.txByID[txID]
	if stored.Status != models.TxPending {
		return nil, apperr.ErrNotPending.With("transaction %d is %s", txID, stored.Status)
	}
	now := s.now()
	acct := s.accounts[stored.AccountID]
	if status == models.TxCompleted && acct.Status == models.AccountClosed {
		return nil, apperr.ErrAccountClosed.With("account %d cannot take deposit %d", acct.ID, txID)
	}
	stored.Status = status
	stored.SettledAt = &now
	if status == models.TxCompleted {
		acct.Balance += stored.Amount
		acct.UpdatedAt = now
		stored.BalanceAfter = acct.Balance
	}
	c := *stored
	return &c, nil
}

func (s *Store) BalanceOf(ctx context.Context, accountID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, apperr.ErrAccountNotFound.With("account %d", accountID)
	}
	return acct.Balance, nil
}

func (s *Store) History(ctx context.Context, accountID int64, filter models.TransactionFilter) iter.Seq2[*models.Transaction, error] {
	return func(yield func(*models.Transaction, error) bool) {
		s.mu.RLock()
		_, ok := s.accounts[accountID]
		s.mu.RUnlock()
		if !ok {
			yield(nil, apperr.ErrAccountNotFound.With("account %d", accountID))
			return
		}
		for i := 0; ; i++ {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			s.mu.RLock()
			log := s.txByAccount[accountID]
			if i >= len(log) {
				s.mu.RUnlock()
				return
			}
			tx := *log[i]
			s.mu.RUnlock()
			if !filter.Match(&tx) {
				continue
			}
			if !yield(&tx, nil) {
				return
			}
		}
	}
}

func (s *Store) FindTransaction(ctx context.Context, txID int64) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txByID[txID]
	if !ok {
		return nil, apperr.ErrTransactionNotFound.With("transaction %d", txID)
	}
	c := *tx
	return &c, nil
}

func (s *Store) FindByKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txByKey[ledgerKey{accountID, key}]
	if !ok {
		return nil, apperr.ErrTransactionNotFound.With("account %d key %q", accountID, key)
	}
	c := *tx
	return &c, nil
}

func (s *Store) FindByCorrelation(ctx context.Context, correlationID string) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Transaction
	for _, tx := range s.txByCorr[correlationID] {
		c := *tx
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) Reconcile(ctx context.Context, accountID int64) (int64, int64, error) {
	unlock, err := s.lockAccounts(accountID)
	if err != nil {
		return 0, 0, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var derived int64
	for _, tx := range s.txByAccount[accountID] {
		if tx.Status == models.TxCompleted {
			derived += tx.Amount
		}
	}
	acct := s.accounts[accountID]
	cached := acct.Balance
	acct.Balance = derived
	return cached, derived, nil
}
