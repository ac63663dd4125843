package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// AccountManager owns the account lifecycle and per-type policy.
type AccountManager struct {
	repo     repository.Repository
	tx       *TransactionEngine
	log      *logrus.Logger
	policies models.Policies
	now      func() time.Time
	locks    *keyedMutex
}

// Policy returns the policy for an account type.
func (m *AccountManager) Policy(t models.AccountType) (models.AccountPolicy, error) {
	pol, ok := m.policies.Lookup(t)
	if !ok {
		return models.AccountPolicy{}, apperr.ErrInvalidAccountType.With("%q", t)
	}
	return pol, nil
}

// OpenAccount opens an account of the given type and books the initial deposit through the transaction engine.
func (m *AccountManager) OpenAccount(ctx context.Context, memberID int64, accType models.AccountType, initialDeposit int64, key string) (*models.Account, error) {
	pol, err := m.Policy(accType)
	if err != nil {
		return nil, err
	}
	if initialDeposit < 0 {
		return nil, apperr.ErrInvalidAmount
	}
	if initialDeposit < pol.MinOpeningDeposit {
		return nil, apperr.ErrBelowMinimumOpening.With("%s requires %d", accType, pol.MinOpeningDeposit)
	}

	unlock := m.locks.Lock(memberID)
	defer unlock()

	member, err := m.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberActive {
		return nil, apperr.ErrMemberInactive.With("member %d is %s", memberID, member.Status)
	}
	existing, err := m.repo.ListAccountsByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	for _, acct := range existing {
		if acct.Type == accType && acct.Status == models.AccountOpen {
			return nil, apperr.ErrAccountExists.With("account %d", acct.ID)
		}
	}

	acct := &models.Account{
		MemberID:       memberID,
		Type:           accType,
		InterestRate:   pol.InterestRate,
		MinimumBalance: pol.MinimumBalance,
		Status:         models.AccountOpen,
	}
	if pol.LockMonths > 0 {
		until := m.now().AddDate(0, pol.LockMonths, 0)
		acct.LockedUntil = &until
	}
	if err := m.repo.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{
		"account_id": acct.ID,
		"member_id":  memberID,
		"type":       accType,
	}).Info("Account opened")

	if initialDeposit > 0 {
		if key == "" {
			key = fmt.Sprintf("open:%d", acct.ID)
		}
		if _, err := m.tx.Deposit(ctx, acct.ID, initialDeposit, "account_opening", key); err != nil {
			m.abandon(ctx, acct.ID)
			return nil, fmt.Errorf("initial deposit into account %d: %w", acct.ID, err)
		}
	}
	return m.repo.GetAccount(ctx, acct.ID)
}

// abandon closes an account whose opening deposit did not land, so the member can open the type again.
func (m *AccountManager) abandon(ctx context.Context, accountID int64) {
	_, err := m.repo.CloseAccount(ctx, accountID, func(acct *models.Account) error {
		if acct.Balance != 0 {
			return apperr.ErrNonZeroBalance.With("account %d holds %d", acct.ID, acct.Balance)
		}
		return nil
	})
	if err != nil {
		m.log.WithError(err).WithField("account_id", accountID).Error("Account left open after failed opening deposit")
		return
	}
	m.log.WithField("account_id", accountID).Warn("Account closed after failed opening deposit")
}

// CloseAccount closes an empty account outside its lock period.
func (m *AccountManager) CloseAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	acct, err := m.repo.CloseAccount(ctx, accountID, func(acct *models.Account) error {
		if acct.Balance != 0 {
			return apperr.ErrNonZeroBalance.With("account %d holds %d", acct.ID, acct.Balance)
		}
		if acct.LockedAt(m.now()) {
			return apperr.ErrAccountLocked.With("account %d locked until %s", acct.ID, acct.LockedUntil.Format(time.DateOnly))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.WithField("account_id", accountID).Info("Account closed")
	return acct, nil
}

// GetAccount returns one account.
func (m *AccountManager) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	return m.repo.GetAccount(ctx, accountID)
}

// ListAccounts returns the member's accounts, closed ones included.
func (m *AccountManager) ListAccounts(ctx context.Context, memberID int64) ([]*models.Account, error) {
	if _, err := m.repo.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	return m.repo.ListAccountsByMember(ctx, memberID)
}

// openAccountOfType returns the member's open account of the given type.
func openAccountOfType(ctx context.Context, repo repository.AccountStore, memberID int64, accType models.AccountType) (*models.Account, error) {
	accounts, err := repo.ListAccountsByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if acct.Type == accType && acct.Status == models.AccountOpen {
			return acct, nil
		}
	}
	return nil, nil
}

// totalSavings sums the member's open account balances.
func totalSavings(ctx context.Context, repo repository.AccountStore, memberID int64) (int64, error) {
	accounts, err := repo.ListAccountsByMember(ctx, memberID)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, acct := range accounts {
		if acct.Status == models.AccountOpen && acct.Balance > 0 {
			total += acct.Balance
		}
	}
	return total, nil
}
