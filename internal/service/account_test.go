package service

import (
	"testing"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAccount(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")

	_, err := f.svc.Accounts.OpenAccount(f.ctx, m.ID, models.AccountRegular, 4_999, "")
	assert.ErrorIs(t, err, apperr.ErrBelowMinimumOpening)

	_, err = f.svc.Accounts.OpenAccount(f.ctx, m.ID, "vault", 10_000, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidAccountType)

	acct := f.openAccount(t, m.ID, models.AccountRegular, 5_000)
	assert.Equal(t, int64(5_000), acct.Balance)
	assert.Equal(t, models.AccountOpen, acct.Status)
	assert.True(t, acct.InterestRate.Equal(models.DefaultPolicies()[models.AccountRegular].InterestRate))
	assert.Nil(t, acct.LockedUntil)

	_, err = f.svc.Accounts.OpenAccount(f.ctx, m.ID, models.AccountRegular, 5_000, "")
	assert.ErrorIs(t, err, apperr.ErrAccountExists)

	_, err = f.svc.Accounts.OpenAccount(f.ctx, 999, models.AccountRegular, 5_000, "")
	assert.ErrorIs(t, err, apperr.ErrMemberNotFound)
}

func TestFixedDepositIsLocked(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")

	acct := f.openAccount(t, m.ID, models.AccountFixedDeposit, 100_000)
	require.NotNil(t, acct.LockedUntil)
	assert.Equal(t, epoch.AddDate(0, 12, 0), *acct.LockedUntil)
	assert.True(t, acct.LockedAt(epoch.AddDate(0, 11, 0)))
	assert.False(t, acct.LockedAt(epoch.AddDate(0, 12, 0)))
}

func TestCloseAccount(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	regular := f.openAccount(t, m.ID, models.AccountRegular, 5_000)
	target := f.openAccount(t, m.ID, models.AccountTarget, 0)

	_, err := f.svc.Accounts.CloseAccount(f.ctx, regular.ID)
	assert.ErrorIs(t, err, apperr.ErrNonZeroBalance)

	closed, err := f.svc.Accounts.CloseAccount(f.ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccountClosed, closed.Status)

	_, err = f.svc.Transactions.Deposit(f.ctx, target.ID, 1_000, "cash", "")
	assert.ErrorIs(t, err, apperr.ErrAccountClosed)

	reopened := f.openAccount(t, m.ID, models.AccountTarget, 0)
	assert.NotEqual(t, target.ID, reopened.ID)

	accounts, err := f.svc.Accounts.ListAccounts(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, accounts, 3)
}

func TestCloseLockedAccount(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	policies := models.DefaultPolicies()
	target := policies[models.AccountTarget]
	target.LockMonths = 6
	policies[models.AccountTarget] = target
	f.svc = NewService(f.repo, f.svc.Transactions.log, Options{Policies: policies, Now: f.clock.now})

	acct := f.openAccount(t, m.ID, models.AccountTarget, 0)
	_, err := f.svc.Accounts.CloseAccount(f.ctx, acct.ID)
	assert.ErrorIs(t, err, apperr.ErrAccountLocked)

	f.clock.set(epoch.AddDate(0, 6, 0))
	_, err = f.svc.Accounts.CloseAccount(f.ctx, acct.ID)
	assert.NoError(t, err)
}

func TestOpenAccountFailedDepositCanBeRetried(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	repo := f.flaky()

	repo.failAppend(1)
	_, err := f.svc.Accounts.OpenAccount(f.ctx, m.ID, models.AccountRegular, 20_000, "open-1")
	assert.ErrorIs(t, err, apperr.ErrStoreUnavailable)

	accounts, err := f.svc.Accounts.ListAccounts(f.ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, models.AccountClosed, accounts[0].Status)

	acct, err := f.svc.Accounts.OpenAccount(f.ctx, m.ID, models.AccountRegular, 20_000, "open-1")
	require.NoError(t, err)
	assert.NotEqual(t, accounts[0].ID, acct.ID)
	assert.Equal(t, models.AccountOpen, acct.Status)
	assert.Equal(t, int64(20_000), acct.Balance)
}

func TestCloseAccountWithPendingDeposit(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountTarget, 0)

	pending, err := f.svc.Transactions.DepositPending(f.ctx, acct.ID, 70_000, "mobile_money", "momo-7")
	require.NoError(t, err)

	_, err = f.svc.Accounts.CloseAccount(f.ctx, acct.ID)
	assert.ErrorIs(t, err, apperr.ErrPendingDeposits)

	done, err := f.svc.Transactions.ConfirmDeposit(f.ctx, pending.ID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(70_000), done.BalanceAfter)

	_, err = f.svc.Accounts.CloseAccount(f.ctx, acct.ID)
	assert.ErrorIs(t, err, apperr.ErrNonZeroBalance)
}
