package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositThenOverdraw(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 100_000)

	tx, err := f.svc.Transactions.Deposit(f.ctx, acct.ID, 50_000, "cash", "")
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), tx.BalanceAfter)
	assert.Equal(t, models.TxCompleted, tx.Status)

	_, err = f.svc.Transactions.Withdraw(f.ctx, acct.ID, 200_000, "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, int64(150_000), f.balance(t, acct.ID))
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 20_000)

	_, err := f.svc.Transactions.Deposit(f.ctx, acct.ID, 35_000, "cash", "")
	require.NoError(t, err)
	tx, err := f.svc.Transactions.Withdraw(f.ctx, acct.ID, 35_000, "")
	require.NoError(t, err)
	assert.Equal(t, int64(-35_000), tx.Amount)
	assert.Equal(t, int64(20_000), f.balance(t, acct.ID))
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 20_000)

	_, err := f.svc.Transactions.Deposit(f.ctx, acct.ID, 0, "cash", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	_, err = f.svc.Transactions.Withdraw(f.ctx, acct.ID, -5, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	_, _, err = f.svc.Transactions.Transfer(f.ctx, acct.ID, acct.ID+1, 0, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
	_, err = f.svc.Transactions.ApplyFee(f.ctx, acct.ID, 0, "fee", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)
}

func TestIdempotentDeposit(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 10_000)

	first, err := f.svc.Transactions.Deposit(f.ctx, acct.ID, 5_000, "cash", "pos-42")
	require.NoError(t, err)
	second, err := f.svc.Transactions.Deposit(f.ctx, acct.ID, 9_999, "cash", "pos-42")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(5_000), second.Amount)
	assert.Equal(t, int64(15_000), f.balance(t, acct.ID))
}

func TestWithdrawalPolicies(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	fixed := f.openAccount(t, m.ID, models.AccountFixedDeposit, 200_000)
	shares := f.openAccount(t, m.ID, models.AccountShares, 50_000)

	_, err := f.svc.Transactions.Withdraw(f.ctx, fixed.ID, 1_000, "")
	assert.ErrorIs(t, err, apperr.ErrAccountLocked)

	_, err = f.svc.Transactions.Withdraw(f.ctx, shares.ID, 1_000, "")
	assert.ErrorIs(t, err, apperr.ErrWithdrawalNotPermitted)

	f.clock.set(epoch.AddDate(1, 0, 0))
	_, err = f.svc.Transactions.Withdraw(f.ctx, fixed.ID, 1_000, "")
	assert.NoError(t, err)
}

func TestMinimumBalance(t *testing.T) {
	f := newFixture(t)
	policies := models.DefaultPolicies()
	regular := policies[models.AccountRegular]
	regular.MinimumBalance = 5_000
	policies[models.AccountRegular] = regular
	f.svc = NewService(f.repo, f.svc.Transactions.log, Options{Policies: policies, Now: f.clock.now})

	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 20_000)

	_, err := f.svc.Transactions.Withdraw(f.ctx, acct.ID, 15_001, "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	_, err = f.svc.Transactions.Withdraw(f.ctx, acct.ID, 15_000, "")
	require.NoError(t, err)

	fee, err := f.svc.Transactions.ApplyFee(f.ctx, acct.ID, 3_000, "ledger fee", "")
	require.NoError(t, err)
	assert.Equal(t, int64(2_000), fee.BalanceAfter)
	_, err = f.svc.Transactions.ApplyFee(f.ctx, acct.ID, 2_001, "ledger fee", "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	a := f.activeMember(t, "M-001")
	b := f.activeMember(t, "M-002")
	from := f.openAccount(t, a.ID, models.AccountRegular, 100_000)
	to := f.openAccount(t, b.ID, models.AccountRegular, 10_000)

	out, in, err := f.svc.Transactions.Transfer(f.ctx, from.ID, to.ID, 40_000, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxTransferOut, out.Type)
	assert.Equal(t, models.TxTransferIn, in.Type)
	assert.Equal(t, int64(-40_000), out.Amount)
	assert.Equal(t, int64(40_000), in.Amount)
	assert.NotEmpty(t, out.CorrelationID)
	assert.Equal(t, out.CorrelationID, in.CorrelationID)

	replayOut, replayIn, err := f.svc.Transactions.Transfer(f.ctx, from.ID, to.ID, 40_000, "tr-1")
	require.NoError(t, err)
	assert.Equal(t, out.ID, replayOut.ID)
	assert.Equal(t, in.ID, replayIn.ID)

	assert.Equal(t, int64(60_000), f.balance(t, from.ID))
	assert.Equal(t, int64(50_000), f.balance(t, to.ID))

	_, _, err = f.svc.Transactions.Transfer(f.ctx, from.ID, from.ID, 1, "")
	assert.ErrorIs(t, err, apperr.ErrSameAccountTransfer)

	_, _, err = f.svc.Transactions.Transfer(f.ctx, from.ID, to.ID, 60_001, "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, int64(50_000), f.balance(t, to.ID))
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 10_000)

	dep, err := f.svc.Transactions.Deposit(f.ctx, acct.ID, 25_000, "cash", "")
	require.NoError(t, err)

	rev, err := f.svc.Transactions.Reverse(f.ctx, dep.ID, "teller error")
	require.NoError(t, err)
	assert.Equal(t, models.TxReversal, rev.Type)
	assert.Equal(t, int64(-25_000), rev.Amount)
	assert.Equal(t, dep.ID, rev.ReversalOf)
	assert.Equal(t, fmt.Sprintf("reversal:%d", dep.ID), rev.IdempotencyKey)
	assert.Equal(t, int64(10_000), f.balance(t, acct.ID))

	orig, err := f.svc.Transactions.Find(f.ctx, dep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, orig.Status)

	_, err = f.svc.Transactions.Reverse(f.ctx, dep.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrAlreadyReversed)
	_, err = f.svc.Transactions.Reverse(f.ctx, rev.ID, "undo")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestReverseTransferReversesBothLegs(t *testing.T) {
	f := newFixture(t)
	a := f.activeMember(t, "M-001")
	b := f.activeMember(t, "M-002")
	from := f.openAccount(t, a.ID, models.AccountRegular, 100_000)
	to := f.openAccount(t, b.ID, models.AccountRegular, 10_000)

	out, in, err := f.svc.Transactions.Transfer(f.ctx, from.ID, to.ID, 50_000, "")
	require.NoError(t, err)

	rev, err := f.svc.Transactions.Reverse(f.ctx, out.ID, "sent to wrong member")
	require.NoError(t, err)
	assert.Equal(t, out.ID, rev.ReversalOf)
	assert.Equal(t, int64(50_000), rev.Amount)
	assert.Equal(t, int64(100_000), f.balance(t, from.ID))
	assert.Equal(t, int64(10_000), f.balance(t, to.ID))

	inRev, err := f.repo.FindByKey(f.ctx, to.ID, ReversalKey(in.ID))
	require.NoError(t, err)
	assert.Equal(t, int64(-50_000), inRev.Amount)
	assert.Equal(t, out.CorrelationID, inRev.CorrelationID)

	_, err = f.svc.Transactions.Reverse(f.ctx, in.ID, "again")
	assert.ErrorIs(t, err, apperr.ErrAlreadyReversed)
	assert.Equal(t, int64(110_000), f.balance(t, from.ID)+f.balance(t, to.ID))
}

func TestReverseTransferNeedsReceiverFunds(t *testing.T) {
	f := newFixture(t)
	a := f.activeMember(t, "M-001")
	b := f.activeMember(t, "M-002")
	from := f.openAccount(t, a.ID, models.AccountRegular, 100_000)
	to := f.openAccount(t, b.ID, models.AccountRegular, 10_000)

	_, in, err := f.svc.Transactions.Transfer(f.ctx, from.ID, to.ID, 50_000, "")
	require.NoError(t, err)
	_, err = f.svc.Transactions.Withdraw(f.ctx, to.ID, 55_000, "")
	require.NoError(t, err)

	_, err = f.svc.Transactions.Reverse(f.ctx, in.ID, "disputed")
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, int64(50_000), f.balance(t, from.ID))
	assert.Equal(t, int64(5_000), f.balance(t, to.ID))
}

func TestPendingDepositConfirmation(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 10_000)

	pending, err := f.svc.Transactions.DepositPending(f.ctx, acct.ID, 30_000, "mobile_money", "momo-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, pending.Status)
	assert.Equal(t, int64(10_000), f.balance(t, acct.ID))

	done, err := f.svc.Transactions.ConfirmDeposit(f.ctx, pending.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.TxCompleted, done.Status)
	assert.Equal(t, int64(40_000), f.balance(t, acct.ID))

	again, err := f.svc.Transactions.ConfirmDeposit(f.ctx, pending.ID, true)
	require.NoError(t, err)
	assert.Equal(t, done.ID, again.ID)
	assert.Equal(t, int64(40_000), f.balance(t, acct.ID))

	_, err = f.svc.Transactions.ConfirmDeposit(f.ctx, pending.ID, false)
	assert.ErrorIs(t, err, apperr.ErrNotPending)
}

func TestHistoryByType(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 10_000)
	_, err := f.svc.Transactions.Withdraw(f.ctx, acct.ID, 1_000, "")
	require.NoError(t, err)
	_, err = f.svc.Transactions.Deposit(f.ctx, acct.ID, 2_000, "cash", "")
	require.NoError(t, err)

	var amounts []int64
	for tx, err := range f.svc.Transactions.History(f.ctx, acct.ID, models.TransactionFilter{Type: models.TxDeposit}) {
		require.NoError(t, err)
		amounts = append(amounts, tx.Amount)
	}
	assert.Equal(t, []int64{10_000, 2_000}, amounts)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 500_000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transactions.Withdraw(f.ctx, acct.ID, 10_000, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else {
				assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
				fail++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, ok)
	assert.Equal(t, 50, fail)
	assert.Zero(t, f.balance(t, acct.ID))

	cached, derived, err := f.svc.Transactions.Reconcile(f.ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, cached, derived)
}
