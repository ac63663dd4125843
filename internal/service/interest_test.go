package service

import (
	"testing"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyInterest(t *testing.T) {
	rate := decimal.RequireFromString("0.03")
	assert.Equal(t, int64(250), MonthlyInterest(100_000, rate))
	assert.Equal(t, int64(250), MonthlyInterest(100_399, rate))
	assert.Equal(t, int64(0), MonthlyInterest(399, rate))
	assert.Zero(t, MonthlyInterest(-5_000, rate))
	assert.Zero(t, MonthlyInterest(100_000, decimal.Zero))
}

func TestInterestKey(t *testing.T) {
	assert.Equal(t, "interest:2026-03", InterestKey(epoch))
}

func TestAccrueInterestOncePerPeriod(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 100_000)

	tx, err := f.svc.Calculator.AccrueInterest(f.ctx, acct.ID, epoch)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, models.TxInterest, tx.Type)
	assert.Equal(t, int64(250), tx.Amount)

	again, err := f.svc.Calculator.AccrueInterest(f.ctx, acct.ID, epoch.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, int64(100_250), f.balance(t, acct.ID))

	_, err = f.svc.Calculator.AccrueInterest(f.ctx, 999, epoch)
	assert.ErrorIs(t, err, apperr.ErrAccountNotFound)
}

func TestRunInterestAccrual(t *testing.T) {
	f := newFixture(t)
	a := f.activeMember(t, "M-001")
	b := f.activeMember(t, "M-002")
	regular := f.openAccount(t, a.ID, models.AccountRegular, 100_000)
	fixed := f.openAccount(t, a.ID, models.AccountFixedDeposit, 120_000)
	f.openAccount(t, b.ID, models.AccountTarget, 0)
	f.openAccount(t, b.ID, models.AccountShares, 50_000)

	n, err := f.svc.Calculator.RunInterestAccrual(f.ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(100_250), f.balance(t, regular.ID))
	assert.Equal(t, int64(121_000), f.balance(t, fixed.ID))

	n, err = f.svc.Calculator.RunInterestAccrual(f.ctx, epoch)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(100_250), f.balance(t, regular.ID))

	n, err = f.svc.Calculator.RunInterestAccrual(f.ctx, epoch.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(100_500), f.balance(t, regular.ID))
}
