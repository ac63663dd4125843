package service

import (
	"testing"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemberLifecycle(t *testing.T) {
	f := newFixture(t)

	m, err := f.svc.Members.Register(f.ctx, "M-001", "", "")
	require.NoError(t, err)
	assert.Equal(t, models.MemberPending, m.Status)
	assert.Equal(t, models.MembershipRegular, m.Type)

	_, err = f.svc.Members.Register(f.ctx, "M-001", "", "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)

	_, err = f.svc.Accounts.OpenAccount(f.ctx, m.ID, models.AccountRegular, 10_000, "")
	assert.ErrorIs(t, err, apperr.ErrMemberInactive)

	m, err = f.svc.Members.Activate(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberActive, m.Status)

	m, err = f.svc.Members.Suspend(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberSuspended, m.Status)

	_, err = f.svc.Members.Suspend(f.ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	m, err = f.svc.Members.Activate(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberActive, m.Status)
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Members.Register(f.ctx, "M-001", "", "patron")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = f.svc.Members.Register(f.ctx, "", "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestCloseMember(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	acct := f.openAccount(t, m.ID, models.AccountRegular, 10_000)
	target := f.openAccount(t, m.ID, models.AccountTarget, 0)

	_, err := f.svc.Members.Close(f.ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrMemberHasFunds)

	_, err = f.svc.Transactions.Withdraw(f.ctx, acct.ID, 10_000, "")
	require.NoError(t, err)

	closed, err := f.svc.Members.Close(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MemberClosed, closed.Status)

	for _, id := range []int64{acct.ID, target.ID} {
		got, err := f.svc.Accounts.GetAccount(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.AccountClosed, got.Status)
	}

	_, err = f.svc.Members.Activate(f.ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestAutoSaveShare(t *testing.T) {
	setting := &models.AutoSaveSetting{Percentage: 15, FromTips: true}
	assert.Equal(t, int64(1_851), AutoSaveShare(setting, models.RevenueTip, 12_345))
	assert.Zero(t, AutoSaveShare(setting, models.RevenueStream, 12_345))
	assert.Zero(t, AutoSaveShare(nil, models.RevenueTip, 12_345))
	assert.Zero(t, AutoSaveShare(&models.AutoSaveSetting{FromTips: true}, models.RevenueTip, 12_345))
}

func TestUpdateAutoSaveValidation(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")

	_, err := f.svc.Members.UpdateAutoSave(f.ctx, &models.AutoSaveSetting{MemberID: m.ID, Percentage: 101})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = f.svc.Members.UpdateAutoSave(f.ctx, &models.AutoSaveSetting{MemberID: m.ID, Percentage: 10, AccountType: "vault"})
	assert.ErrorIs(t, err, apperr.ErrInvalidAccountType)

	saved, err := f.svc.Members.UpdateAutoSave(f.ctx, &models.AutoSaveSetting{MemberID: m.ID, Percentage: 10, FromTips: true})
	require.NoError(t, err)
	assert.Equal(t, models.AccountTarget, saved.AccountType)

	got, err := f.svc.Members.GetAutoSave(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Percentage)
	assert.True(t, got.FromTips)
}

func TestUpdateAutoSaveUsesConfiguredPolicies(t *testing.T) {
	f := newFixture(t)
	policies := models.DefaultPolicies()
	delete(policies, models.AccountTarget)
	f.svc = NewService(f.repo, f.svc.Transactions.log, Options{Policies: policies, Now: f.clock.now})
	m := f.activeMember(t, "M-001")

	_, err := f.svc.Members.UpdateAutoSave(f.ctx, &models.AutoSaveSetting{MemberID: m.ID, Percentage: 10})
	assert.ErrorIs(t, err, apperr.ErrInvalidAccountType)

	saved, err := f.svc.Members.UpdateAutoSave(f.ctx, &models.AutoSaveSetting{MemberID: m.ID, Percentage: 10, AccountType: models.AccountRegular})
	require.NoError(t, err)
	assert.Equal(t, models.AccountRegular, saved.AccountType)
}

func TestApplyRevenue(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")

	_, err := f.svc.Members.UpdateAutoSave(f.ctx, &models.AutoSaveSetting{MemberID: m.ID, Percentage: 10, FromTips: true})
	require.NoError(t, err)

	ev := RevenueEvent{EventID: "evt-1", MemberID: m.ID, Source: models.RevenueTip, Amount: 12_345}
	tx, err := f.svc.Members.ApplyRevenue(f.ctx, ev)
	require.NoError(t, err)
	assert.Nil(t, tx, "no target account yet")

	target := f.openAccount(t, m.ID, models.AccountTarget, 0)
	tx, err = f.svc.Members.ApplyRevenue(f.ctx, ev)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, int64(1_234), tx.Amount)
	assert.Equal(t, "revenue:evt-1", tx.IdempotencyKey)

	replay, err := f.svc.Members.ApplyRevenue(f.ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, replay.ID)
	assert.Equal(t, int64(1_234), f.balance(t, target.ID))

	stream := RevenueEvent{EventID: "evt-2", MemberID: m.ID, Source: models.RevenueStream, Amount: 50_000}
	tx, err = f.svc.Members.ApplyRevenue(f.ctx, stream)
	require.NoError(t, err)
	assert.Nil(t, tx)

	_, err = f.svc.Members.ApplyRevenue(f.ctx, RevenueEvent{MemberID: m.ID, Amount: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}
