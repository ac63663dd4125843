package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditScore(t *testing.T) {
	w := config.DefaultScoreWeights()
	cases := []struct {
		name string
		snap models.CreditSnapshot
		want int
	}{
		{"new member", models.CreditSnapshot{}, 340},
		{"ceilings reached", models.CreditSnapshot{TotalSavings: 10_000_000, TenureMonths: 60}, 850},
		{"above ceilings", models.CreditSnapshot{TotalSavings: 80_000_000, TenureMonths: 200, InstallmentsDue: 4, InstallmentsOnTime: 4}, 850},
		{"halfway", models.CreditSnapshot{TotalSavings: 5_000_000, TenureMonths: 30, InstallmentsDue: 4, InstallmentsOnTime: 3}, 510},
		{"default penalty", models.CreditSnapshot{TotalSavings: 10_000_000, TenureMonths: 60, Defaults: 1}, 550},
		{"penalty applies once", models.CreditSnapshot{TotalSavings: 10_000_000, TenureMonths: 60, Defaults: 3}, 550},
		{"floor at zero", models.CreditSnapshot{InstallmentsDue: 5, Defaults: 1}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CreditScore(tc.snap, w))
			assert.Equal(t, tc.want, CreditScore(tc.snap, w))
		})
	}
}

func TestMonthsBetween(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, monthsBetween(start, start))
	assert.Equal(t, 0, monthsBetween(start, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, monthsBetween(start, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 24, monthsBetween(start, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, monthsBetween(start, start.AddDate(-1, 0, 0)))
}

func TestRefreshCreditScore(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	f.openAccount(t, m.ID, models.AccountRegular, 2_000_000)
	f.clock.set(epoch.AddDate(1, 0, 0))

	report, err := f.svc.Calculator.RefreshCreditScore(f.ctx, m.ID)
	require.NoError(t, err)
	// 850 × (0.35×0.2 + 0.25×12/60 + 0.40)
	assert.Equal(t, 442, report.Score)
	assert.Equal(t, 12, report.Snapshot.TenureMonths)

	stored, err := f.svc.Members.GetMember(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 442, stored.CreditScore)
}

// staleMemberRepo keeps serving the member as first read while suspending them underneath.
type staleMemberRepo struct {
	repository.Repository

	mu    sync.Mutex
	stale *models.Member
}

func (r *staleMemberRepo) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stale == nil {
		m, err := r.Repository.GetMember(ctx, id)
		if err != nil {
			return nil, err
		}
		r.stale = m
		suspended := *m
		suspended.Status = models.MemberSuspended
		if err := r.Repository.UpdateMember(ctx, &suspended); err != nil {
			return nil, err
		}
	}
	c := *r.stale
	return &c, nil
}

func TestRefreshCreditScoreKeepsConcurrentStatusChange(t *testing.T) {
	f := newFixture(t)
	m := f.activeMember(t, "M-001")
	f.openAccount(t, m.ID, models.AccountRegular, 2_000_000)
	f.clock.set(epoch.AddDate(1, 0, 0))

	svc := NewService(&staleMemberRepo{Repository: f.repo}, f.svc.Transactions.log, Options{Now: f.clock.now})
	report, err := svc.Calculator.RefreshCreditScore(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 442, report.Score)

	stored, err := f.repo.GetMember(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 442, stored.CreditScore)
	assert.Equal(t, models.MemberSuspended, stored.Status)
}
