package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/Dan9191/sacco-service/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingNotifier struct {
	mu        sync.Mutex
	defaulted []int64
}

func (n *recordingNotifier) TransactionCommitted(context.Context, string, *models.Transaction) error {
	return nil
}

func (n *recordingNotifier) LoanDefaulted(_ context.Context, _ string, loan *models.Loan) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.defaulted = append(n.defaulted, loan.ID)
	return nil
}

// flakyRepo fails the next Append or UpdateLoan calls with a storage error.
type flakyRepo struct {
	repository.Repository

	mu                 sync.Mutex
	appendFailures     int
	updateLoanFailures int
}

func (r *flakyRepo) failAppend(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendFailures = n
}

func (r *flakyRepo) failUpdateLoan(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateLoanFailures = n
}

func (r *flakyRepo) take(counter *int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if *counter == 0 {
		return false
	}
	*counter--
	return true
}

func (r *flakyRepo) Append(ctx context.Context, entries ...repository.Entry) ([]*models.Transaction, error) {
	if r.take(&r.appendFailures) {
		return nil, apperr.Unavailable("append", errors.New("connection reset"))
	}
	return r.Repository.Append(ctx, entries...)
}

func (r *flakyRepo) UpdateLoan(ctx context.Context, l *models.Loan) error {
	if r.take(&r.updateLoanFailures) {
		return apperr.Unavailable("update loan", errors.New("connection reset"))
	}
	return r.Repository.UpdateLoan(ctx, l)
}

type fixture struct {
	ctx      context.Context
	svc      *Service
	repo     *memory.Store
	clock    *testClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{t: epoch}
	repo := memory.New(clock.now)
	log := logrus.New()
	log.SetOutput(io.Discard)
	notifier := &recordingNotifier{}
	svc := NewService(repo, log, Options{
		Notifier: notifier,
		Now:      clock.now,
	})
	return &fixture{ctx: context.Background(), svc: svc, repo: repo, clock: clock, notifier: notifier}
}

// flaky routes the engines through a repository whose writes can be made to fail.
func (f *fixture) flaky() *flakyRepo {
	repo := &flakyRepo{Repository: f.repo}
	f.svc = NewService(repo, f.svc.Transactions.log, Options{Notifier: f.notifier, Now: f.clock.now})
	return repo
}

func (f *fixture) activeMember(t *testing.T, ref string) *models.Member {
	t.Helper()
	m, err := f.svc.Members.Register(f.ctx, ref, ref+"@example.com", models.MembershipRegular)
	require.NoError(t, err)
	m, err = f.svc.Members.Activate(f.ctx, m.ID)
	require.NoError(t, err)
	return m
}

func (f *fixture) openAccount(t *testing.T, memberID int64, typ models.AccountType, deposit int64) *models.Account {
	t.Helper()
	acct, err := f.svc.Accounts.OpenAccount(f.ctx, memberID, typ, deposit, "")
	require.NoError(t, err)
	return acct
}

func (f *fixture) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	bal, err := f.svc.Transactions.Balance(f.ctx, accountID)
	require.NoError(t, err)
	return bal
}

func (f *fixture) developmentProduct(t *testing.T) *models.LoanProduct {
	t.Helper()
	p := &models.LoanProduct{
		Name:          "development",
		InterestRate:  decimal.RequireFromString("0.12"),
		MaxAmount:     50_000_000,
		SavingsFactor: decimal.NewFromInt(3),
		MaxTermMonths: 36,
	}
	require.NoError(t, f.repo.CreateProduct(f.ctx, p))
	return p
}
