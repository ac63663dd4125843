package service

import (
	"context"
	"time"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// Notifier delivers member-facing side effects. Failures never affect committed ledger state.
type Notifier interface {
	TransactionCommitted(ctx context.Context, to string, tx *models.Transaction) error
	LoanDefaulted(ctx context.Context, to string, loan *models.Loan) error
}

// Options tunes the engines. Zero values fall back to defaults.
type Options struct {
	Policies         models.Policies
	Score            config.ScoreWeights
	DefaultGraceDays int
	DefaultedLoanCap int64
	Notifier         Notifier
	Now              func() time.Time
	// DividendWorkers bounds concurrent dividend credits.
	DividendWorkers int
}

// Service handles business logic
type Service struct {
	Members      *MemberService
	Accounts     *AccountManager
	Transactions *TransactionEngine
	Calculator   *Calculator
	Loans        *LoanEngine
	Dividends    *DividendEngine
}

// NewService wires the engines over one repository
func NewService(repo repository.Repository, log *logrus.Logger, opts Options) *Service {
	if opts.Policies == nil {
		opts.Policies = models.DefaultPolicies()
	}
	if opts.Score.SavingsCeiling == 0 {
		opts.Score = config.DefaultScoreWeights()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultGraceDays <= 0 {
		opts.DefaultGraceDays = 30
	}
	if opts.DividendWorkers <= 0 {
		opts.DividendWorkers = 8
	}

	tx := &TransactionEngine{repo: repo, log: log, notifier: opts.Notifier, policies: opts.Policies, now: opts.Now}
	calc := &Calculator{repo: repo, tx: tx, log: log, weights: opts.Score, now: opts.Now}
	return &Service{
		Members:      &MemberService{repo: repo, tx: tx, log: log, policies: opts.Policies, now: opts.Now},
		Accounts:     &AccountManager{repo: repo, tx: tx, log: log, policies: opts.Policies, now: opts.Now, locks: newKeyedMutex()},
		Transactions: tx,
		Calculator:   calc,
		Loans: &LoanEngine{
			repo:      repo,
			tx:        tx,
			calc:      calc,
			log:       log,
			notifier:  opts.Notifier,
			graceDays: opts.DefaultGraceDays,
			cap:       opts.DefaultedLoanCap,
			now:       opts.Now,
			locks:     newKeyedMutex(),
		},
		Dividends: &DividendEngine{
			repo:     repo,
			tx:       tx,
			log:      log,
			policies: opts.Policies,
			workers:  opts.DividendWorkers,
			now:      opts.Now,
		},
	}
}
