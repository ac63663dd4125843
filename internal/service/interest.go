package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const periodsPerYear = 12

// Calculator accrues interest and derives credit scores from the ledger.
type Calculator struct {
	repo    repository.Repository
	tx      *TransactionEngine
	log     *logrus.Logger
	weights config.ScoreWeights
	now     func() time.Time
}

// InterestKey is the per-account period marker for monthly accrual.
func InterestKey(asOf time.Time) string {
	return "interest:" + asOf.Format("2006-01")
}

// MonthlyInterest is balance × annualRate / 12 truncated to the minor unit.
func MonthlyInterest(balance int64, annualRate decimal.Decimal) int64 {
	if balance <= 0 || !annualRate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(balance).
		Mul(annualRate).
		Div(decimal.NewFromInt(periodsPerYear)).
		Floor().
		IntPart()
}

// AccrueInterest credits the month's interest once per account and period.
// It returns nil when nothing is due or the period was already accrued.
func (c *Calculator) AccrueInterest(ctx context.Context, accountID int64, asOf time.Time) (*models.Transaction, error) {
	acct, err := c.repo.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct.Status != models.AccountOpen {
		return nil, apperr.ErrAccountClosed.With("account %d", accountID)
	}
	interest := MonthlyInterest(acct.Balance, acct.InterestRate)
	if interest == 0 {
		return nil, nil
	}
	tx, replayed, err := c.tx.credit(ctx, accountID, models.TxInterest, interest, InterestKey(asOf), asOf.Format("2006-01"))
	if err != nil {
		return nil, err
	}
	if replayed {
		return nil, nil
	}
	return tx, nil
}

// RunInterestAccrual accrues interest on every open account. Per-account failures are collected
// and returned together; the remaining accounts are still processed.
func (c *Calculator) RunInterestAccrual(ctx context.Context, asOf time.Time) (int, error) {
	accounts, err := c.repo.ListOpenAccounts(ctx, "")
	if err != nil {
		return 0, err
	}
	var (
		credited int
		errs     []error
	)
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		tx, err := c.AccrueInterest(ctx, acct.ID, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %d: %w", acct.ID, err))
			continue
		}
		if tx != nil {
			credited++
		}
	}
	c.log.WithFields(logrus.Fields{
		"period":   asOf.Format("2006-01"),
		"accounts": len(accounts),
		"credited": credited,
		"failed":   len(errs),
	}).Info("Interest accrual finished")
	return credited, errors.Join(errs...)
}
