package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DividendEngine calculates and pays periodic surplus distributions.
type DividendEngine struct {
	repo     repository.Repository
	tx       *TransactionEngine
	log      *logrus.Logger
	policies models.Policies
	workers  int
	now      func() time.Time
}

// DividendKey is the idempotency key of a distribution's credit to one member account.
func DividendKey(distributionID int64) string {
	return fmt.Sprintf("dividend:%d", distributionID)
}

// ProRata splits pool across holdings, rounding each share down. The remainder stays with the cooperative.
func ProRata(pool int64, shares []int64) []int64 {
	var total int64
	for _, s := range shares {
		total += s
	}
	out := make([]int64, len(shares))
	if total <= 0 || pool <= 0 {
		return out
	}
	p := decimal.NewFromInt(pool)
	t := decimal.NewFromInt(total)
	for i, s := range shares {
		q, _ := p.Mul(decimal.NewFromInt(s)).QuoRem(t, 0)
		out[i] = q.IntPart()
	}
	return out
}

// OpenPeriod starts a pending distribution. Each (label, year) can be opened once.
func (e *DividendEngine) OpenPeriod(ctx context.Context, label string, year int) (*models.DividendDistribution, error) {
	if label == "" || year <= 0 {
		return nil, apperr.ErrInvalidRequest.With("period label and year are required")
	}
	d := &models.DividendDistribution{
		PeriodLabel:  label,
		Year:         year,
		RatePerShare: decimal.Zero,
		Status:       models.DistributionPending,
	}
	if err := e.repo.CreateDistribution(ctx, d); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"distribution_id": d.ID, "period": label, "year": year}).Info("Dividend period opened")
	return d, nil
}

func (e *DividendEngine) shareUnitPrice() int64 {
	if pol, ok := e.policies.Lookup(models.AccountShares); ok && pol.ShareUnitPrice > 0 {
		return pol.ShareUnitPrice
	}
	return 1
}

// sharesBalanceAt sums completed ledger amounts up to and including at.
func (e *DividendEngine) sharesBalanceAt(ctx context.Context, accountID int64, at time.Time) (int64, error) {
	var balance int64
	filter := models.TransactionFilter{Status: models.TxCompleted, To: at}
	for tx, err := range e.tx.History(ctx, accountID, filter) {
		if err != nil {
			return 0, err
		}
		balance += tx.Amount
	}
	return balance, nil
}

// Calculate computes entries from shares-account balances at the calculation time.
// Only pending distributions may be (re)calculated; earlier entries are replaced.
func (e *DividendEngine) Calculate(ctx context.Context, distributionID, pool int64) ([]*models.DividendEntry, error) {
	if pool <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	d, err := e.repo.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DistributionPending {
		return nil, apperr.ErrDistributionLocked.With("distribution %d is %s", distributionID, d.Status)
	}

	calcAt := e.now()
	accounts, err := e.repo.ListOpenAccounts(ctx, models.AccountShares)
	if err != nil {
		return nil, err
	}
	unit := e.shareUnitPrice()
	var (
		entries  []*models.DividendEntry
		holdings []int64
	)
	for _, acct := range accounts {
		balance, err := e.sharesBalanceAt(ctx, acct.ID, calcAt)
		if err != nil {
			return nil, err
		}
		shares := balance / unit
		if shares <= 0 {
			continue
		}
		entries = append(entries, &models.DividendEntry{
			MemberID: acct.MemberID,
			Shares:   shares,
			Status:   models.EntryPending,
		})
		holdings = append(holdings, shares)
	}

	var totalShares, distributed int64
	for i, amount := range ProRata(pool, holdings) {
		entries[i].Amount = amount
		totalShares += holdings[i]
		distributed += amount
	}

	d.TotalPool = pool
	d.TotalShares = totalShares
	d.Distributed = distributed
	d.RatePerShare = decimal.Zero
	if totalShares > 0 {
		d.RatePerShare = decimal.NewFromInt(pool).DivRound(decimal.NewFromInt(totalShares), 8)
	}
	d.CalculatedAt = &calcAt
	if err := e.repo.UpdateDistribution(ctx, d); err != nil {
		return nil, err
	}
	if err := e.repo.ReplaceEntries(ctx, d.ID, entries); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"distribution_id": d.ID,
		"members":         len(entries),
		"total_shares":    totalShares,
		"retained":        d.Retained(),
	}).Info("Dividend calculated")
	return entries, nil
}

// Approve freezes the entry set of a calculated distribution.
func (e *DividendEngine) Approve(ctx context.Context, distributionID int64) (*models.DividendDistribution, error) {
	d, err := e.repo.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DistributionPending {
		return nil, apperr.ErrAlreadyDecided.With("distribution %d is %s", distributionID, d.Status)
	}
	if d.CalculatedAt == nil {
		return nil, apperr.ErrInvalidState.With("distribution %d has not been calculated", distributionID)
	}
	d.Status = models.DistributionApproved
	if err := e.repo.UpdateDistribution(ctx, d); err != nil {
		return nil, err
	}
	e.log.WithField("distribution_id", d.ID).Info("Dividend approved")
	return d, nil
}

// Distribute credits every unpaid entry into the member's regular savings account. One member's
// failure does not stop the others; the distribution is marked distributed only once every entry
// is paid, so a failed run can simply be repeated.
func (e *DividendEngine) Distribute(ctx context.Context, distributionID int64) (*models.DividendDistribution, error) {
	d, err := e.repo.GetDistribution(ctx, distributionID)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case models.DistributionDistributed:
		return d, nil
	case models.DistributionApproved:
	default:
		return nil, apperr.ErrInvalidState.With("distribution %d is %s", distributionID, d.Status)
	}

	entries, err := e.repo.ListEntries(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for _, entry := range entries {
		if entry.Status == models.EntryPaid {
			continue
		}
		g.Go(func() error {
			if err := e.payEntry(ctx, d, entry); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("member %d: %w", entry.MemberID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		e.log.WithFields(logrus.Fields{
			"distribution_id": d.ID,
			"failed":          len(errs),
		}).Warn("Dividend distribution incomplete")
		return d, errors.Join(errs...)
	}

	now := e.now()
	d.Status = models.DistributionDistributed
	d.DistributedAt = &now
	if err := e.repo.UpdateDistribution(ctx, d); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"distribution_id": d.ID,
		"distributed":     d.Distributed,
		"retained":        d.Retained(),
	}).Info("Dividend distributed")
	return d, nil
}

func (e *DividendEngine) payEntry(ctx context.Context, d *models.DividendDistribution, entry *models.DividendEntry) error {
	err := e.credit(ctx, d, entry)
	if err != nil {
		entry.Status = models.EntryFailed
		entry.LastError = err.Error()
	} else {
		entry.Status = models.EntryPaid
		entry.LastError = ""
	}
	if updErr := e.repo.UpdateEntry(ctx, entry); updErr != nil {
		return errors.Join(err, updErr)
	}
	return err
}

func (e *DividendEngine) credit(ctx context.Context, d *models.DividendDistribution, entry *models.DividendEntry) error {
	if entry.Amount == 0 {
		return nil
	}
	acct, err := openAccountOfType(ctx, e.repo, entry.MemberID, models.AccountRegular)
	if err != nil {
		return err
	}
	if acct == nil {
		return apperr.ErrNoSavingsAccount.With("member %d", entry.MemberID)
	}
	ref := fmt.Sprintf("%s %d", d.PeriodLabel, d.Year)
	tx, _, err := e.tx.credit(ctx, acct.ID, models.TxDividend, entry.Amount, DividendKey(d.ID), ref)
	if err != nil {
		return err
	}
	entry.TransactionID = tx.ID
	return nil
}

// GetDistribution returns a distribution.
func (e *DividendEngine) GetDistribution(ctx context.Context, distributionID int64) (*models.DividendDistribution, error) {
	return e.repo.GetDistribution(ctx, distributionID)
}

// Entries returns the distribution's entries.
func (e *DividendEngine) Entries(ctx context.Context, distributionID int64) ([]*models.DividendEntry, error) {
	if _, err := e.repo.GetDistribution(ctx, distributionID); err != nil {
		return nil, err
	}
	return e.repo.ListEntries(ctx, distributionID)
}
