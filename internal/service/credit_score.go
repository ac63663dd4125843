package service

import (
	"context"
	"time"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MaxCreditScore is the upper bound of the score scale.
const MaxCreditScore = 850

// CreditScore is a pure function of the snapshot and weights.
//
//	score = 850 × (ws·min(1, savings/ceiling) + wt·min(1, tenure/ceiling) + wr·onTimeRatio) − penalty
//
// The penalty applies once when the member has any default. Members with no installments
// due yet get a full repayment ratio.
func CreditScore(s models.CreditSnapshot, w config.ScoreWeights) int {
	one := decimal.NewFromInt(1)

	savings := decimal.Zero
	if w.SavingsCeiling > 0 && s.TotalSavings > 0 {
		savings = decimal.Min(one, decimal.NewFromInt(s.TotalSavings).Div(decimal.NewFromInt(w.SavingsCeiling)))
	}
	tenure := decimal.Zero
	if w.TenureCeilingMonths > 0 && s.TenureMonths > 0 {
		tenure = decimal.Min(one, decimal.NewFromInt(int64(s.TenureMonths)).Div(decimal.NewFromInt(int64(w.TenureCeilingMonths))))
	}
	ratio := one
	if s.InstallmentsDue > 0 {
		ratio = decimal.NewFromInt(int64(s.InstallmentsOnTime)).Div(decimal.NewFromInt(int64(s.InstallmentsDue)))
	}

	raw := w.Savings.Mul(savings).
		Add(w.Tenure.Mul(tenure)).
		Add(w.Repayment.Mul(ratio)).
		Mul(decimal.NewFromInt(MaxCreditScore))
	if s.Defaults > 0 {
		raw = raw.Sub(decimal.NewFromInt(int64(w.DefaultPenalty)))
	}

	score := int(raw.Floor().IntPart())
	switch {
	case score < 0:
		return 0
	case score > MaxCreditScore:
		return MaxCreditScore
	}
	return score
}

// Snapshot collects the ledger facts the score depends on as of asOf.
func (c *Calculator) Snapshot(ctx context.Context, memberID int64, asOf time.Time) (models.CreditSnapshot, error) {
	member, err := c.repo.GetMember(ctx, memberID)
	if err != nil {
		return models.CreditSnapshot{}, err
	}
	savings, err := totalSavings(ctx, c.repo, memberID)
	if err != nil {
		return models.CreditSnapshot{}, err
	}
	loans, err := c.repo.ListLoansByMember(ctx, memberID)
	if err != nil {
		return models.CreditSnapshot{}, err
	}

	snap := models.CreditSnapshot{
		TotalSavings: savings,
		TenureMonths: monthsBetween(member.JoinedAt, asOf),
	}
	for _, l := range loans {
		if l.Status == models.LoanDefaulted || l.DefaultedAt != nil {
			snap.Defaults++
		}
		if l.DisbursedAt == nil {
			continue
		}
		for i := range l.Schedule {
			inst := &l.Schedule[i]
			if !inst.Paid() && inst.DueDate.After(asOf) {
				continue
			}
			snap.InstallmentsDue++
			if inst.OnTime() {
				snap.InstallmentsOnTime++
			}
		}
	}
	return snap, nil
}

// ComputeCreditScore derives the member's current score without persisting it.
func (c *Calculator) ComputeCreditScore(ctx context.Context, memberID int64) (*models.CreditReport, error) {
	snap, err := c.Snapshot(ctx, memberID, c.now())
	if err != nil {
		return nil, err
	}
	return &models.CreditReport{
		MemberID: memberID,
		Score:    CreditScore(snap, c.weights),
		Snapshot: snap,
	}, nil
}

// RefreshCreditScore recomputes the score and stores it on the member record.
func (c *Calculator) RefreshCreditScore(ctx context.Context, memberID int64) (*models.CreditReport, error) {
	report, err := c.ComputeCreditScore(ctx, memberID)
	if err != nil {
		return nil, err
	}
	member, err := c.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.CreditScore != report.Score {
		if err := c.repo.UpdateCreditScore(ctx, memberID, report.Score); err != nil {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{"member_id": memberID, "score": report.Score}).Info("Credit score updated")
	}
	return report, nil
}

// monthsBetween counts whole calendar months from start to end.
func monthsBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
