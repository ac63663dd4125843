package service

import (
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/shopspring/decimal"
)

// monthlyRate converts an annual rate into the per-installment rate.
func monthlyRate(annual decimal.Decimal) decimal.Decimal {
	return annual.Div(decimal.NewFromInt(periodsPerYear))
}

// InstallmentAmount is principal × r × (1+r)^n / ((1+r)^n − 1), rounded half-up to the minor unit.
// A zero rate spreads the principal evenly, rounded up.
func InstallmentAmount(principal int64, annualRate decimal.Decimal, n int) int64 {
	if principal <= 0 || n <= 0 {
		return 0
	}
	p := decimal.NewFromInt(principal)
	r := monthlyRate(annualRate)
	if !r.IsPositive() {
		return p.Div(decimal.NewFromInt(int64(n))).Ceil().IntPart()
	}
	growth := decimal.NewFromInt(1)
	base := r.Add(decimal.NewFromInt(1))
	for range n {
		growth = growth.Mul(base)
	}
	return p.Mul(r).Mul(growth).
		Div(growth.Sub(decimal.NewFromInt(1))).
		Round(0).
		IntPart()
}

// Amortize builds an n-installment schedule. Interest per period is outstanding × r truncated;
// the last installment absorbs the remaining principal so principal parts sum to the principal.
func Amortize(principal int64, annualRate decimal.Decimal, n int, start time.Time) ([]models.Installment, int64) {
	return amortizeFrom(principal, annualRate, n, 1, func(i int) time.Time {
		return start.AddDate(0, i, 0)
	})
}

func amortizeFrom(principal int64, annualRate decimal.Decimal, n, firstNumber int, due func(i int) time.Time) ([]models.Installment, int64) {
	installment := InstallmentAmount(principal, annualRate, n)
	r := monthlyRate(annualRate)
	flat := !r.IsPositive()

	schedule := make([]models.Installment, 0, n)
	outstanding := principal
	for i := 1; i <= n; i++ {
		var interest, part int64
		if flat {
			part = principal / int64(n)
		} else {
			interest = decimal.NewFromInt(outstanding).Mul(r).Floor().IntPart()
			part = installment - interest
		}
		if i == n || part > outstanding {
			part = outstanding
		}
		if part < 0 {
			part = 0
		}
		outstanding -= part
		schedule = append(schedule, models.Installment{
			Number:    firstNumber + i - 1,
			DueDate:   due(i),
			Amount:    interest + part,
			Interest:  interest,
			Principal: part,
		})
	}
	return schedule, installment
}

// rebaseSchedule moves due dates to monthly offsets from the disbursal date.
func rebaseSchedule(schedule []models.Installment, from time.Time) {
	for i := range schedule {
		schedule[i].DueDate = from.AddDate(0, i+1, 0)
	}
}

// payoff is the most a single repayment may settle right now: the current installment's unpaid
// interest plus all outstanding principal.
func payoff(l *models.Loan) int64 {
	idx := l.NextUnpaid()
	if idx < 0 {
		return 0
	}
	inst := &l.Schedule[idx]
	return inst.Interest - inst.InterestPaid + l.OutstandingBalance
}

// applyRepayment settles amount against the loan interest-first. Money beyond the current
// installment prepays principal; the remaining installments are then re-amortized over the same
// count. The loan is closed once no principal is outstanding.
func applyRepayment(l *models.Loan, amount int64, at time.Time) error {
	if amount <= 0 {
		return apperr.ErrInvalidAmount
	}
	idx := l.NextUnpaid()
	if idx < 0 || l.OutstandingBalance <= 0 {
		return apperr.ErrInvalidState.With("loan %d has nothing outstanding", l.ID)
	}
	if limit := payoff(l); amount > limit {
		return apperr.ErrOverPayment.With("payment %d exceeds payoff %d", amount, limit)
	}

	inst := &l.Schedule[idx]
	remaining := amount

	interest := min(remaining, inst.Interest-inst.InterestPaid)
	inst.InterestPaid += interest
	remaining -= interest

	principal := min(remaining, inst.Principal-inst.PrincipalPaid)
	inst.PrincipalPaid += principal
	remaining -= principal
	l.OutstandingBalance -= principal

	if remaining > 0 {
		// prepayment is folded into the current installment
		inst.Principal += remaining
		inst.PrincipalPaid += remaining
		inst.Amount += remaining
		l.OutstandingBalance -= remaining
	}
	if inst.Paid() {
		paidAt := at
		inst.PaidAt = &paidAt
	}
	l.AmountPaid += amount

	if l.OutstandingBalance == 0 {
		l.Schedule = l.Schedule[:idx+1]
		l.Status = models.LoanClosed
		closedAt := at
		l.ClosedAt = &closedAt
		return nil
	}
	if remaining > 0 {
		rest := l.Schedule[idx+1:]
		dues := make([]time.Time, len(rest))
		for i := range rest {
			dues[i] = rest[i].DueDate
		}
		reamortized, installment := amortizeFrom(l.OutstandingBalance, l.InterestRate, len(rest), idx+2, func(i int) time.Time {
			return dues[i-1]
		})
		l.Schedule = append(l.Schedule[:idx+1], reamortized...)
		l.MonthlyInstallment = installment
	}
	return nil
}
