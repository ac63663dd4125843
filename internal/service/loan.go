package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// LoanEngine runs the loan state machine:
// pending → approved → disbursed → active → closed, active → defaulted, pending → rejected.
type LoanEngine struct {
	repo      repository.Repository
	tx        *TransactionEngine
	calc      *Calculator
	log       *logrus.Logger
	notifier  Notifier
	graceDays int
	cap       int64
	now       func() time.Time
	locks     *keyedMutex
}

// LoanLimit is the most the member may borrow under the product right now: savings times the
// product factor, capped, less what the member still owes on earlier loans.
func (e *LoanEngine) LoanLimit(ctx context.Context, memberID int64, product *models.LoanProduct) (int64, error) {
	savings, err := totalSavings(ctx, e.repo, memberID)
	if err != nil {
		return 0, err
	}
	limit := decimal.NewFromInt(savings).Mul(product.SavingsFactor).Floor().IntPart()
	if product.MaxAmount > 0 && limit > product.MaxAmount {
		limit = product.MaxAmount
	}
	loans, err := e.repo.ListLoansByMember(ctx, memberID)
	if err != nil {
		return 0, err
	}
	var outstanding int64
	for _, l := range loans {
		if l.Status == models.LoanDefaulted || l.DefaultedAt != nil {
			limit = min(limit, e.cap)
		}
		outstanding += l.OutstandingBalance
	}
	return max(limit-outstanding, 0), nil
}

// Apply files a pending loan application.
func (e *LoanEngine) Apply(ctx context.Context, memberID, productID, amount int64, termMonths int) (*models.Loan, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	if termMonths <= 0 {
		return nil, apperr.ErrInvalidRequest.With("term must be at least one month")
	}
	member, err := e.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.Status != models.MemberActive {
		return nil, apperr.ErrMemberInactive.With("member %d is %s", memberID, member.Status)
	}
	product, err := e.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if termMonths > product.MaxTermMonths {
		return nil, apperr.ErrProductTermExceeded.With("%d months, %s allows %d", termMonths, product.Name, product.MaxTermMonths)
	}
	limit, err := e.LoanLimit(ctx, memberID, product)
	if err != nil {
		return nil, err
	}
	if amount > limit {
		return nil, apperr.ErrExceedsLoanLimit.With("requested %d, limit %d", amount, limit)
	}

	loan := &models.Loan{
		MemberID:     memberID,
		ProductID:    productID,
		Principal:    amount,
		InterestRate: product.InterestRate,
		TermMonths:   termMonths,
		Status:       models.LoanPending,
		AppliedAt:    e.now(),
	}
	if err := e.repo.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"member_id": memberID,
		"product":   product.Name,
		"principal": amount,
	}).Info("Loan application received")
	return loan, nil
}

// Approve computes the amortization schedule for a pending loan.
func (e *LoanEngine) Approve(ctx context.Context, loanID int64) (*models.Loan, error) {
	unlock := e.locks.Lock(loanID)
	defer unlock()

	loan, err := e.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanPending {
		return nil, apperr.ErrAlreadyDecided.With("loan %d is %s", loanID, loan.Status)
	}
	now := e.now()
	loan.Schedule, loan.MonthlyInstallment = Amortize(loan.Principal, loan.InterestRate, loan.TermMonths, now)
	loan.Status = models.LoanApproved
	loan.DecidedAt = &now
	if err := e.repo.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"loan_id":     loanID,
		"installment": loan.MonthlyInstallment,
	}).Info("Loan approved")
	return loan, nil
}

// Reject closes a pending application.
func (e *LoanEngine) Reject(ctx context.Context, loanID int64) (*models.Loan, error) {
	unlock := e.locks.Lock(loanID)
	defer unlock()

	loan, err := e.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanPending {
		return nil, apperr.ErrAlreadyDecided.With("loan %d is %s", loanID, loan.Status)
	}
	now := e.now()
	loan.Status = models.LoanRejected
	loan.DecidedAt = &now
	if err := e.repo.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}
	e.log.WithField("loan_id", loanID).Info("Loan rejected")
	return loan, nil
}

// DisbursementKey is the idempotency key of a loan's disbursement credit.
func DisbursementKey(loanID int64) string {
	return fmt.Sprintf("loan:%d:disbursement", loanID)
}

// Disburse credits the principal into the member's regular savings account and activates the loan.
// Calling it again on a disbursed loan finishes the activation without crediting twice.
func (e *LoanEngine) Disburse(ctx context.Context, loanID int64) (*models.Loan, error) {
	unlock := e.locks.Lock(loanID)
	defer unlock()

	loan, err := e.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	switch loan.Status {
	case models.LoanApproved:
	case models.LoanDisbursed:
		return e.activate(ctx, loan)
	default:
		return nil, apperr.ErrInvalidState.With("loan %d is %s", loanID, loan.Status)
	}

	acct, err := openAccountOfType(ctx, e.repo, loan.MemberID, models.AccountRegular)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, apperr.ErrNoSavingsAccount.With("member %d", loan.MemberID)
	}
	tx, _, err := e.tx.credit(ctx, acct.ID, models.TxDeposit, loan.Principal, DisbursementKey(loan.ID), "loan_disbursement")
	if err != nil {
		return nil, fmt.Errorf("disburse loan %d: %w", loan.ID, err)
	}

	disbursedAt := tx.CreatedAt
	loan.Status = models.LoanDisbursed
	loan.DisbursedAt = &disbursedAt
	loan.OutstandingBalance = loan.Principal
	rebaseSchedule(loan.Schedule, disbursedAt)
	if err := e.repo.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"loan_id":        loan.ID,
		"account_id":     acct.ID,
		"transaction_id": tx.ID,
	}).Info("Loan disbursed")
	return e.activate(ctx, loan)
}

func (e *LoanEngine) activate(ctx context.Context, loan *models.Loan) (*models.Loan, error) {
	loan.Status = models.LoanActive
	if err := e.repo.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}
	return loan, nil
}

// Repay debits the member's regular savings account and applies the payment interest-first.
// Amounts above the current payoff are rejected with OverPayment.
func (e *LoanEngine) Repay(ctx context.Context, loanID, amount int64, key string) (*models.Transaction, *models.Loan, error) {
	if amount <= 0 {
		return nil, nil, apperr.ErrInvalidAmount
	}
	unlock := e.locks.Lock(loanID)
	defer unlock()

	loan, err := e.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	if loan.Status != models.LoanActive && loan.Status != models.LoanDefaulted {
		return nil, nil, apperr.ErrInvalidState.With("loan %d is %s", loanID, loan.Status)
	}
	updated := loan.Clone()
	if err := applyRepayment(updated, amount, e.now()); err != nil {
		return nil, nil, err
	}

	acct, err := openAccountOfType(ctx, e.repo, loan.MemberID, models.AccountRegular)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, apperr.ErrNoSavingsAccount.With("member %d", loan.MemberID)
	}
	if key == "" {
		key = fmt.Sprintf("loan:%d:repayment:%d", loan.ID, loan.Version)
	}
	ref := fmt.Sprintf("loan:%d", loan.ID)
	tx, replayed, err := e.tx.debit(ctx, acct.ID, models.TxLoanRepayment, amount, key, ref)
	// A replayed debit that was rolled back never reached the loan; book it again under a derived key.
	for err == nil && replayed {
		rev, revErr := e.tx.reversalOf(ctx, tx)
		if revErr != nil {
			return nil, nil, revErr
		}
		if rev == nil {
			return tx, loan, nil
		}
		e.log.WithFields(logrus.Fields{
			"loan_id":         loan.ID,
			"transaction_id":  tx.ID,
			"idempotency_key": key,
		}).Info("Replayed repayment was rolled back, debiting again")
		tx, replayed, err = e.tx.debit(ctx, acct.ID, models.TxLoanRepayment, amount, fmt.Sprintf("%s:after:%d", key, rev.ID), ref)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := e.repo.UpdateLoan(ctx, updated); err != nil {
		if _, revErr := e.tx.compensate(ctx, tx, "loan_update_failed"); revErr != nil {
			e.log.WithError(revErr).WithField("transaction_id", tx.ID).Error("Repayment left unreconciled")
			return nil, nil, errors.Join(err, revErr)
		}
		return nil, nil, err
	}

	log := e.log.WithFields(logrus.Fields{
		"loan_id":     loan.ID,
		"amount":      amount,
		"outstanding": updated.OutstandingBalance,
	})
	if updated.Status == models.LoanClosed {
		log.Info("Loan repaid in full")
		if _, err := e.calc.RefreshCreditScore(ctx, loan.MemberID); err != nil {
			e.log.WithError(err).WithField("member_id", loan.MemberID).Warn("Credit score refresh failed")
		}
	} else {
		log.Info("Loan repayment applied")
	}
	return tx, updated, nil
}

// GetLoan returns a loan with its schedule.
func (e *LoanEngine) GetLoan(ctx context.Context, loanID int64) (*models.Loan, error) {
	return e.repo.GetLoan(ctx, loanID)
}

// ListLoans returns the member's loans.
func (e *LoanEngine) ListLoans(ctx context.Context, memberID int64) ([]*models.Loan, error) {
	return e.repo.ListLoansByMember(ctx, memberID)
}

// Products lists the configured loan products.
func (e *LoanEngine) Products(ctx context.Context) ([]*models.LoanProduct, error) {
	return e.repo.ListProducts(ctx)
}

// RunLoanDefaultSweep marks active loans whose oldest unpaid installment is more than the grace
// period overdue as defaulted. Loans already defaulted are not selected again, so reruns are no-ops.
func (e *LoanEngine) RunLoanDefaultSweep(ctx context.Context, asOf time.Time) (int, error) {
	loans, err := e.repo.ListLoansByStatus(ctx, models.LoanActive)
	if err != nil {
		return 0, err
	}
	var (
		defaulted int
		errs      []error
	)
	for _, l := range loans {
		if !e.overdue(l, asOf) {
			continue
		}
		ok, err := e.markDefaulted(ctx, l.ID, asOf)
		if err != nil {
			errs = append(errs, fmt.Errorf("loan %d: %w", l.ID, err))
			continue
		}
		if ok {
			defaulted++
		}
	}
	e.log.WithFields(logrus.Fields{
		"as_of":     asOf.Format(time.DateOnly),
		"checked":   len(loans),
		"defaulted": defaulted,
	}).Info("Loan default sweep finished")
	return defaulted, errors.Join(errs...)
}

func (e *LoanEngine) overdue(l *models.Loan, asOf time.Time) bool {
	idx := l.NextUnpaid()
	if idx < 0 {
		return false
	}
	return asOf.After(l.Schedule[idx].DueDate.AddDate(0, 0, e.graceDays))
}

func (e *LoanEngine) markDefaulted(ctx context.Context, loanID int64, asOf time.Time) (bool, error) {
	unlock := e.locks.Lock(loanID)
	defer unlock()

	loan, err := e.repo.GetLoan(ctx, loanID)
	if err != nil {
		return false, err
	}
	if loan.Status != models.LoanActive || !e.overdue(loan, asOf) {
		return false, nil
	}
	loan.Status = models.LoanDefaulted
	defaultedAt := asOf
	loan.DefaultedAt = &defaultedAt
	if err := e.repo.UpdateLoan(ctx, loan); err != nil {
		if errors.Is(err, apperr.ErrConcurrentModification) {
			e.log.WithField("loan_id", loanID).Warn("Loan changed during sweep, skipped")
			return false, nil
		}
		return false, err
	}
	e.log.WithFields(logrus.Fields{"loan_id": loanID, "member_id": loan.MemberID}).Warn("Loan defaulted")

	if _, err := e.calc.RefreshCreditScore(ctx, loan.MemberID); err != nil {
		e.log.WithError(err).WithField("member_id", loan.MemberID).Warn("Credit score refresh failed")
	}
	e.notifyDefault(ctx, loan)
	return true, nil
}

func (e *LoanEngine) notifyDefault(ctx context.Context, loan *models.Loan) {
	if e.notifier == nil {
		return
	}
	member, err := e.repo.GetMember(ctx, loan.MemberID)
	if err != nil || member.Email == "" {
		return
	}
	if err := e.notifier.LoanDefaulted(ctx, member.Email, loan); err != nil {
		e.log.WithError(err).WithField("loan_id", loan.ID).Warn("Default notification failed")
	}
}
