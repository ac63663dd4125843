package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const notifyTimeout = 10 * time.Second

// TransactionEngine is the single path through which balances change.
type TransactionEngine struct {
	repo     repository.Repository
	log      *logrus.Logger
	notifier Notifier
	policies models.Policies
	now      func() time.Time
}

// Deposit credits a completed deposit. source tags the origin (cash, mobile_money, revenue, ...).
func (e *TransactionEngine) Deposit(ctx context.Context, accountID, amount int64, source, key string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	txs, _, err := e.commit(ctx, e.entry(accountID, models.TxDeposit, amount, key, source))
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// DepositPending records a deposit awaiting external confirmation. It does not move the balance.
func (e *TransactionEngine) DepositPending(ctx context.Context, accountID, amount int64, source, key string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	entry := e.entry(accountID, models.TxDeposit, amount, key, source)
	entry.Status = models.TxPending
	txs, _, err := e.commit(ctx, entry)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// ConfirmDeposit settles a pending deposit. Repeated confirmations with the same outcome are no-ops.
func (e *TransactionEngine) ConfirmDeposit(ctx context.Context, txID int64, success bool) (*models.Transaction, error) {
	status := models.TxFailed
	if success {
		status = models.TxCompleted
	}
	tx, err := e.repo.Confirm(ctx, txID, status)
	if errors.Is(err, apperr.ErrNotPending) {
		current, findErr := e.repo.FindTransaction(ctx, txID)
		if findErr == nil && current.Status == status {
			return current, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"account_id":     tx.AccountID,
		"status":         tx.Status,
	}).Info("Pending deposit settled")
	if tx.Status == models.TxCompleted {
		e.notify(tx)
	}
	return tx, nil
}

// Withdraw debits the account subject to its lock period, withdrawal rule and minimum balance.
func (e *TransactionEngine) Withdraw(ctx context.Context, accountID, amount int64, key string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	entry := e.entry(accountID, models.TxWithdrawal, amount, key, "")
	entry.Check = e.withdrawalCheck(amount)
	txs, _, err := e.commit(ctx, entry)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// Transfer moves funds between accounts as one atomic transfer_out/transfer_in pair.
func (e *TransactionEngine) Transfer(ctx context.Context, fromID, toID, amount int64, key string) (*models.Transaction, *models.Transaction, error) {
	if amount <= 0 {
		return nil, nil, apperr.ErrInvalidAmount
	}
	if fromID == toID {
		return nil, nil, apperr.ErrSameAccountTransfer
	}
	key = ensureKey(key)
	correlation := uuid.NewString()

	out := e.entry(fromID, models.TxTransferOut, amount, key, fmt.Sprintf("to:%d", toID))
	out.CorrelationID = correlation
	out.Check = e.withdrawalCheck(amount)
	in := e.entry(toID, models.TxTransferIn, amount, key, fmt.Sprintf("from:%d", fromID))
	in.CorrelationID = correlation

	txs, _, err := e.commit(ctx, out, in)
	if err != nil {
		return nil, nil, err
	}
	return txs[0], txs[1], nil
}

// ApplyFee debits a fee. Fees may dip under the minimum balance but never below zero.
func (e *TransactionEngine) ApplyFee(ctx context.Context, accountID, amount int64, reason, key string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	entry := e.entry(accountID, models.TxFee, amount, key, reason)
	entry.Check = func(acct *models.Account, balance int64) error {
		if balance-amount < 0 {
			return apperr.ErrInsufficientFunds.With("fee %d exceeds balance %d", amount, balance)
		}
		return nil
	}
	txs, _, err := e.commit(ctx, entry)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// Reverse appends a compensating transaction for a completed one. The original is left untouched.
// Either leg of a transfer reverses both legs together. Entries booked by another engine are refused.
func (e *TransactionEngine) Reverse(ctx context.Context, txID int64, reason string) (*models.Transaction, error) {
	orig, err := e.repo.FindTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if orig.Status != models.TxCompleted || orig.Type == models.TxReversal {
		return nil, apperr.ErrInvalidState.With("transaction %d cannot be reversed", txID)
	}
	if engineOwned(orig) {
		return nil, apperr.ErrNotReversible.With("transaction %d is %s", txID, orig.Type)
	}
	if orig.Type != models.TxTransferOut && orig.Type != models.TxTransferIn {
		return e.compensate(ctx, orig, reason)
	}

	other, err := e.counterpart(ctx, orig)
	if err != nil {
		return nil, err
	}
	txs, err := e.reverse(ctx, reason, orig, other)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// compensate reverses a single transaction regardless of which engine wrote it.
func (e *TransactionEngine) compensate(ctx context.Context, orig *models.Transaction, reason string) (*models.Transaction, error) {
	txs, err := e.reverse(ctx, reason, orig)
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// reverse commits one reversal per original in a single append.
func (e *TransactionEngine) reverse(ctx context.Context, reason string, origs ...*models.Transaction) ([]*models.Transaction, error) {
	entries := make([]repository.Entry, 0, len(origs))
	for _, orig := range origs {
		amount := -orig.Amount
		id := orig.ID
		entries = append(entries, repository.Entry{
			AccountID:      orig.AccountID,
			Type:           models.TxReversal,
			Amount:         amount,
			IdempotencyKey: ReversalKey(orig.ID),
			Status:         models.TxCompleted,
			CorrelationID:  orig.CorrelationID,
			Reference:      reason,
			ReversalOf:     orig.ID,
			Check: func(acct *models.Account, balance int64) error {
				if balance+amount < 0 {
					return apperr.ErrInsufficientFunds.With("reversal of %d leaves negative balance", id)
				}
				return nil
			},
		})
	}
	txs, replayed, err := e.commit(ctx, entries...)
	if errors.Is(err, apperr.ErrDuplicateTransaction) || replayed {
		return nil, apperr.ErrAlreadyReversed.With("transaction %d", origs[0].ID)
	}
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// counterpart finds the other leg of a transfer through its correlation id.
func (e *TransactionEngine) counterpart(ctx context.Context, leg *models.Transaction) (*models.Transaction, error) {
	want := models.TxTransferIn
	if leg.Type == models.TxTransferIn {
		want = models.TxTransferOut
	}
	if leg.CorrelationID != "" {
		related, err := e.repo.FindByCorrelation(ctx, leg.CorrelationID)
		if err != nil {
			return nil, err
		}
		for _, tx := range related {
			if tx.ID != leg.ID && tx.Type == want {
				return tx, nil
			}
		}
	}
	return nil, apperr.ErrInvalidState.With("transfer leg %d has no counterpart", leg.ID)
}

// reversalOf returns the reversal recorded for tx, or nil.
func (e *TransactionEngine) reversalOf(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	rev, err := e.repo.FindByKey(ctx, tx.AccountID, ReversalKey(tx.ID))
	if errors.Is(err, apperr.ErrTransactionNotFound) {
		return nil, nil
	}
	return rev, err
}

// ReversalKey is the idempotency key of the reversal of transaction id.
func ReversalKey(id int64) string {
	return fmt.Sprintf("reversal:%d", id)
}

// engineOwned reports entries that another engine's records account for.
func engineOwned(tx *models.Transaction) bool {
	switch tx.Type {
	case models.TxLoanRepayment, models.TxInterest, models.TxDividend:
		return true
	case models.TxDeposit:
		return strings.HasPrefix(tx.IdempotencyKey, "loan:") && strings.HasSuffix(tx.IdempotencyKey, ":disbursement")
	}
	return false
}

// Balance returns the committed balance.
func (e *TransactionEngine) Balance(ctx context.Context, accountID int64) (int64, error) {
	return e.repo.BalanceOf(ctx, accountID)
}

// Find returns one transaction.
func (e *TransactionEngine) Find(ctx context.Context, txID int64) (*models.Transaction, error) {
	return e.repo.FindTransaction(ctx, txID)
}

// Reconcile recomputes the account balance from its log and repairs the cached projection.
func (e *TransactionEngine) Reconcile(ctx context.Context, accountID int64) (cached, derived int64, err error) {
	cached, derived, err = e.repo.Reconcile(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	if cached != derived {
		e.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"cached":     cached,
			"derived":    derived,
		}).Warn("Balance projection drifted, repaired from ledger")
	}
	return cached, derived, nil
}

// History returns the account's filtered transaction log.
func (e *TransactionEngine) History(ctx context.Context, accountID int64, filter models.TransactionFilter) iter.Seq2[*models.Transaction, error] {
	return e.repo.History(ctx, accountID, filter)
}

// credit is used by the engines for interest, dividends and loan disbursements.
func (e *TransactionEngine) credit(ctx context.Context, accountID int64, typ models.TransactionType, amount int64, key, ref string) (*models.Transaction, bool, error) {
	if amount <= 0 {
		return nil, false, apperr.ErrInvalidAmount
	}
	txs, replayed, err := e.commit(ctx, e.entry(accountID, typ, amount, key, ref))
	if err != nil {
		return nil, false, err
	}
	return txs[0], replayed, nil
}

// debit is used by the loan engine for repayments; it honours the same rules as a withdrawal
// except the lock period, since repayments come out of the regular savings account.
func (e *TransactionEngine) debit(ctx context.Context, accountID int64, typ models.TransactionType, amount int64, key, ref string) (*models.Transaction, bool, error) {
	if amount <= 0 {
		return nil, false, apperr.ErrInvalidAmount
	}
	entry := e.entry(accountID, typ, amount, key, ref)
	entry.Check = func(acct *models.Account, balance int64) error {
		if balance-amount < acct.MinimumBalance {
			return apperr.ErrInsufficientFunds.With("balance %d, debit %d, minimum %d", balance, amount, acct.MinimumBalance)
		}
		return nil
	}
	txs, replayed, err := e.commit(ctx, entry)
	if err != nil {
		return nil, false, err
	}
	return txs[0], replayed, nil
}

func (e *TransactionEngine) entry(accountID int64, typ models.TransactionType, amount int64, key, ref string) repository.Entry {
	return repository.Entry{
		AccountID:      accountID,
		Type:           typ,
		Amount:         typ.Sign() * amount,
		IdempotencyKey: ensureKey(key),
		Status:         models.TxCompleted,
		Reference:      ref,
	}
}

func (e *TransactionEngine) withdrawalCheck(amount int64) func(*models.Account, int64) error {
	return func(acct *models.Account, balance int64) error {
		if acct.LockedAt(e.now()) {
			return apperr.ErrAccountLocked.With("account %d locked until %s", acct.ID, acct.LockedUntil.Format(time.DateOnly))
		}
		if pol, ok := e.policies.Lookup(acct.Type); ok && !pol.Withdrawable {
			return apperr.ErrWithdrawalNotPermitted.With("account %d is %s", acct.ID, acct.Type)
		}
		if balance-amount < acct.MinimumBalance {
			return apperr.ErrInsufficientFunds.With("balance %d, withdrawal %d, minimum %d", balance, amount, acct.MinimumBalance)
		}
		return nil
	}
}

// commit appends the entries. A replayed idempotency key returns the originally stored transactions.
func (e *TransactionEngine) commit(ctx context.Context, entries ...repository.Entry) ([]*models.Transaction, bool, error) {
	txs, err := e.repo.Append(ctx, entries...)
	if errors.Is(err, apperr.ErrDuplicateTransaction) {
		existing := make([]*models.Transaction, 0, len(entries))
		for _, entry := range entries {
			tx, findErr := e.repo.FindByKey(ctx, entry.AccountID, entry.IdempotencyKey)
			if findErr != nil {
				return nil, false, err
			}
			existing = append(existing, tx)
		}
		e.log.WithFields(logrus.Fields{
			"account_id":      entries[0].AccountID,
			"idempotency_key": entries[0].IdempotencyKey,
		}).Info("Idempotent replay, returning stored transaction")
		return existing, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	for _, tx := range txs {
		e.log.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"account_id":     tx.AccountID,
			"type":           tx.Type,
			"amount":         tx.Amount,
			"status":         tx.Status,
			"balance_after":  tx.BalanceAfter,
		}).Info("Transaction committed")
		if tx.Status == models.TxCompleted {
			e.notify(tx)
		}
	}
	return txs, false, nil
}

// notify runs after commit and only logs failures.
func (e *TransactionEngine) notify(tx *models.Transaction) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		acct, err := e.repo.GetAccount(ctx, tx.AccountID)
		if err != nil {
			e.log.WithError(err).WithField("transaction_id", tx.ID).Warn("Notification skipped")
			return
		}
		member, err := e.repo.GetMember(ctx, acct.MemberID)
		if err != nil || member.Email == "" {
			return
		}
		if err := e.notifier.TransactionCommitted(ctx, member.Email, tx); err != nil {
			e.log.WithError(err).WithField("transaction_id", tx.ID).Warn("Transaction notification failed")
		}
	}()
}

func ensureKey(key string) string {
	if key == "" {
		return uuid.NewString()
	}
	return key
}
