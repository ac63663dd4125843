// Package postgres implements repository.Repository on PostgreSQL through database/sql and lib/pq.
// Per-account serialization uses SELECT ... FOR UPDATE in ascending id order.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"

	accountColumns     = "id, member_id, type, balance, interest_rate, minimum_balance, locked_until, status, created_at, updated_at"
	transactionColumns = "id, account_id, type, amount, balance_after, status, idempotency_key, correlation_id, reference, reversal_of, created_at, settled_at"
)

// Store provides database operations
type Store struct {
	db *sql.DB
}

var _ repository.Repository = (*Store)(nil)

// New initializes a new store
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the schema. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperr.Unavailable("migrate", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify maps driver errors onto the error taxonomy; already classified errors pass through.
func classify(op string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			switch pqErr.Constraint {
			case "transactions_account_key_uniq":
				return fmt.Errorf("%s: %w", op, apperr.ErrDuplicateTransaction.With("%s", pqErr.Detail))
			case "dividend_period_uniq":
				return fmt.Errorf("%s: %w", op, apperr.ErrDuplicatePeriod)
			}
			return fmt.Errorf("%s: %w", op, apperr.ErrAlreadyExists.With("%s", pqErr.Detail))
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%s: %w", op, apperr.ErrConcurrentModification)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Unavailable(op, err)
}

func scanAccount(row scanner) (*models.Account, error) {
	acct := &models.Account{}
	var lockedUntil sql.NullTime
	err := row.Scan(&acct.ID, &acct.MemberID, &acct.Type, &acct.Balance, &acct.InterestRate,
		&acct.MinimumBalance, &lockedUntil, &acct.Status, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		acct.LockedUntil = &lockedUntil.Time
	}
	return acct, nil
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var reversalOf sql.NullInt64
	var settledAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.BalanceAfter, &tx.Status,
		&tx.IdempotencyKey, &tx.CorrelationID, &tx.Reference, &reversalOf, &tx.CreatedAt, &settledAt)
	if err != nil {
		return nil, err
	}
	tx.ReversalOf = reversalOf.Int64
	if settledAt.Valid {
		tx.SettledAt = &settledAt.Time
	}
	return tx, nil
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// lockAccounts row-locks the accounts in ascending id order and returns them by id.
func lockAccounts(ctx context.Context, tx *sql.Tx, ids ...int64) (map[int64]*models.Account, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM sacco.accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]*models.Account, len(ids))
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[acct.ID] = acct
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, apperr.ErrAccountNotFound.With("account %d", id)
		}
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, entries ...repository.Entry) ([]*models.Transaction, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	var out []*models.Transaction
	err := s.withTx(ctx, "append", func(tx *sql.Tx) error {
		ids := make([]int64, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.AccountID)
		}
		accounts, err := lockAccounts(ctx, tx, ids...)
		if err != nil {
			return err
		}
		out = make([]*models.Transaction, 0, len(entries))
		for _, e := range entries {
			acct := accounts[e.AccountID]
			if acct.Status == models.AccountClosed {
				return apperr.ErrAccountClosed.With("account %d", acct.ID)
			}
			var exists bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM sacco.transactions WHERE account_id = $1 AND idempotency_key = $2)`,
				e.AccountID, e.IdempotencyKey).Scan(&exists)
			if err != nil {
				return err
			}
			if exists {
				return apperr.ErrDuplicateTransaction.With("account %d key %q", e.AccountID, e.IdempotencyKey)
			}
			if e.Check != nil {
				snapshot := *acct
				if err := e.Check(&snapshot, acct.Balance); err != nil {
					return err
				}
			}
			if e.Status == models.TxCompleted {
				acct.Balance += e.Amount
			}
			row := tx.QueryRowContext(ctx, `
				INSERT INTO sacco.transactions
					(account_id, type, amount, balance_after, status, idempotency_key, correlation_id, reference, reversal_of, created_at, settled_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP,
					CASE WHEN $5 = 'completed' THEN CURRENT_TIMESTAMP END)
				RETURNING `+transactionColumns,
				e.AccountID, e.Type, e.Amount, acct.Balance, e.Status, e.IdempotencyKey,
				e.CorrelationID, e.Reference, nullInt(e.ReversalOf))
			stored, err := scanTransaction(row)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		for _, acct := range accounts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE sacco.accounts SET balance = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
				acct.ID, acct.Balance); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Confirm(ctx context.Context, txID int64, status models.TransactionStatus) (*models.Transaction, error) {
	if status != models.TxCompleted && status != models.TxFailed {
		return nil, apperr.ErrInvalidRequest.With("confirmation status %q", status)
	}
	pending, err := s.FindTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	var out *models.Transaction
	err = s.withTx(ctx, "confirm", func(tx *sql.Tx) error {
		accounts, err := lockAccounts(ctx, tx, pending.AccountID)
		if err != nil {
			return err
		}
		acct := accounts[pending.AccountID]
		current, err := scanTransaction(tx.QueryRowContext(ctx,
			`SELECT `+transactionColumns+` FROM sacco.transactions WHERE id = $1`, txID))
		if err != nil {
			return err
		}
		if current.Status != models.TxPending {
			return apperr.ErrNotPending.With("transaction %d is %s", txID, current.Status)
		}
		if status == models.TxCompleted && acct.Status == models.AccountClosed {
			return apperr.ErrAccountClosed.With("account %d cannot take deposit %d", acct.ID, txID)
		}
		balanceAfter := current.BalanceAfter
		if status == models.TxCompleted {
			acct.Balance += current.Amount
			balanceAfter = acct.Balance
			if _, err := tx.ExecContext(ctx,
				`UPDATE sacco.accounts SET balance = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
				acct.ID, acct.Balance); err != nil {
				return err
			}
		}
		out, err = scanTransaction(tx.QueryRowContext(ctx, `
			UPDATE sacco.transactions SET status = $2, balance_after = $3, settled_at = CURRENT_TIMESTAMP
			WHERE id = $1 RETURNING `+transactionColumns, txID, status, balanceAfter))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) BalanceOf(ctx context.Context, accountID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM sacco.accounts WHERE id = $1`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrAccountNotFound.With("account %d", accountID)
	}
	if err != nil {
		return 0, apperr.Unavailable("balance", err)
	}
	return balance, nil
}

func (s *Store) History(ctx context.Context, accountID int64, filter models.TransactionFilter) iter.Seq2[*models.Transaction, error] {
	return func(yield func(*models.Transaction, error) bool) {
		if _, err := s.GetAccount(ctx, accountID); err != nil {
			yield(nil, err)
			return
		}
		where := []string{"account_id = $1"}
		args := []any{accountID}
		add := func(cond string, v any) {
			args = append(args, v)
			where = append(where, fmt.Sprintf(cond, len(args)))
		}
		if filter.Type != "" {
			add("type = $%d", filter.Type)
		}
		if filter.Status != "" {
			add("status = $%d", filter.Status)
		}
		if !filter.From.IsZero() {
			add("created_at >= $%d", filter.From)
		}
		if !filter.To.IsZero() {
			add("created_at <= $%d", filter.To)
		}
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+transactionColumns+` FROM sacco.transactions WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at, id`,
			args...)
		if err != nil {
			yield(nil, apperr.Unavailable("history", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			tx, err := scanTransaction(rows)
			if err != nil {
				yield(nil, apperr.Unavailable("history", err))
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, apperr.Unavailable("history", err))
		}
	}
}

func (s *Store) FindTransaction(ctx context.Context, txID int64) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM sacco.transactions WHERE id = $1`, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrTransactionNotFound.With("transaction %d", txID)
	}
	if err != nil {
		return nil, apperr.Unavailable("find transaction", err)
	}
	return tx, nil
}

func (s *Store) FindByKey(ctx context.Context, accountID int64, key string) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM sacco.transactions WHERE account_id = $1 AND idempotency_key = $2`,
		accountID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrTransactionNotFound.With("account %d key %q", accountID, key)
	}
	if err != nil {
		return nil, apperr.Unavailable("find transaction", err)
	}
	return tx, nil
}

func (s *Store) FindByCorrelation(ctx context.Context, correlationID string) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM sacco.transactions WHERE correlation_id = $1 ORDER BY id`, correlationID)
	if err != nil {
		return nil, apperr.Unavailable("find correlated transactions", err)
	}
	defer rows.Close()
	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, apperr.Unavailable("find correlated transactions", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("find correlated transactions", err)
	}
	return out, nil
}

func (s *Store) Reconcile(ctx context.Context, accountID int64) (int64, int64, error) {
	var cached, derived int64
	err := s.withTx(ctx, "reconcile", func(tx *sql.Tx) error {
		accounts, err := lockAccounts(ctx, tx, accountID)
		if err != nil {
			return err
		}
		cached = accounts[accountID].Balance
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(amount), 0) FROM sacco.transactions WHERE account_id = $1 AND status = 'completed'`,
			accountID).Scan(&derived)
		if err != nil {
			return err
		}
		if derived != cached {
			_, err = tx.ExecContext(ctx,
				`UPDATE sacco.accounts SET balance = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, accountID, derived)
		}
		return err
	})
	return cached, derived, err
}
