package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

const (
	loanColumns = `id, member_id, product_id, principal, interest_rate, term_months, outstanding_balance,
		monthly_installment, amount_paid, status, schedule, applied_at, decided_at, disbursed_at, closed_at, defaulted_at, version`
	distributionColumns = `id, period_label, year, total_pool, total_shares, rate_per_share, distributed,
		calculated_at, distributed_at, status, created_at, version`
)

// CreateAccount creates a new account in the database
func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	query := `
		INSERT INTO sacco.accounts (member_id, type, balance, interest_rate, minimum_balance, locked_until, status, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, 'open', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, balance, status, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query, acct.MemberID, acct.Type, acct.InterestRate, acct.MinimumBalance, acct.LockedUntil).
		Scan(&acct.ID, &acct.Balance, &acct.Status, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return classify("create account", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM sacco.accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrAccountNotFound.With("account %d", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("get account", err)
	}
	return acct, nil
}

func (s *Store) ListAccountsByMember(ctx context.Context, memberID int64) ([]*models.Account, error) {
	return s.queryAccounts(ctx, `SELECT `+accountColumns+` FROM sacco.accounts WHERE member_id = $1 ORDER BY id`, memberID)
}

func (s *Store) ListOpenAccounts(ctx context.Context, accType models.AccountType) ([]*models.Account, error) {
	return s.queryAccounts(ctx,
		`SELECT `+accountColumns+` FROM sacco.accounts WHERE status = 'open' AND ($1 = '' OR type = $1) ORDER BY id`,
		string(accType))
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Unavailable("list accounts", err)
	}
	defer rows.Close()
	var out []*models.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, apperr.Unavailable("list accounts", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("list accounts", err)
	}
	return out, nil
}

func (s *Store) CloseAccount(ctx context.Context, id int64, check func(acct *models.Account) error) (*models.Account, error) {
	var out *models.Account
	err := s.withTx(ctx, "close account", func(tx *sql.Tx) error {
		accounts, err := lockAccounts(ctx, tx, id)
		if err != nil {
			return err
		}
		acct := accounts[id]
		if acct.Status == models.AccountClosed {
			return apperr.ErrAccountClosed.With("account %d", id)
		}
		var pending int64
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sacco.transactions WHERE account_id = $1 AND status = 'pending'`, id).Scan(&pending)
		if err != nil {
			return err
		}
		if pending > 0 {
			return apperr.ErrPendingDeposits.With("account %d has %d", id, pending)
		}
		if check != nil {
			if err := check(acct); err != nil {
				return err
			}
		}
		out, err = scanAccount(tx.QueryRowContext(ctx,
			`UPDATE sacco.accounts SET status = 'closed', updated_at = CURRENT_TIMESTAMP WHERE id = $1 RETURNING `+accountColumns, id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMember creates a new member in the database
func (s *Store) CreateMember(ctx context.Context, m *models.Member) error {
	query := `
		INSERT INTO sacco.members (reference, email, type, status, credit_score, joined_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
		RETURNING id, joined_at, updated_at`
	var joined sql.NullTime
	if !m.JoinedAt.IsZero() {
		joined = sql.NullTime{Time: m.JoinedAt, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, query, m.Reference, m.Email, m.Type, m.Status, m.CreditScore, joined).
		Scan(&m.ID, &m.JoinedAt, &m.UpdatedAt)
	if err != nil {
		return classify("create member", err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	m := &models.Member{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, reference, email, type, status, credit_score, joined_at, updated_at
		FROM sacco.members WHERE id = $1`, id).
		Scan(&m.ID, &m.Reference, &m.Email, &m.Type, &m.Status, &m.CreditScore, &m.JoinedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrMemberNotFound.With("member %d", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("get member", err)
	}
	return m, nil
}

func (s *Store) UpdateMember(ctx context.Context, m *models.Member) error {
	err := s.db.QueryRowContext(ctx, `
		UPDATE sacco.members SET email = $2, type = $3, status = $4, credit_score = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 RETURNING updated_at`, m.ID, m.Email, m.Type, m.Status, m.CreditScore).Scan(&m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrMemberNotFound.With("member %d", m.ID)
	}
	if err != nil {
		return classify("update member", err)
	}
	return nil
}

func (s *Store) UpdateCreditScore(ctx context.Context, memberID int64, score int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sacco.members SET credit_score = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, memberID, score)
	if err != nil {
		return classify("update credit score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Unavailable("update credit score", err)
	}
	if n == 0 {
		return apperr.ErrMemberNotFound.With("member %d", memberID)
	}
	return nil
}

func (s *Store) GetAutoSave(ctx context.Context, memberID int64) (*models.AutoSaveSetting, error) {
	if _, err := s.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	setting := &models.AutoSaveSetting{MemberID: memberID}
	err := s.db.QueryRowContext(ctx, `
		SELECT percentage, account_type, from_song_sales, from_streams, from_tips, updated_at
		FROM sacco.auto_save_settings WHERE member_id = $1`, memberID).
		Scan(&setting.Percentage, &setting.AccountType, &setting.FromSongSales, &setting.FromStreams, &setting.FromTips, &setting.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		setting.AccountType = models.AccountTarget
		return setting, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("get auto-save", err)
	}
	return setting, nil
}

func (s *Store) SaveAutoSave(ctx context.Context, setting *models.AutoSaveSetting) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sacco.auto_save_settings (member_id, percentage, account_type, from_song_sales, from_streams, from_tips, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
		ON CONFLICT (member_id) DO UPDATE SET
			percentage = EXCLUDED.percentage, account_type = EXCLUDED.account_type,
			from_song_sales = EXCLUDED.from_song_sales, from_streams = EXCLUDED.from_streams,
			from_tips = EXCLUDED.from_tips, updated_at = EXCLUDED.updated_at
		RETURNING updated_at`,
		setting.MemberID, setting.Percentage, setting.AccountType, setting.FromSongSales, setting.FromStreams, setting.FromTips).
		Scan(&setting.UpdatedAt)
	if err != nil {
		return classify("save auto-save", err)
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.LoanProduct) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sacco.loan_products (name, interest_rate, max_amount, savings_multiplier, max_term_months)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.Name, p.InterestRate, p.MaxAmount, p.SavingsFactor, p.MaxTermMonths).Scan(&p.ID)
	if err != nil {
		return classify("create loan product", err)
	}
	return nil
}

func scanProduct(row scanner) (*models.LoanProduct, error) {
	p := &models.LoanProduct{}
	err := row.Scan(&p.ID, &p.Name, &p.InterestRate, &p.MaxAmount, &p.SavingsFactor, &p.MaxTermMonths)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.LoanProduct, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT id, name, interest_rate, max_amount, savings_multiplier, max_term_months
		FROM sacco.loan_products WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrProductNotFound.With("product %d", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("get loan product", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, interest_rate, max_amount, savings_multiplier, max_term_months
		FROM sacco.loan_products ORDER BY id`)
	if err != nil {
		return nil, apperr.Unavailable("list loan products", err)
	}
	defer rows.Close()
	var out []*models.LoanProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, apperr.Unavailable("list loan products", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanLoan(row scanner) (*models.Loan, error) {
	l := &models.Loan{}
	var schedule []byte
	var decided, disbursed, closed, defaulted sql.NullTime
	err := row.Scan(&l.ID, &l.MemberID, &l.ProductID, &l.Principal, &l.InterestRate, &l.TermMonths,
		&l.OutstandingBalance, &l.MonthlyInstallment, &l.AmountPaid, &l.Status, &schedule, &l.AppliedAt,
		&decided, &disbursed, &closed, &defaulted, &l.Version)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schedule, &l.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule of loan %d: %w", l.ID, err)
	}
	l.DecidedAt = timePtr(decided)
	l.DisbursedAt = timePtr(disbursed)
	l.ClosedAt = timePtr(closed)
	l.DefaultedAt = timePtr(defaulted)
	return l, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// encodeSchedule returns text because lib/pq sends []byte parameters as bytea.
func encodeSchedule(l *models.Loan) (string, error) {
	if l.Schedule == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l.Schedule)
	return string(b), err
}

// CreateLoan creates a new loan in the database
func (s *Store) CreateLoan(ctx context.Context, l *models.Loan) error {
	schedule, err := encodeSchedule(l)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sacco.loans (member_id, product_id, principal, interest_rate, term_months, outstanding_balance,
			monthly_installment, amount_paid, status, schedule, applied_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
		RETURNING id, version`,
		l.MemberID, l.ProductID, l.Principal, l.InterestRate, l.TermMonths, l.OutstandingBalance,
		l.MonthlyInstallment, l.AmountPaid, l.Status, schedule, l.AppliedAt).Scan(&l.ID, &l.Version)
	if err != nil {
		return classify("create loan", err)
	}
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	l, err := scanLoan(s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM sacco.loans WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrLoanNotFound.With("loan %d", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("get loan", err)
	}
	return l, nil
}

// UpdateLoan writes the loan if nobody else changed it since it was read (optimistic lock).
func (s *Store) UpdateLoan(ctx context.Context, l *models.Loan) error {
	schedule, err := encodeSchedule(l)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE sacco.loans SET principal = $3, interest_rate = $4, term_months = $5, outstanding_balance = $6,
			monthly_installment = $7, amount_paid = $8, status = $9, schedule = $10, decided_at = $11,
			disbursed_at = $12, closed_at = $13, defaulted_at = $14, version = version + 1
		WHERE id = $1 AND version = $2`,
		l.ID, l.Version, l.Principal, l.InterestRate, l.TermMonths, l.OutstandingBalance, l.MonthlyInstallment,
		l.AmountPaid, l.Status, schedule, l.DecidedAt, l.DisbursedAt, l.ClosedAt, l.DefaultedAt)
	if err != nil {
		return classify("update loan", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Unavailable("update loan", err)
	}
	if affected == 0 {
		if _, err := s.GetLoan(ctx, l.ID); err != nil {
			return err
		}
		return apperr.ErrConcurrentModification.With("loan %d version %d", l.ID, l.Version)
	}
	l.Version++
	return nil
}

func (s *Store) ListLoansByMember(ctx context.Context, memberID int64) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM sacco.loans WHERE member_id = $1 ORDER BY id`, memberID)
}

func (s *Store) ListLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	return s.queryLoans(ctx, `SELECT `+loanColumns+` FROM sacco.loans WHERE status = $1 ORDER BY id`, status)
}

func (s *Store) queryLoans(ctx context.Context, query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Unavailable("list loans", err)
	}
	defer rows.Close()
	var out []*models.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, apperr.Unavailable("list loans", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("list loans", err)
	}
	return out, nil
}

func (s *Store) CreateDistribution(ctx context.Context, d *models.DividendDistribution) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sacco.dividend_distributions (period_label, year, status, created_at, version)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, 1)
		RETURNING id, created_at, version`, d.PeriodLabel, d.Year, d.Status).Scan(&d.ID, &d.CreatedAt, &d.Version)
	if err != nil {
		return classify("create distribution", err)
	}
	return nil
}

func (s *Store) GetDistribution(ctx context.Context, id int64) (*models.DividendDistribution, error) {
	d := &models.DividendDistribution{}
	var calculated, distributed sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT `+distributionColumns+` FROM sacco.dividend_distributions WHERE id = $1`, id).
		Scan(&d.ID, &d.PeriodLabel, &d.Year, &d.TotalPool, &d.TotalShares, &d.RatePerShare, &d.Distributed,
			&calculated, &distributed, &d.Status, &d.CreatedAt, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrDistributionNotFound.With("distribution %d", id)
	}
	if err != nil {
		return nil, apperr.Unavailable("get distribution", err)
	}
	d.CalculatedAt = timePtr(calculated)
	d.DistributedAt = timePtr(distributed)
	return d, nil
}

func (s *Store) UpdateDistribution(ctx context.Context, d *models.DividendDistribution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sacco.dividend_distributions SET total_pool = $3, total_shares = $4, rate_per_share = $5,
			distributed = $6, calculated_at = $7, distributed_at = $8, status = $9, version = version + 1
		WHERE id = $1 AND version = $2`,
		d.ID, d.Version, d.TotalPool, d.TotalShares, d.RatePerShare, d.Distributed, d.CalculatedAt, d.DistributedAt, d.Status)
	if err != nil {
		return classify("update distribution", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperr.Unavailable("update distribution", err)
	}
	if affected == 0 {
		if _, err := s.GetDistribution(ctx, d.ID); err != nil {
			return err
		}
		return apperr.ErrConcurrentModification.With("distribution %d version %d", d.ID, d.Version)
	}
	d.Version++
	return nil
}

func (s *Store) ReplaceEntries(ctx context.Context, distributionID int64, entries []*models.DividendEntry) error {
	return s.withTx(ctx, "replace dividend entries", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sacco.dividend_entries WHERE distribution_id = $1`, distributionID); err != nil {
			return err
		}
		for _, e := range entries {
			e.DistributionID = distributionID
			err := tx.QueryRowContext(ctx, `
				INSERT INTO sacco.dividend_entries (distribution_id, member_id, shares, amount, status)
				VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				distributionID, e.MemberID, e.Shares, e.Amount, e.Status).Scan(&e.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ListEntries(ctx context.Context, distributionID int64) ([]*models.DividendEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, distribution_id, member_id, shares, amount, status, COALESCE(transaction_id, 0), last_error
		FROM sacco.dividend_entries WHERE distribution_id = $1 ORDER BY id`, distributionID)
	if err != nil {
		return nil, apperr.Unavailable("list dividend entries", err)
	}
	defer rows.Close()
	var out []*models.DividendEntry
	for rows.Next() {
		e := &models.DividendEntry{}
		if err := rows.Scan(&e.ID, &e.DistributionID, &e.MemberID, &e.Shares, &e.Amount, &e.Status, &e.TransactionID, &e.LastError); err != nil {
			return nil, apperr.Unavailable("list dividend entries", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("list dividend entries", err)
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e *models.DividendEntry) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sacco.dividend_entries SET status = $2, transaction_id = $3, last_error = $4 WHERE id = $1`,
		e.ID, e.Status, nullInt(e.TransactionID), e.LastError)
	if err != nil {
		return classify("update dividend entry", err)
	}
	return nil
}
