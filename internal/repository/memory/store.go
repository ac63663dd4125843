package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
)

func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	acct.ID = s.nextID()
	acct.Balance = 0
	if acct.Status == "" {
		acct.Status = models.AccountOpen
	}
	acct.CreatedAt = now
	acct.UpdatedAt = now
	c := *acct
	s.accounts[acct.ID] = &c
	s.accountLocks[acct.ID] = &sync.Mutex{}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, apperr.ErrAccountNotFound.With("account %d", id)
	}
	c := *acct
	return &c, nil
}

func (s *Store) ListAccountsByMember(ctx context.Context, memberID int64) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Account
	for _, acct := range s.accounts {
		if acct.MemberID == memberID {
			c := *acct
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListOpenAccounts(ctx context.Context, accType models.AccountType) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Account
	for _, acct := range s.accounts {
		if acct.Status != models.AccountOpen || (accType != "" && acct.Type != accType) {
			continue
		}
		c := *acct
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CloseAccount(ctx context.Context, id int64, check func(acct *models.Account) error) (*models.Account, error) {
	unlock, err := s.lockAccounts(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accounts[id]
	if acct.Status == models.AccountClosed {
		return nil, apperr.ErrAccountClosed.With("account %d", id)
	}
	for _, tx := range s.txByAccount[id] {
		if tx.Status == models.TxPending {
			return nil, apperr.ErrPendingDeposits.With("account %d, transaction %d", id, tx.ID)
		}
	}
	if check != nil {
		snapshot := *acct
		if err := check(&snapshot); err != nil {
			return nil, err
		}
	}
	acct.Status = models.AccountClosed
	acct.UpdatedAt = s.now()
	c := *acct
	return &c, nil
}

func (s *Store) CreateMember(ctx context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if existing.Reference == m.Reference {
			return apperr.ErrAlreadyExists.With("member reference %q", m.Reference)
		}
	}
	m.ID = s.nextID()
	if m.JoinedAt.IsZero() {
		m.JoinedAt = s.now()
	}
	m.UpdatedAt = s.now()
	c := *m
	s.members[m.ID] = &c
	return nil
}

func (s *Store) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, apperr.ErrMemberNotFound.With("member %d", id)
	}
	c := *m
	return &c, nil
}

func (s *Store) UpdateMember(ctx context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[m.ID]; !ok {
		return apperr.ErrMemberNotFound.With("member %d", m.ID)
	}
	m.UpdatedAt = s.now()
	c := *m
	s.members[m.ID] = &c
	return nil
}

func (s *Store) UpdateCreditScore(ctx context.Context, memberID int64, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return apperr.ErrMemberNotFound.With("member %d", memberID)
	}
	m.CreditScore = score
	m.UpdatedAt = s.now()
	return nil
}

func (s *Store) GetAutoSave(ctx context.Context, memberID int64) (*models.AutoSaveSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.members[memberID]; !ok {
		return nil, apperr.ErrMemberNotFound.With("member %d", memberID)
	}
	setting, ok := s.autoSave[memberID]
	if !ok {
		return &models.AutoSaveSetting{MemberID: memberID, AccountType: models.AccountTarget}, nil
	}
	c := *setting
	return &c, nil
}

func (s *Store) SaveAutoSave(ctx context.Context, setting *models.AutoSaveSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[setting.MemberID]; !ok {
		return apperr.ErrMemberNotFound.With("member %d", setting.MemberID)
	}
	setting.UpdatedAt = s.now()
	c := *setting
	s.autoSave[setting.MemberID] = &c
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, p *models.LoanProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	c := *p
	s.products[p.ID] = &c
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*models.LoanProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, apperr.ErrProductNotFound.With("product %d", id)
	}
	c := *p
	return &c, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]*models.LoanProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.LoanProduct, 0, len(s.products))
	for _, p := range s.products {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateLoan(ctx context.Context, l *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextID()
	l.Version = 1
	s.loans[l.ID] = l.Clone()
	return nil
}

func (s *Store) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[id]
	if !ok {
		return nil, apperr.ErrLoanNotFound.With("loan %d", id)
	}
	return l.Clone(), nil
}

func (s *Store) UpdateLoan(ctx context.Context, l *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.loans[l.ID]
	if !ok {
		return apperr.ErrLoanNotFound.With("loan %d", l.ID)
	}
	if stored.Version != l.Version {
		return apperr.ErrConcurrentModification.With("loan %d version %d", l.ID, l.Version)
	}
	l.Version++
	s.loans[l.ID] = l.Clone()
	return nil
}

func (s *Store) ListLoansByMember(ctx context.Context, memberID int64) ([]*models.Loan, error) {
	return s.listLoans(func(l *models.Loan) bool { return l.MemberID == memberID }), nil
}

func (s *Store) ListLoansByStatus(ctx context.Context, status models.LoanStatus) ([]*models.Loan, error) {
	return s.listLoans(func(l *models.Loan) bool { return l.Status == status }), nil
}

func (s *Store) listLoans(keep func(*models.Loan) bool) []*models.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Loan
	for _, l := range s.loans {
		if keep(l) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) CreateDistribution(ctx context.Context, d *models.DividendDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.distributions {
		if existing.PeriodLabel == d.PeriodLabel && existing.Year == d.Year {
			return apperr.ErrDuplicatePeriod.With("%s %d", d.PeriodLabel, d.Year)
		}
	}
	d.ID = s.nextID()
	d.Version = 1
	d.CreatedAt = s.now()
	c := *d
	s.distributions[d.ID] = &c
	return nil
}

func (s *Store) GetDistribution(ctx context.Context, id int64) (*models.DividendDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.distributions[id]
	if !ok {
		return nil, apperr.ErrDistributionNotFound.With("distribution %d", id)
	}
	c := *d
	return &c, nil
}

func (s *Store) UpdateDistribution(ctx context.Context, d *models.DividendDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.distributions[d.ID]
	if !ok {
		return apperr.ErrDistributionNotFound.With("distribution %d", d.ID)
	}
	if stored.Version != d.Version {
		return apperr.ErrConcurrentModification.With("distribution %d version %d", d.ID, d.Version)
	}
	d.Version++
	c := *d
	s.distributions[d.ID] = &c
	return nil
}

func (s *Store) ReplaceEntries(ctx context.Context, distributionID int64, entries []*models.DividendEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.distributions[distributionID]; !ok {
		return apperr.ErrDistributionNotFound.With("distribution %d", distributionID)
	}
	stored := make([]*models.DividendEntry, 0, len(entries))
	for _, e := range entries {
		e.ID = s.nextID()
		e.DistributionID = distributionID
		c := *e
		stored = append(stored, &c)
	}
	s.entries[distributionID] = stored
	return nil
}

func (s *Store) ListEntries(ctx context.Context, distributionID int64) ([]*models.DividendEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.DividendEntry, 0, len(s.entries[distributionID]))
	for _, e := range s.entries[distributionID] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) UpdateEntry(ctx context.Context, e *models.DividendEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, stored := range s.entries[e.DistributionID] {
		if stored.ID == e.ID {
			c := *e
			s.entries[e.DistributionID][i] = &c
			return nil
		}
	}
	return apperr.ErrDistributionNotFound.With("entry %d", e.ID)
}
