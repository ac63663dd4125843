package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/sacco-service/internal/apperr"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/Dan9191/sacco-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// MemberService manages membership status and auto-save settings.
type MemberService struct {
	repo     repository.Repository
	tx       *TransactionEngine
	log      *logrus.Logger
	policies models.Policies
	now      func() time.Time
}

// RevenueEvent is an upstream revenue notification (song sale, stream payout, tip).
type RevenueEvent struct {
	EventID  string               `json:"event_id"`
	MemberID int64                `json:"member_id"`
	Source   models.RevenueSource `json:"source"`
	Amount   int64                `json:"amount"`
}

// Register records an approved application as a pending member.
func (s *MemberService) Register(ctx context.Context, reference, email string, typ models.MembershipType) (*models.Member, error) {
	if reference == "" {
		return nil, apperr.ErrInvalidRequest.With("member reference is required")
	}
	switch typ {
	case models.MembershipRegular, models.MembershipAssociate, models.MembershipHonorary:
	case "":
		typ = models.MembershipRegular
	default:
		return nil, apperr.ErrInvalidRequest.With("membership type %q", typ)
	}
	m := &models.Member{
		Reference: reference,
		Email:     email,
		Type:      typ,
		Status:    models.MemberPending,
		JoinedAt:  s.now(),
	}
	if err := s.repo.CreateMember(ctx, m); err != nil {
		return nil, err
	}
	s.log.WithField("member_id", m.ID).Info("Member registered")
	return m, nil
}

// GetMember returns a member.
func (s *MemberService) GetMember(ctx context.Context, id int64) (*models.Member, error) {
	return s.repo.GetMember(ctx, id)
}

// Activate moves a pending or suspended member to active.
func (s *MemberService) Activate(ctx context.Context, id int64) (*models.Member, error) {
	return s.transition(ctx, id, models.MemberActive, models.MemberPending, models.MemberSuspended)
}

// Suspend moves an active member to suspended.
func (s *MemberService) Suspend(ctx context.Context, id int64) (*models.Member, error) {
	return s.transition(ctx, id, models.MemberSuspended, models.MemberActive)
}

// Close soft-closes a member who holds no funds and no open loans; empty accounts are closed too.
func (s *MemberService) Close(ctx context.Context, id int64) (*models.Member, error) {
	accounts, err := s.repo.ListAccountsByMember(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if acct.Status == models.AccountOpen && acct.Balance != 0 {
			return nil, apperr.ErrMemberHasFunds.With("account %d holds %d", acct.ID, acct.Balance)
		}
	}
	loans, err := s.repo.ListLoansByMember(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, l := range loans {
		switch l.Status {
		case models.LoanApproved, models.LoanDisbursed, models.LoanActive, models.LoanDefaulted:
			return nil, apperr.ErrInvalidState.With("loan %d is %s", l.ID, l.Status)
		}
	}
	member, err := s.transition(ctx, id, models.MemberClosed, models.MemberPending, models.MemberActive, models.MemberSuspended)
	if err != nil {
		return nil, err
	}
	for _, acct := range accounts {
		if acct.Status != models.AccountOpen {
			continue
		}
		if _, err := s.repo.CloseAccount(ctx, acct.ID, nil); err != nil {
			s.log.WithError(err).WithField("account_id", acct.ID).Warn("Account left open on member close")
		}
	}
	return member, nil
}

func (s *MemberService) transition(ctx context.Context, id int64, to models.MemberStatus, from ...models.MemberStatus) (*models.Member, error) {
	m, err := s.repo.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, st := range from {
		if m.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return nil, apperr.ErrInvalidState.With("member %d is %s, cannot become %s", id, m.Status, to)
	}
	m.Status = to
	if err := s.repo.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"member_id": id, "status": to}).Info("Member status changed")
	return m, nil
}

// GetAutoSave returns the member's auto-save setting; members without one get a disabled setting.
func (s *MemberService) GetAutoSave(ctx context.Context, memberID int64) (*models.AutoSaveSetting, error) {
	return s.repo.GetAutoSave(ctx, memberID)
}

// UpdateAutoSave stores a member-initiated auto-save change.
func (s *MemberService) UpdateAutoSave(ctx context.Context, setting *models.AutoSaveSetting) (*models.AutoSaveSetting, error) {
	if setting.Percentage < 0 || setting.Percentage > 100 {
		return nil, apperr.ErrInvalidRequest.With("percentage must be between 0 and 100")
	}
	if setting.AccountType == "" {
		setting.AccountType = models.AccountTarget
	}
	if _, ok := s.policies.Lookup(setting.AccountType); !ok {
		return nil, apperr.ErrInvalidAccountType.With("%q", setting.AccountType)
	}
	if err := s.repo.SaveAutoSave(ctx, setting); err != nil {
		return nil, err
	}
	return setting, nil
}

// AutoSaveShare is the part of amount the setting redirects into savings, rounded down.
func AutoSaveShare(setting *models.AutoSaveSetting, src models.RevenueSource, amount int64) int64 {
	if setting == nil || amount <= 0 || setting.Percentage <= 0 || !setting.Covers(src) {
		return 0
	}
	return amount * int64(setting.Percentage) / 100
}

// ApplyRevenue deposits the auto-save share of a revenue event. It returns nil when nothing is saved.
func (s *MemberService) ApplyRevenue(ctx context.Context, ev RevenueEvent) (*models.Transaction, error) {
	if ev.EventID == "" {
		return nil, apperr.ErrInvalidRequest.With("event id is required")
	}
	if ev.Amount <= 0 {
		return nil, apperr.ErrInvalidAmount
	}
	setting, err := s.repo.GetAutoSave(ctx, ev.MemberID)
	if err != nil {
		return nil, err
	}
	share := AutoSaveShare(setting, ev.Source, ev.Amount)
	if share == 0 {
		return nil, nil
	}
	acct, err := openAccountOfType(ctx, s.repo, ev.MemberID, setting.AccountType)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		s.log.WithFields(logrus.Fields{
			"member_id":    ev.MemberID,
			"account_type": setting.AccountType,
			"event_id":     ev.EventID,
		}).Warn("Auto-save skipped, no open account of configured type")
		return nil, nil
	}
	return s.tx.Deposit(ctx, acct.ID, share, fmt.Sprintf("revenue:%s", ev.Source), "revenue:"+ev.EventID)
}
