package email

import (
	"context"
	"errors"
	"io"
	"net/smtp"
	"testing"
	"time"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func smtpConfig() *config.Config {
	return &config.Config{
		SMTPHost:    "smtp.example.org",
		SMTPPort:    "587",
		SenderEmail: "noreply@sacco.example.org",
	}
}

func TestTransactionCommitted(t *testing.T) {
	var sent *email.Email
	var sentAddr string
	s := NewSender(smtpConfig(), quietLogger()).WithSendFunc(func(e *email.Email, addr string, _ smtp.Auth) error {
		sent, sentAddr = e, addr
		return nil
	})

	tx := &models.Transaction{
		ID:           5,
		AccountID:    3,
		Type:         models.TxDeposit,
		Amount:       50_000,
		BalanceAfter: 150_000,
		CreatedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.TransactionCommitted(context.Background(), "member@example.org", tx))

	require.NotNil(t, sent)
	assert.Equal(t, "smtp.example.org:587", sentAddr)
	assert.Equal(t, []string{"member@example.org"}, sent.To)
	assert.Equal(t, "Deposit Notification", sent.Subject)
	assert.Contains(t, string(sent.Text), "credited with 50000 UGX")
	assert.Contains(t, string(sent.Text), "Current balance: 150000 UGX")
}

func TestDebitWording(t *testing.T) {
	var sent *email.Email
	s := NewSender(smtpConfig(), quietLogger()).WithSendFunc(func(e *email.Email, _ string, _ smtp.Auth) error {
		sent = e
		return nil
	})
	tx := &models.Transaction{ID: 6, AccountID: 3, Type: models.TxWithdrawal, Amount: -20_000}
	require.NoError(t, s.TransactionCommitted(context.Background(), "member@example.org", tx))
	assert.Equal(t, "Withdrawal Notification", sent.Subject)
	assert.Contains(t, string(sent.Text), "20000 UGX has been debited")
}

func TestLoanDefaulted(t *testing.T) {
	var sent *email.Email
	s := NewSender(smtpConfig(), quietLogger()).WithSendFunc(func(e *email.Email, _ string, _ smtp.Auth) error {
		sent = e
		return nil
	})
	loan := &models.Loan{
		ID:                 9,
		OutstandingBalance: 400_000,
		Schedule: []models.Installment{
			{Number: 1, Amount: 80_000, Interest: 9_000, Principal: 71_000, DueDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)},
		},
	}
	require.NoError(t, s.LoanDefaulted(context.Background(), "member@example.org", loan))
	assert.Equal(t, "Overdue Loan Notification", sent.Subject)
	assert.Contains(t, string(sent.Text), "loan 9")
	assert.Contains(t, string(sent.Text), "80000 UGX was due on 2026-01-10")
}

func TestSendFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	s := NewSender(smtpConfig(), logger).WithSendFunc(func(*email.Email, string, smtp.Auth) error {
		return errors.New("connection refused")
	})
	err := s.TransactionCommitted(context.Background(), "member@example.org", &models.Transaction{Type: models.TxDeposit})
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, err, "member@example.org")
	// the caller owns the failure and logs it once
	assert.Empty(t, hook.AllEntries())
}

func TestDisabledSenderDropsMail(t *testing.T) {
	called := false
	s := NewSender(&config.Config{}, quietLogger()).WithSendFunc(func(*email.Email, string, smtp.Auth) error {
		called = true
		return nil
	})
	assert.False(t, s.Enabled())
	require.NoError(t, s.TransactionCommitted(context.Background(), "member@example.org", &models.Transaction{}))
	assert.False(t, called)
}
