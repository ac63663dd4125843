package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// SendFunc delivers one message. Tests replace it.
type SendFunc func(e *email.Email, addr string, auth smtp.Auth) error

// Sender handles sending emails via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   SendFunc
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

// WithSendFunc swaps the transport.
func (s *Sender) WithSendFunc(fn SendFunc) *Sender {
	s.send = fn
	return s
}

// Enabled reports whether SMTP is configured.
func (s *Sender) Enabled() bool {
	return s.cfg.SMTPHost != "" && s.cfg.SenderEmail != ""
}

// TransactionCommitted notifies the member about a completed ledger transaction
func (s *Sender) TransactionCommitted(ctx context.Context, to string, tx *models.Transaction) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = fmt.Sprintf("%s Notification", title(tx.Type))

	body := "Dear member,\n\n"
	if tx.Amount >= 0 {
		body += fmt.Sprintf(
			"Your account %d has been credited with %d UGX.\n",
			tx.AccountID, tx.Amount,
		)
	} else {
		body += fmt.Sprintf(
			"An amount of %d UGX has been debited from your account %d.\n",
			-tx.Amount, tx.AccountID,
		)
	}
	body += fmt.Sprintf(
		"Transaction reference: %d\n"+
			"Transaction time: %s\n"+
			"Current balance: %d UGX\n",
		tx.ID, tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.BalanceAfter,
	)
	body += "\nBest regards,\nSACCO"
	e.Text = []byte(body)

	return s.deliver(ctx, e)
}

// LoanDefaulted tells the member their loan was marked defaulted
func (s *Sender) LoanDefaulted(ctx context.Context, to string, loan *models.Loan) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Overdue Loan Notification"

	body := "Dear member,\n\n"
	body += fmt.Sprintf(
		"Your loan %d is overdue and has been marked as defaulted.\n"+
			"Outstanding principal: %d UGX\n",
		loan.ID, loan.OutstandingBalance,
	)
	if idx := loan.NextUnpaid(); idx >= 0 {
		inst := loan.Schedule[idx]
		body += fmt.Sprintf(
			"The installment of %d UGX was due on %s.\n",
			inst.Amount-inst.InterestPaid-inst.PrincipalPaid, inst.DueDate.Format("2006-01-02"),
		)
	}
	body += "Please contact the SACCO office to agree a repayment plan.\n"
	body += "\nBest regards,\nSACCO"
	e.Text = []byte(body)

	return s.deliver(ctx, e)
}

func (s *Sender) deliver(ctx context.Context, e *email.Email) error {
	if !s.Enabled() {
		s.logger.Debugf("SMTP not configured, dropping email to %v: %s", e.To, e.Subject)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	done := make(chan error, 1)
	go func() { done <- s.send(e, addr, auth) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email to %v: %w", e.To, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Infof("Email sent to %v: %s", e.To, e.Subject)
	return nil
}

func title(t models.TransactionType) string {
	switch t {
	case models.TxDeposit:
		return "Deposit"
	case models.TxWithdrawal:
		return "Withdrawal"
	case models.TxInterest:
		return "Interest"
	case models.TxDividend:
		return "Dividend"
	case models.TxLoanRepayment:
		return "Loan Repayment"
	case models.TxTransferIn, models.TxTransferOut:
		return "Transfer"
	case models.TxFee:
		return "Fee"
	case models.TxReversal:
		return "Reversal"
	}
	return "Transaction"
}
