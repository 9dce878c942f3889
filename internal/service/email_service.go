package service

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"github.com/tickrace/tickrace-sub001/internal/config"
)

var (
	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email address")
	ErrEmailRecipientRejected    = errors.New("email recipient rejected")
)

// EmailService sends transactional notifications over SMTP.
type EmailService struct {
	cfg *config.EmailConfig
}

// NewEmailService creates the email service.
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// RefundEmailInput refund notification content.
type RefundEmailInput struct {
	Reference          string
	CourseName         string
	Tier               string
	Percent            int64
	RefundCents        int64
	NonRefundableCents int64
	EffectiveRefund    bool
	IsTeam             bool
	MemberCount        int
}

// SendRefundEmail notifies a runner or captain about a processed refund.
func (s *EmailService) SendRefundEmail(toEmail string, input RefundEmailInput) error {
	subject, body := buildRefundContent(input)
	return s.sendTextEmail(toEmail, subject, body)
}

// InvoiceEmailInput invoice notification content.
type InvoiceEmailInput struct {
	Reference  string
	PeriodFrom string
	PeriodTo   string
	TotalCents int64
}

// SendInvoiceEmail notifies an organizer that a billing document was issued.
func (s *EmailService) SendInvoiceEmail(toEmail string, input InvoiceEmailInput) error {
	subject := fmt.Sprintf("Invoice %s issued", input.Reference)
	body := fmt.Sprintf(
		"A new invoice has been issued for your events.\n\nInvoice: %s\nPeriod: %s to %s\nTotal due: %s\n\nThe document is available from your organizer dashboard.",
		input.Reference, input.PeriodFrom, input.PeriodTo, FormatCents(input.TotalCents),
	)
	return s.sendTextEmail(toEmail, subject, body)
}

func buildRefundContent(input RefundEmailInput) (string, string) {
	var subject string
	var b strings.Builder
	switch {
	case input.IsTeam:
		subject = fmt.Sprintf("Team registration cancelled - %s", input.CourseName)
		fmt.Fprintf(&b, "Your team registration for %s has been cancelled (%d members).\n\n", input.CourseName, input.MemberCount)
	case input.EffectiveRefund:
		subject = fmt.Sprintf("Registration cancelled and refunded - %s", input.CourseName)
		fmt.Fprintf(&b, "Your registration for %s has been cancelled.\n\n", input.CourseName)
	default:
		subject = fmt.Sprintf("Registration cancelled - %s", input.CourseName)
		fmt.Fprintf(&b, "Your registration for %s has been cancelled.\n\n", input.CourseName)
	}
	if input.EffectiveRefund {
		fmt.Fprintf(&b, "Refund: %s (%d%% under the cancellation schedule)\n", FormatCents(input.RefundCents), input.Percent)
		fmt.Fprintf(&b, "Retained: %s\n\n", FormatCents(input.NonRefundableCents))
		b.WriteString("The refund will appear on the original payment method within a few business days.\n")
	} else {
		b.WriteString("This close to the event the cancellation schedule allows no refund, so no money movement was made.\n")
	}
	fmt.Fprintf(&b, "\nReference: %s", input.Reference)
	return subject, b.String()
}

func (s *EmailService) sendTextEmail(toEmail, subject, body string) error {
	if s.cfg == nil || !s.cfg.Enabled {
		return ErrEmailServiceDisabled
	}
	if s.cfg.Host == "" || s.cfg.Port == 0 || s.cfg.From == "" {
		return ErrEmailServiceNotConfigured
	}
	if _, err := mail.ParseAddress(toEmail); err != nil {
		return ErrInvalidEmail
	}

	from := buildFromAddress(s.cfg.From, s.cfg.FromName)
	msg := buildEmailMessage(from, toEmail, subject, body)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" || s.cfg.Password != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	if s.cfg.UseSSL {
		return normalizeEmailSendError(sendMailWithSSL(addr, auth, s.cfg.Host, s.cfg.From, []string{toEmail}, []byte(msg)))
	}
	if s.cfg.UseTLS {
		return normalizeEmailSendError(sendMailWithStartTLS(addr, auth, s.cfg.Host, s.cfg.From, []string{toEmail}, []byte(msg)))
	}
	return normalizeEmailSendError(sendMailPlain(addr, auth, s.cfg.Host, s.cfg.From, []string{toEmail}, []byte(msg)))
}

func buildFromAddress(from, name string) string {
	if strings.TrimSpace(name) == "" {
		return from
	}
	encoded := mime.QEncoding.Encode("UTF-8", name)
	return (&mail.Address{Name: encoded, Address: from}).String()
}

func buildEmailMessage(from, to, subject, body string) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject)))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.String()
}

func sendMailWithSSL(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendMailWithStartTLS(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return err
	}

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendMailPlain(addr string, auth smtp.Auth, host, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return err
			}
		}
	}

	return sendSMTPData(client, from, to, msg)
}

func sendSMTPData(client *smtp.Client, from string, to []string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func normalizeEmailSendError(err error) error {
	if err == nil {
		return nil
	}
	if isEmailRecipientRejected(err) {
		return ErrEmailRecipientRejected
	}
	return err
}

func isEmailRecipientRejected(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	if message == "" {
		return false
	}
	directKeywords := []string{
		"no such recipient",
		"no such user",
		"recipient not found",
		"recipient address rejected",
		"invalid recipient",
		"user unknown",
		"unknown user",
		"unknown mailbox",
		"mailbox unavailable",
	}
	for _, keyword := range directKeywords {
		if strings.Contains(message, keyword) {
			return true
		}
	}
	if strings.Contains(message, "550") {
		hints := []string{"recipient", "user", "mailbox", "address", "rcpt"}
		for _, hint := range hints {
			if strings.Contains(message, hint) {
				return true
			}
		}
	}
	return false
}
