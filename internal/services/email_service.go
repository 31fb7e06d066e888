package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"

	"gorm.io/gorm"

	"github.com/otpgate/backend/internal/config"
	"github.com/otpgate/backend/internal/dispatch"
	"github.com/otpgate/backend/internal/models"
	"github.com/otpgate/backend/pkg/crypto"
)

// smtpAccount is a resolved SMTP identity, either an organization's own
// credential or the global fallback from config.
type smtpAccount struct {
	host     string
	port     int
	username string
	password string
	from     string
	fromName string
}

// EmailService delivers OTP emails over SMTP. It implements dispatch.Sender
// for the email queue.
type EmailService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewEmailService(db *gorm.DB, cfg *config.Config) *EmailService {
	return &EmailService{
		db:  db,
		cfg: cfg,
	}
}

// Send delivers one email job. An organization's stored credential wins over
// the global SMTP account; the stored password is decrypted on every send so
// a credential update takes effect without restart.
func (s *EmailService) Send(ctx context.Context, job dispatch.Job) error {
	account, err := s.resolveAccount(job)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("From: %s <%s>\r\n", account.fromName, account.from)
	message += fmt.Sprintf("To: %s\r\n", job.Destination)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	if job.HTMLBody != "" {
		message += "MIME-Version: 1.0\r\n"
		message += "Content-Type: text/html; charset=\"UTF-8\"\r\n"
		message += "\r\n"
		message += job.HTMLBody
	} else {
		message += "Content-Type: text/plain; charset=\"UTF-8\"\r\n"
		message += "\r\n"
		message += job.Message
	}

	return s.sendSMTP(account, job.Destination, []byte(message))
}

func (s *EmailService) resolveAccount(job dispatch.Job) (*smtpAccount, error) {
	var cred models.EmailCredential
	err := s.db.Where("organization_id = ?", job.OrganizationID).First(&cred).Error
	if err == nil {
		password, decErr := crypto.Decrypt(cred.EmailPassword, s.cfg.EncryptionKey)
		if decErr != nil {
			return nil, fmt.Errorf("failed to decrypt SMTP password: %w", decErr)
		}
		fromName := cred.FromName
		if fromName == "" {
			fromName = s.cfg.SMTPFromName
		}
		return &smtpAccount{
			host:     cred.EmailHost,
			port:     cred.EmailPort,
			username: cred.EmailUser,
			password: password,
			from:     cred.EmailUser,
			fromName: fromName,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load email credential: %w", err)
	}

	if s.cfg.SMTPHost == "" {
		return nil, errors.New("no SMTP account configured for organization and no global fallback")
	}
	return &smtpAccount{
		host:     s.cfg.SMTPHost,
		port:     s.cfg.SMTPPort,
		username: s.cfg.SMTPUsername,
		password: s.cfg.SMTPPassword,
		from:     s.cfg.SMTPFrom,
		fromName: s.cfg.SMTPFromName,
	}, nil
}

// SendAlertEmail sends a plain text operational alert via the global SMTP
// account, bypassing per-organization credentials.
func (s *EmailService) SendAlertEmail(to, subject, body string) error {
	if s.cfg.SMTPHost == "" {
		return errors.New("no global SMTP account configured")
	}
	account := &smtpAccount{
		host:     s.cfg.SMTPHost,
		port:     s.cfg.SMTPPort,
		username: s.cfg.SMTPUsername,
		password: s.cfg.SMTPPassword,
		from:     s.cfg.SMTPFrom,
		fromName: s.cfg.SMTPFromName,
	}

	message := fmt.Sprintf("From: %s <%s>\r\n", account.fromName, account.from)
	message += fmt.Sprintf("To: %s\r\n", to)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "Content-Type: text/plain; charset=\"UTF-8\"\r\n"
	message += "\r\n"
	message += body
	return s.sendSMTP(account, to, []byte(message))
}

// sendSMTP sends an email via SMTP
func (s *EmailService) sendSMTP(account *smtpAccount, to string, message []byte) error {
	auth := smtp.PlainAuth("", account.username, account.password, account.host)
	addr := fmt.Sprintf("%s:%d", account.host, account.port)

	// For TLS connection (port 465)
	if account.port == 465 {
		tlsConfig := &tls.Config{
			ServerName: account.host,
		}

		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		defer conn.Close()

		client, err := smtp.NewClient(conn, account.host)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
		defer client.Close()

		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}

		if err := client.Mail(account.from); err != nil {
			return err
		}
		if err := client.Rcpt(to); err != nil {
			return err
		}

		w, err := client.Data()
		if err != nil {
			return err
		}
		_, err = w.Write(message)
		if err != nil {
			return err
		}
		err = w.Close()
		if err != nil {
			return err
		}

		return client.Quit()
	}

	// For STARTTLS connection (port 587)
	return smtp.SendMail(addr, auth, account.from, []string{to}, message)
}
