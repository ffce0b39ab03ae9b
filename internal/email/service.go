package email

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/medpraxis/admin-api/internal/config"
	"github.com/medpraxis/admin-api/internal/model"
	"github.com/medpraxis/admin-api/pkg/logger"
)

// Servicer delivers onboarding notifications. Credentials themselves never
// travel by mail; messages only announce that an account is ready.
type Servicer interface {
	SendDoctorWelcome(to string, creds *model.DoctorCredentials) error
	SendAdminWelcome(to string, creds *model.AdminCredentials) error
}

type Service struct {
	dialer *gomail.Dialer
	from   string
	logger *logger.Logger
}

func NewService(cfg config.SMTPConfig, logger *logger.Logger) *Service {
	return &Service{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

func (s *Service) SendDoctorWelcome(to string, creds *model.DoctorCredentials) error {
	body := fmt.Sprintf(
		"Your practice accounts are ready.\n\n"+
			"Login email: %s\n"+
			"A pharmacy account was created alongside your profile.\n",
		creds.Email,
	)
	if creds.LabID != nil {
		body += "A laboratory account was created as well.\n"
	}
	body += "\nYour administrator will hand over the credentials in person.\n"

	return s.send(to, "Your practice accounts are ready", body)
}

func (s *Service) SendAdminWelcome(to string, creds *model.AdminCredentials) error {
	body := fmt.Sprintf(
		"An administrator account was created for %s.\n\n"+
			"Your administrator will hand over the credentials in person.\n",
		creds.Email,
	)
	return s.send(to, "Administrator account created", body)
}

func (s *Service) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	s.logger.Info("email sent", "to", to, "subject", subject)
	return nil
}

// NoopService satisfies Servicer when SMTP is not configured.
type NoopService struct{}

func (NoopService) SendDoctorWelcome(string, *model.DoctorCredentials) error { return nil }
func (NoopService) SendAdminWelcome(string, *model.AdminCredentials) error   { return nil }
