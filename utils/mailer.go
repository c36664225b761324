package utils

import (
	"crypto/tls"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/cppla/aiblog/config"
)

// ErrMailDisabled is returned when no SMTP server is configured.
var ErrMailDisabled = errors.New("smtp not configured")

// MailEnabled reports whether outgoing mail is configured.
func MailEnabled() bool {
	cfg := config.Get()
	return cfg.SMTPHost != "" && cfg.SMTPFrom != ""
}

// SendMail sends a plain text email using SMTP settings from config.
// gomail negotiates STARTTLS when the server offers it and uses implicit TLS on port 465.
func SendMail(to, subject, body string) error {
	cfg := config.Get()
	if !MailEnabled() {
		return ErrMailDisabled
	}

	fromName := cfg.SMTPFromName
	if fromName == "" {
		fromName = "aiblog"
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", cfg.SMTPFrom, fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	d.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost}
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

// SendMailAsync sends in the background; failures are only logged.
func SendMailAsync(to, subject, body string) {
	if !MailEnabled() {
		return
	}
	go func() {
		if err := SendMail(to, subject, body); err != nil {
			Sugar.Warnf("mail delivery failed to=%s err=%v", to, err)
		}
	}()
}
