package mockbackend

import (
	"fmt"
	"html"
	"log/slog"
	"sync"

	"gopkg.in/gomail.v2"
)

// Mailer delivers a verification code.
type Mailer interface {
	SendOTP(to, name, code string) error
}

// LogMailer logs the code instead of sending it.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) SendOTP(to, name, code string) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("OTP issued", "to", to, "name", name, "code", code)
	return nil
}

// MemoryMailer records every code sent. Fail makes SendOTP return an error.
type MemoryMailer struct {
	mu   sync.Mutex
	sent []SentMail
	Fail bool
}

// SentMail is one recorded message.
type SentMail struct {
	To   string
	Code string
}

func (m *MemoryMailer) SendOTP(to, _, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return fmt.Errorf("smtp: connection refused")
	}
	m.sent = append(m.sent, SentMail{To: to, Code: code})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MemoryMailer) Sent() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends the code over SMTP.
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPMailer creates a mailer for cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (m *SMTPMailer) SendOTP(to, name, code string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Your Pro-Connect verification code")
	msg.SetBody("text/plain", otpText(name, code))
	msg.AddAlternative("text/html", otpHTML(name, code))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func otpText(name, code string) string {
	return fmt.Sprintf("Hello %s,\n\nYour verification code is %s. It expires in 5 minutes.\n\nPro-Connect\n", name, code)
}

func otpHTML(name, code string) string {
	return fmt.Sprintf(`<html><body>
<p>Hello %s,</p>
<p>Your verification code is:</p>
<h3 style="background-color: #f0f0f0; padding: 10px; font-size: 24px; letter-spacing: 5px; text-align: center;">%s</h3>
<p>This code will expire in 5 minutes.</p>
<p>Pro-Connect</p>
</body></html>`, html.EscapeString(name), code)
}
