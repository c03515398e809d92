// Package mail delivers transactional e-mail (invitation links).
package mail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/gomail.v2"
)

// Sender delivers one plain-text message. Transports that support it add an
// HTML alternative rendered from the same text.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Noop discards every message. It is the default when SMTP is not configured.
type Noop struct{}

func (Noop) Send(context.Context, string, string, string) error { return nil }

var ErrConfig = errors.New("mail: invalid config")

// SMTPConfig is read from PORTAL_SMTP_*.
type SMTPConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	FromName string
}

// Enabled reports whether enough is configured to dial a server.
func (c SMTPConfig) Enabled() bool { return c.Server != "" && c.User != "" }

// LoadSMTPConfigFromEnv reads:
//   - PORTAL_SMTP_SERVER
//   - PORTAL_SMTP_PORT (default 587)
//   - PORTAL_SMTP_USER
//   - PORTAL_SMTP_PASSWORD
//   - PORTAL_SMTP_FROM_NAME (default "Portal")
func LoadSMTPConfigFromEnv() (SMTPConfig, error) {
	cfg := SMTPConfig{
		Server:   strings.TrimSpace(os.Getenv("PORTAL_SMTP_SERVER")),
		Port:     587,
		User:     strings.TrimSpace(os.Getenv("PORTAL_SMTP_USER")),
		Password: os.Getenv("PORTAL_SMTP_PASSWORD"),
		FromName: "Portal",
	}
	if v := strings.TrimSpace(os.Getenv("PORTAL_SMTP_PORT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			return SMTPConfig{}, ErrConfig
		}
		cfg.Port = n
	}
	if v := strings.TrimSpace(os.Getenv("PORTAL_SMTP_FROM_NAME")); v != "" {
		cfg.FromName = v
	}
	return cfg, nil
}

// SMTP sends through an SMTP relay with gomail.
type SMTP struct {
	cfg    SMTPConfig
	policy *bluemonday.Policy
	dial   func(m *gomail.Message) error
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	d := gomail.NewDialer(cfg.Server, cfg.Port, cfg.User, cfg.Password)
	return &SMTP{
		cfg:    cfg,
		policy: bluemonday.UGCPolicy(),
		dial:   func(m *gomail.Message) error { return d.DialAndSend(m) },
	}
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dial(s.compose(to, subject, body)); err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	return nil
}

func (s *SMTP) compose(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.User, s.cfg.FromName))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	m.AddAlternative("text/html", HTMLBody(s.policy, body))
	return m
}

// Recorder keeps sent messages in memory for tests and local runs.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
}

// Message is one message captured by Recorder.
type Message struct {
	To      string
	Subject string
	Body    string
}

func (r *Recorder) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, Message{To: to, Subject: subject, Body: body})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
