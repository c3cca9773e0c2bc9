package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPConfig configures the outbound mail relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Dialer is the part of *gomail.Dialer the sender uses.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// GomailSender sends plain-text email over SMTP.
type GomailSender struct {
	dialer Dialer
	from   string
	domain string
	logger *slog.Logger
}

func NewGomailSender(cfg SMTPConfig, logger *slog.Logger) *GomailSender {
	return NewGomailSenderWithDialer(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, logger)
}

func NewGomailSenderWithDialer(dialer Dialer, from string, logger *slog.Logger) *GomailSender {
	d := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		d = strings.Trim(from[i+1:], "> ")
	}
	return &GomailSender{
		dialer: dialer,
		from:   from,
		domain: d,
		logger: logger.With("component", "smtp_sender"),
	}
}

// Send delivers one message and returns its Message-ID (without angle brackets).
func (s *GomailSender) Send(ctx context.Context, cfg domain.ChannelConfig, to, subject, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), s.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.Get(domain.ConfigFromEmail, s.from))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", "<"+messageID+">")
	m.SetBody("text/plain", body)

	// gomail has no context support; the dial runs aside so cancellation returns promptly.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send to %s: %w", to, err)
		}
	}
	s.logger.DebugContext(ctx, "Email handed to SMTP relay", "to", to, "message_id", messageID)
	return messageID, nil
}
