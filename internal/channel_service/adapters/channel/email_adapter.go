package channel

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/google/uuid"
)

// EmailSender delivers a rendered email. It returns the message id it assigned.
type EmailSender interface {
	Send(ctx context.Context, cfg domain.ChannelConfig, to, subject, body string) (string, error)
}

const defaultEmailSubject = "New message"

type EmailAdapter struct {
	sender EmailSender
	now    func() time.Time
	logger *slog.Logger
}

func NewEmailAdapter(sender EmailSender, logger *slog.Logger) *EmailAdapter {
	return &EmailAdapter{
		sender: sender,
		now:    time.Now,
		logger: logger.With("component", "email_adapter"),
	}
}

func (a *EmailAdapter) ChannelType() domain.ChannelType { return domain.ChannelEmail }

// NormalizeIncoming accepts an inbound-parse style payload
// ({from, subject, text|html|body, messageId, inReplyTo, date}).
func (a *EmailAdapter) NormalizeIncoming(_ context.Context, raw map[string]any) domain.UnifiedIncomingMessage {
	msg := domain.UnifiedIncomingMessage{ChannelType: domain.ChannelEmail, ContentType: domain.ContentText}

	from := str(raw["from"])
	if addr, err := mail.ParseAddress(from); err == nil {
		msg.SenderID = strings.ToLower(addr.Address)
		msg.SenderEmail = addr.Address
		msg.SenderName = addr.Name
	} else if from != "" {
		msg.SenderID = from
	}
	if name := str(raw["fromName"]); name != "" {
		msg.SenderName = name
	}

	switch {
	case str(raw["text"]) != "":
		msg.Content = str(raw["text"])
	case str(raw["html"]) != "":
		msg.Content = str(raw["html"])
		msg.ContentType = domain.ContentHTML
	default:
		msg.Content = str(raw["body"])
	}

	msg.ChannelMessageID = str(raw["messageId"])
	msg.ChannelConversationID = str(raw["inReplyTo"])
	if msg.ChannelConversationID == "" {
		msg.ChannelConversationID = msg.ChannelMessageID
	}
	if d := str(raw["date"]); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			msg.Timestamp = t
		}
	}
	msg.Metadata = map[string]any{"subject": str(raw["subject"]), "to": str(raw["to"])}
	return withDefaults(msg, defaultSender, a.now())
}

func (a *EmailAdapter) FormatOutgoing(msg domain.UnifiedOutgoingMessage) map[string]any {
	subject := msg.Subject
	if subject == "" {
		subject = defaultEmailSubject
	}
	return map[string]any{"subject": subject, "body": msg.Content}
}

func (a *EmailAdapter) SendMessage(ctx context.Context, orgID string, cfg domain.ChannelConfig, recipientID string, msg domain.UnifiedOutgoingMessage) (*domain.DeliveryResult, error) {
	formatted := a.FormatOutgoing(msg)
	subject, _ := formatted["subject"].(string)
	body, _ := formatted["body"].(string)

	id, err := a.sender.Send(ctx, cfg, recipientID, subject, body)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to send email", "organization_id", orgID, "recipient", recipientID, "error", err)
		return failedResult(domain.ChannelEmail, err), err
	}
	if id == "" {
		id = uuid.NewString()
	}
	a.logger.InfoContext(ctx, "Email sent", "organization_id", orgID, "recipient", recipientID, "message_id", id)
	return &domain.DeliveryResult{MessageID: id, Status: domain.DeliverySent, Provider: string(domain.ChannelEmail)}, nil
}

// VerifyWebhook always passes: inbound mail is trusted at the transport.
func (a *EmailAdapter) VerifyWebhook(http.Header, []byte) bool { return true }
