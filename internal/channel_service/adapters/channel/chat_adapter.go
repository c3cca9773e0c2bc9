package channel

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// ReliableSender delivers through the retrying, dead-lettering send path.
type ReliableSender interface {
	SendWithRetry(ctx context.Context, orgID, channelType string, cfg domain.ChannelConfig, recipientID, content string) (*domain.DeliveryResult, error)
}

// ChatAdapter serves provider-backed chat channels (WhatsApp, Messenger, Telegram, Slack, SMS).
type ChatAdapter struct {
	provider provider.ChannelProvider
	sender   ReliableSender
	now      func() time.Time
	logger   *slog.Logger
}

func NewChatAdapter(p provider.ChannelProvider, sender ReliableSender, logger *slog.Logger) *ChatAdapter {
	return &ChatAdapter{
		provider: p,
		sender:   sender,
		now:      time.Now,
		logger:   logger.With("component", "chat_adapter", "channel_type", string(p.Name())),
	}
}

// NewChatAdapters builds one adapter per provider.
func NewChatAdapters(sender ReliableSender, logger *slog.Logger, providers ...provider.ChannelProvider) []Adapter {
	out := make([]Adapter, 0, len(providers))
	for _, p := range providers {
		out = append(out, NewChatAdapter(p, sender, logger))
	}
	return out
}

func (a *ChatAdapter) ChannelType() domain.ChannelType { return a.provider.Name() }

func (a *ChatAdapter) NormalizeIncoming(ctx context.Context, raw map[string]any) domain.UnifiedIncomingMessage {
	payload := provider.WebhookPayload{Body: raw}
	incoming, err := a.provider.HandleIncoming(ctx, payload)
	if err == nil {
		return a.FromIncoming(incoming)
	}

	a.logger.DebugContext(ctx, "Native payload incomplete, using defaults", "error", err)
	if pp, ok := a.provider.(provider.PartialParser); ok {
		incoming, _ = pp.ParsePartial(payload)
	}
	msg := a.FromIncoming(incoming)
	msg.Metadata["normalizationError"] = err.Error()
	return msg
}

// FromIncoming canonicalizes an already parsed provider message.
func (a *ChatAdapter) FromIncoming(in *provider.IncomingMessage) domain.UnifiedIncomingMessage {
	if in == nil {
		return withDefaults(domain.UnifiedIncomingMessage{ChannelType: a.ChannelType()}, defaultSender, a.now())
	}
	return withDefaults(domain.UnifiedIncomingMessage{
		Content:               in.Content,
		ContentType:           in.ContentType,
		ChannelType:           a.ChannelType(),
		SenderID:              in.SenderID,
		SenderName:            in.SenderName,
		ChannelConversationID: in.ConversationID,
		ChannelMessageID:      in.MessageID,
		Timestamp:             in.Timestamp,
		Metadata:              in.Metadata,
	}, defaultSender, a.now())
}

func (a *ChatAdapter) FormatOutgoing(msg domain.UnifiedOutgoingMessage) map[string]any {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = domain.ContentText
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"type":     string(contentType),
		"content":  msg.Content,
		"metadata": metadata,
	}
}

// SendMessage sends through the reliability layer. A failure is returned both as
// a failed DeliveryResult and as the error.
func (a *ChatAdapter) SendMessage(ctx context.Context, orgID string, cfg domain.ChannelConfig, recipientID string, msg domain.UnifiedOutgoingMessage) (*domain.DeliveryResult, error) {
	formatted := a.FormatOutgoing(msg)
	content, _ := formatted["content"].(string)

	res, err := a.sender.SendWithRetry(ctx, orgID, string(a.ChannelType()), cfg, recipientID, content)
	if err != nil {
		return failedResult(a.ChannelType(), err), err
	}
	if res.Provider == "" {
		res.Provider = string(a.ChannelType())
	}
	return res, nil
}

// VerifyWebhook applies the provider's scheme to raw request headers and body.
func (a *ChatAdapter) VerifyWebhook(header http.Header, body []byte) bool {
	payload, err := provider.NewWebhookPayload(header, body, nil, "")
	if err != nil {
		return false
	}
	return a.provider.VerifyWebhook(payload, header.Get(provider.SignatureHeader(a.ChannelType())))
}
