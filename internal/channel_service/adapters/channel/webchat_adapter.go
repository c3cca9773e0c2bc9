package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/google/uuid"
)

// WebchatPublisher fans a message out to the sockets attached to a conversation.
type WebchatPublisher interface {
	Publish(ctx context.Context, conversationID string, payload []byte) error
}

type WebchatAdapter struct {
	publisher WebchatPublisher
	now       func() time.Time
	logger    *slog.Logger
}

func NewWebchatAdapter(publisher WebchatPublisher, logger *slog.Logger) *WebchatAdapter {
	return &WebchatAdapter{
		publisher: publisher,
		now:       time.Now,
		logger:    logger.With("component", "webchat_adapter"),
	}
}

func (a *WebchatAdapter) ChannelType() domain.ChannelType { return domain.ChannelWebchat }

// NormalizeIncoming accepts the widget payload ({content|message, visitorId, visitorName,
// visitorEmail, conversationId, messageId, timestamp, metadata}).
func (a *WebchatAdapter) NormalizeIncoming(_ context.Context, raw map[string]any) domain.UnifiedIncomingMessage {
	content := str(raw["content"])
	if content == "" {
		content = str(raw["message"])
	}
	sender := str(raw["visitorId"])
	if sender == "" {
		sender = str(raw["senderId"])
	}

	msg := domain.UnifiedIncomingMessage{
		Content:               content,
		ContentType:           domain.ContentType(str(raw["contentType"])),
		ChannelType:           domain.ChannelWebchat,
		SenderID:              sender,
		SenderName:            str(raw["visitorName"]),
		SenderEmail:           str(raw["visitorEmail"]),
		ChannelConversationID: str(raw["conversationId"]),
		ChannelMessageID:      str(raw["messageId"]),
	}
	if ts := str(raw["timestamp"]); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			msg.Timestamp = t
		}
	}
	if md, ok := raw["metadata"].(map[string]any); ok {
		msg.Metadata = md
	}
	return withDefaults(msg, defaultWebchatSender, a.now())
}

func (a *WebchatAdapter) FormatOutgoing(msg domain.UnifiedOutgoingMessage) map[string]any {
	contentType := msg.ContentType
	if contentType == "" {
		contentType = domain.ContentText
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"content":     msg.Content,
		"contentType": string(contentType),
		"metadata":    metadata,
	}
}

// SendMessage publishes to the conversation; recipientID is used when the message has no conversation id.
func (a *WebchatAdapter) SendMessage(ctx context.Context, orgID string, _ domain.ChannelConfig, recipientID string, msg domain.UnifiedOutgoingMessage) (*domain.DeliveryResult, error) {
	conversationID := msg.ChannelConversationID
	if conversationID == "" {
		conversationID = recipientID
	}
	messageID := uuid.NewString()

	formatted := a.FormatOutgoing(msg)
	formatted["messageId"] = messageID
	formatted["sentAt"] = a.now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(formatted)
	if err != nil {
		err = fmt.Errorf("failed to marshal web-chat message: %w", err)
		return failedResult(domain.ChannelWebchat, err), err
	}

	if err := a.publisher.Publish(ctx, conversationID, payload); err != nil {
		a.logger.ErrorContext(ctx, "Failed to publish web-chat message", "organization_id", orgID, "conversation_id", conversationID, "error", err)
		return failedResult(domain.ChannelWebchat, err), err
	}
	return &domain.DeliveryResult{MessageID: messageID, Status: domain.DeliverySent, Provider: string(domain.ChannelWebchat)}, nil
}

// VerifyWebhook always passes: widget traffic is authenticated by the session layer.
func (a *WebchatAdapter) VerifyWebhook(http.Header, []byte) bool { return true }
