package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// MessengerConfig holds the default credentials for a Facebook page.
type MessengerConfig struct {
	APIBase         string
	PageAccessToken string
	AppSecret       string
	VerifyToken     string
}

type MessengerProvider struct {
	httpCaller
	cfg MessengerConfig
	now func() time.Time
}

func NewMessengerProvider(logger *slog.Logger, cfg MessengerConfig, httpClient *http.Client) *MessengerProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultGraphAPIBase
	}
	return &MessengerProvider{
		httpCaller: newHTTPCaller(domain.ChannelFacebook, logger, httpClient),
		cfg:        cfg,
		now:        time.Now,
	}
}

type messengerSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type messengerSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (p *MessengerProvider) Name() domain.ChannelType { return domain.ChannelFacebook }

func (p *MessengerProvider) IsConfigured() bool {
	return p.cfg.PageAccessToken != "" && p.cfg.AppSecret != ""
}

func (p *MessengerProvider) SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*SendResult, error) {
	token := cfg.Get(domain.ConfigPageToken, cfg.Get(domain.ConfigAccessToken, p.cfg.PageAccessToken))
	p.logger.InfoContext(ctx, "Sending Messenger message", "recipient", recipientID)

	endpoint := strings.TrimRight(p.cfg.APIBase, "/") + "/me/messages?access_token=" + url.QueryEscape(token)
	var reqBody messengerSendRequest
	reqBody.Recipient.ID = recipientID
	reqBody.Message.Text = content

	status, body, err := p.postJSON(ctx, endpoint, reqBody, nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		p.logger.WarnContext(ctx, "Messenger send failed", "status_code", status)
		return nil, p.statusError(status, body)
	}

	var resp messengerSendResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.MessageID == "" {
		return nil, p.applicationError(status, "malformed send response: missing message_id")
	}
	p.logger.InfoContext(ctx, "Messenger message sent", "recipient", recipientID, "provider_message_id", resp.MessageID)
	return &SendResult{MessageID: resp.MessageID, Status: domain.DeliverySent}, nil
}

func (p *MessengerProvider) HandleIncoming(ctx context.Context, payload WebhookPayload) (*IncomingMessage, error) {
	in, err := p.ParsePartial(payload)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "Parsed Messenger webhook", "sender", in.SenderID)
	return in, nil
}

func (p *MessengerProvider) ParsePartial(payload WebhookPayload) (*IncomingMessage, error) {
	event := firstOf(firstOf(payload.Body, "entry"), "messaging")
	var missing error
	if event == nil {
		missing = invalidPayload(p.Name(), "entry[0].messaging[0]")
	}
	senderID := asString(asMap(event["sender"])["id"])
	if senderID == "" && missing == nil {
		missing = invalidPayload(p.Name(), "messaging[0].sender.id")
	}

	message := asMap(event["message"])
	content := asString(message["text"])
	contentType := domain.ContentText
	metadata := map[string]any{"pageId": asString(asMap(event["recipient"])["id"])}

	if postback := asMap(event["postback"]); postback != nil && content == "" {
		content = asString(postback["title"])
		metadata["postbackPayload"] = asString(postback["payload"])
	}
	if att := firstOf(message, "attachments"); att != nil {
		metadata["attachmentType"] = asString(att["type"])
		if content == "" {
			content = "[" + asString(att["type"]) + "]"
			contentType = domain.ContentFile
		}
	}

	return &IncomingMessage{
		SenderID:       senderID,
		Content:        content,
		ContentType:    contentType,
		MessageID:      asString(message["mid"]),
		ConversationID: senderID,
		Timestamp:      unixTime(event["timestamp"], true, p.now().UTC()),
		Metadata:       metadata,
	}, missing
}

func (p *MessengerProvider) VerifyWebhook(payload WebhookPayload, signature string) bool {
	return verifyMetaWebhook(payload, signature, p.cfg.VerifyToken, p.cfg.AppSecret)
}
