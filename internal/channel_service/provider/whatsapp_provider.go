package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// DefaultGraphAPIBase is the Meta Graph API root used by WhatsApp and Messenger.
const DefaultGraphAPIBase = "https://graph.facebook.com/v18.0"

// WhatsAppConfig holds the default credentials for the WhatsApp Cloud API.
type WhatsAppConfig struct {
	APIBase       string
	AccessToken   string
	PhoneNumberID string
	AppSecret     string
	VerifyToken   string
}

type WhatsAppProvider struct {
	httpCaller
	cfg WhatsAppConfig
	now func() time.Time
}

func NewWhatsAppProvider(logger *slog.Logger, cfg WhatsAppConfig, httpClient *http.Client) *WhatsAppProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultGraphAPIBase
	}
	return &WhatsAppProvider{
		httpCaller: newHTTPCaller(domain.ChannelWhatsApp, logger, httpClient),
		cfg:        cfg,
		now:        time.Now,
	}
}

type whatsAppSendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             whatsAppTextBody `json:"text"`
}

type whatsAppTextBody struct {
	Body string `json:"body"`
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (p *WhatsAppProvider) Name() domain.ChannelType { return domain.ChannelWhatsApp }

func (p *WhatsAppProvider) IsConfigured() bool {
	return p.cfg.AccessToken != "" && p.cfg.PhoneNumberID != "" && p.cfg.AppSecret != ""
}

func (p *WhatsAppProvider) SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*SendResult, error) {
	token := cfg.Get(domain.ConfigAccessToken, p.cfg.AccessToken)
	phoneID := cfg.Get(domain.ConfigPhoneNumberID, p.cfg.PhoneNumberID)
	p.logger.InfoContext(ctx, "Sending WhatsApp message", "recipient", recipientID, "phone_number_id", phoneID)

	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(p.cfg.APIBase, "/"), url.PathEscape(phoneID))
	reqBody := whatsAppSendRequest{
		MessagingProduct: "whatsapp",
		To:               recipientID,
		Type:             "text",
		Text:             whatsAppTextBody{Body: content},
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	status, body, err := p.postJSON(ctx, endpoint, reqBody, header)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		p.logger.WarnContext(ctx, "WhatsApp send failed", "status_code", status)
		return nil, p.statusError(status, body)
	}

	var resp whatsAppSendResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return nil, p.applicationError(status, "malformed send response: missing messages[0].id")
	}
	p.logger.InfoContext(ctx, "WhatsApp message sent", "recipient", recipientID, "provider_message_id", resp.Messages[0].ID)
	return &SendResult{MessageID: resp.Messages[0].ID, Status: domain.DeliverySent}, nil
}

func (p *WhatsAppProvider) HandleIncoming(ctx context.Context, payload WebhookPayload) (*IncomingMessage, error) {
	in, err := p.ParsePartial(payload)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "Parsed WhatsApp webhook", "sender", in.SenderID, "type", in.Metadata["messageType"])
	return in, nil
}

func (p *WhatsAppProvider) ParsePartial(payload WebhookPayload) (*IncomingMessage, error) {
	value := asMap(firstOf(firstOf(payload.Body, "entry"), "changes")["value"])
	msg := firstOf(value, "messages")
	var missing error
	if msg == nil {
		missing = invalidPayload(p.Name(), "entry[0].changes[0].value.messages[0]")
	}

	senderID := asString(msg["from"])
	msgType := asString(msg["type"])
	content, contentType := whatsAppContent(msg, msgType)

	var senderName string
	if contact := firstOf(value, "contacts"); contact != nil {
		senderName = asString(asMap(contact["profile"])["name"])
	}

	metadata := map[string]any{"messageType": msgType}
	if meta := asMap(value["metadata"]); meta != nil {
		metadata["phoneNumberId"] = asString(meta["phone_number_id"])
		metadata["displayPhoneNumber"] = asString(meta["display_phone_number"])
	}

	return &IncomingMessage{
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        content,
		ContentType:    contentType,
		MessageID:      asString(msg["id"]),
		ConversationID: senderID,
		Timestamp:      unixTime(msg["timestamp"], false, p.now().UTC()),
		Metadata:       metadata,
	}, missing
}

func whatsAppContent(msg map[string]any, msgType string) (string, domain.ContentType) {
	switch msgType {
	case "text", "":
		return asString(asMap(msg["text"])["body"]), domain.ContentText
	case "image":
		return asString(asMap(msg["image"])["caption"]), domain.ContentImage
	case "audio":
		return "[audio]", domain.ContentAudio
	case "video":
		return asString(asMap(msg["video"])["caption"]), domain.ContentVideo
	case "document":
		return asString(asMap(msg["document"])["filename"]), domain.ContentFile
	case "location":
		loc := asMap(msg["location"])
		return fmt.Sprintf("%s,%s", asString(loc["latitude"]), asString(loc["longitude"])), domain.ContentLocation
	case "button":
		return asString(asMap(msg["button"])["text"]), domain.ContentText
	case "interactive":
		in := asMap(msg["interactive"])
		if reply := asMap(in["button_reply"]); reply != nil {
			return asString(reply["title"]), domain.ContentText
		}
		return asString(asMap(in["list_reply"])["title"]), domain.ContentText
	default:
		return "[" + msgType + "]", domain.ContentText
	}
}

func (p *WhatsAppProvider) VerifyWebhook(payload WebhookPayload, signature string) bool {
	return verifyMetaWebhook(payload, signature, p.cfg.VerifyToken, p.cfg.AppSecret)
}

// verifyMetaWebhook implements the WhatsApp/Messenger scheme: a subscription check
// compares hub.verify_token, every delivery needs an x-hub-signature-256 body digest.
func verifyMetaWebhook(payload WebhookPayload, signature, verifyToken, appSecret string) bool {
	if payload.Subscription {
		return payload.Query.Get("hub.mode") == "subscribe" &&
			secureEqual(payload.Query.Get("hub.verify_token"), verifyToken)
	}
	if signature == "" || appSecret == "" {
		return false
	}
	return secureEqual(signature, hubSignature(appSecret, payload.RawBody))
}
