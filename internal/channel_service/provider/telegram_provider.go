package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// DefaultTelegramAPIBase is the Telegram Bot API root.
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramSecretHeader carries the secret token set with setWebhook.
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramConfig holds the default bot credentials.
type TelegramConfig struct {
	APIBase     string
	BotToken    string
	SecretToken string
}

type TelegramProvider struct {
	httpCaller
	cfg TelegramConfig
	now func() time.Time
}

func NewTelegramProvider(logger *slog.Logger, cfg TelegramConfig, httpClient *http.Client) *TelegramProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTelegramAPIBase
	}
	return &TelegramProvider{
		httpCaller: newHTTPCaller(domain.ChannelTelegram, logger, httpClient),
		cfg:        cfg,
		now:        time.Now,
	}
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramSendResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID json.Number `json:"message_id"`
	} `json:"result"`
}

func (p *TelegramProvider) Name() domain.ChannelType { return domain.ChannelTelegram }

func (p *TelegramProvider) IsConfigured() bool {
	return p.cfg.BotToken != ""
}

func (p *TelegramProvider) SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*SendResult, error) {
	token := cfg.Get(domain.ConfigBotToken, p.cfg.BotToken)
	p.logger.InfoContext(ctx, "Sending Telegram message", "chat_id", recipientID)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(p.cfg.APIBase, "/"), token)
	reqBody := telegramSendRequest{ChatID: recipientID, Text: content, ParseMode: "HTML"}

	status, body, err := p.postJSON(ctx, endpoint, reqBody, nil)
	if err != nil {
		return nil, err
	}

	var resp telegramSendResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
		if !isSuccess(status) {
			return nil, p.statusError(status, body)
		}
		return nil, p.applicationError(status, "malformed send response")
	}
	// The Bot API reports rejections as ok:false with a description, usually alongside a 4xx.
	if !resp.OK {
		p.logger.WarnContext(ctx, "Telegram rejected message", "status_code", status, "description", resp.Description)
		return nil, p.applicationError(status, resp.Description)
	}
	if !isSuccess(status) {
		return nil, p.statusError(status, body)
	}
	messageID := resp.Result.MessageID.String()
	if messageID == "" {
		return nil, p.applicationError(status, "malformed send response: missing result.message_id")
	}
	p.logger.InfoContext(ctx, "Telegram message sent", "chat_id", recipientID, "provider_message_id", messageID)
	return &SendResult{MessageID: messageID, Status: domain.DeliverySent}, nil
}

func (p *TelegramProvider) HandleIncoming(ctx context.Context, payload WebhookPayload) (*IncomingMessage, error) {
	in, err := p.ParsePartial(payload)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "Parsed Telegram webhook", "sender", in.SenderID, "edited", in.Metadata["edited"])
	return in, nil
}

func (p *TelegramProvider) ParsePartial(payload WebhookPayload) (*IncomingMessage, error) {
	msg := asMap(payload.Body["message"])
	edited := false
	if msg == nil {
		msg = asMap(payload.Body["edited_message"])
		edited = msg != nil
	}
	var missing error
	if msg == nil {
		missing = invalidPayload(p.Name(), "message")
	}
	from := asMap(msg["from"])
	senderID := asString(from["id"])
	if senderID == "" && missing == nil {
		missing = invalidPayload(p.Name(), "message.from.id")
	}

	content := asString(msg["text"])
	contentType := domain.ContentText
	if content == "" {
		content = asString(msg["caption"])
		switch {
		case msg["photo"] != nil:
			contentType = domain.ContentImage
		case msg["document"] != nil:
			contentType = domain.ContentFile
		case msg["voice"] != nil || msg["audio"] != nil:
			contentType = domain.ContentAudio
		case msg["video"] != nil:
			contentType = domain.ContentVideo
		case msg["location"] != nil:
			loc := asMap(msg["location"])
			content = fmt.Sprintf("%s,%s", asString(loc["latitude"]), asString(loc["longitude"]))
			contentType = domain.ContentLocation
		}
	}

	name := strings.TrimSpace(asString(from["first_name"]) + " " + asString(from["last_name"]))
	if name == "" {
		name = asString(from["username"])
	}
	chat := asMap(msg["chat"])

	return &IncomingMessage{
		SenderID:       senderID,
		SenderName:     name,
		Content:        content,
		ContentType:    contentType,
		MessageID:      asString(msg["message_id"]),
		ConversationID: asString(chat["id"]),
		Timestamp:      unixTime(msg["date"], false, p.now().UTC()),
		Metadata: map[string]any{
			"updateId": asString(payload.Body["update_id"]),
			"chatType": asString(chat["type"]),
			"username": asString(from["username"]),
			"edited":   edited,
		},
	}, missing
}

// VerifyWebhook compares the secret token header. With no secret configured every request passes.
func (p *TelegramProvider) VerifyWebhook(_ WebhookPayload, signature string) bool {
	if p.cfg.SecretToken == "" {
		return true
	}
	return secureEqual(signature, p.cfg.SecretToken)
}
