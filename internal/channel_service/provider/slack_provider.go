package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// DefaultSlackAPIBase is the Slack Web API root.
const DefaultSlackAPIBase = "https://slack.com/api"

// SlackMaxSkew is how far a request timestamp may drift from now before it is treated as a replay.
const SlackMaxSkew = 300 * time.Second

const (
	SlackSignatureHeader = "X-Slack-Signature"
	SlackTimestampHeader = "X-Slack-Request-Timestamp"
)

// SlackConfig holds the default bot credentials for a Slack app.
type SlackConfig struct {
	APIBase       string
	BotToken      string
	SigningSecret string
}

type SlackProvider struct {
	httpCaller
	cfg SlackConfig
	now func() time.Time
}

// NewSlackProvider builds a Slack provider. now defaults to time.Now and drives replay protection.
func NewSlackProvider(logger *slog.Logger, cfg SlackConfig, httpClient *http.Client, now func() time.Time) *SlackProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultSlackAPIBase
	}
	if now == nil {
		now = time.Now
	}
	return &SlackProvider{
		httpCaller: newHTTPCaller(domain.ChannelSlack, logger, httpClient),
		cfg:        cfg,
		now:        now,
	}
}

type slackPostMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackPostMessageResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

func (p *SlackProvider) Name() domain.ChannelType { return domain.ChannelSlack }

func (p *SlackProvider) IsConfigured() bool {
	return p.cfg.BotToken != "" && p.cfg.SigningSecret != ""
}

func (p *SlackProvider) SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*SendResult, error) {
	token := cfg.Get(domain.ConfigBotToken, cfg.Get(domain.ConfigAccessToken, p.cfg.BotToken))
	p.logger.InfoContext(ctx, "Sending Slack message", "channel", recipientID)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	status, body, err := p.postJSON(ctx, strings.TrimRight(p.cfg.APIBase, "/")+"/chat.postMessage",
		slackPostMessageRequest{Channel: recipientID, Text: content}, header)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, p.statusError(status, body)
	}

	var resp slackPostMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, p.applicationError(status, "malformed send response")
	}
	if !resp.OK {
		p.logger.WarnContext(ctx, "Slack rejected message", "error", resp.Error)
		return nil, p.applicationError(status, resp.Error)
	}
	p.logger.InfoContext(ctx, "Slack message sent", "channel", recipientID, "ts", resp.TS)
	return &SendResult{MessageID: resp.TS, Status: domain.DeliverySent}, nil
}

func (p *SlackProvider) HandleIncoming(ctx context.Context, payload WebhookPayload) (*IncomingMessage, error) {
	in, err := p.ParsePartial(payload)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "Parsed Slack event", "event_type", in.Metadata["eventType"], "sender", in.SenderID)
	return in, nil
}

func (p *SlackProvider) ParsePartial(payload WebhookPayload) (*IncomingMessage, error) {
	if asString(payload.Body["type"]) == "url_verification" {
		return &IncomingMessage{
			SenderID:    "slack",
			ContentType: domain.ContentText,
			Timestamp:   p.now().UTC(),
			Metadata: map[string]any{
				"type":      "url_verification",
				"challenge": asString(payload.Body["challenge"]),
			},
		}, nil
	}

	event := asMap(payload.Body["event"])
	var missing error
	if event == nil {
		missing = invalidPayload(p.Name(), "event")
	}
	senderID := asString(event["user"])
	if senderID == "" {
		senderID = asString(event["bot_id"])
	}

	return &IncomingMessage{
		SenderID:       senderID,
		Content:        asString(event["text"]),
		ContentType:    domain.ContentText,
		MessageID:      asString(payload.Body["event_id"]),
		ConversationID: asString(event["channel"]),
		Timestamp:      unixTime(event["ts"], false, p.now().UTC()),
		Metadata: map[string]any{
			"eventType": asString(event["type"]),
			"teamId":    asString(payload.Body["team_id"]),
			"threadTs":  asString(event["thread_ts"]),
			"isBot":     event["bot_id"] != nil,
		},
	}, missing
}

// VerifyWebhook enforces the replay window and the v0 request signature.
func (p *SlackProvider) VerifyWebhook(payload WebhookPayload, signature string) bool {
	if p.cfg.SigningSecret == "" || payload.SlackTimestamp == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(payload.SlackTimestamp, 10, 64)
	if err != nil {
		return false
	}
	// Whole seconds, matching the header's resolution.
	skew := p.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(SlackMaxSkew/time.Second) {
		p.logger.Warn("Rejected stale Slack request", "skew_seconds", skew)
		return false
	}
	return secureEqual(signature, slackSignature(p.cfg.SigningSecret, payload.SlackTimestamp, payload.RawBody))
}
