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

// DefaultTwilioAPIBase is the Twilio REST API root.
const DefaultTwilioAPIBase = "https://api.twilio.com"

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioConfig holds the default account credentials for SMS.
type TwilioConfig struct {
	APIBase    string
	AccountSID string
	AuthToken  string
	FromNumber string
	// WebhookURL is the public URL configured in the Twilio console, used when
	// the request does not carry one.
	WebhookURL string
}

type TwilioSMSProvider struct {
	httpCaller
	cfg TwilioConfig
	now func() time.Time
}

func NewTwilioSMSProvider(logger *slog.Logger, cfg TwilioConfig, httpClient *http.Client) *TwilioSMSProvider {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultTwilioAPIBase
	}
	return &TwilioSMSProvider{
		httpCaller: newHTTPCaller(domain.ChannelSMS, logger, httpClient),
		cfg:        cfg,
		now:        time.Now,
	}
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (p *TwilioSMSProvider) Name() domain.ChannelType { return domain.ChannelSMS }

func (p *TwilioSMSProvider) IsConfigured() bool {
	return p.cfg.AccountSID != "" && p.cfg.AuthToken != "" && p.cfg.FromNumber != ""
}

func (p *TwilioSMSProvider) SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*SendResult, error) {
	sid := cfg.Get(domain.ConfigAccountSID, p.cfg.AccountSID)
	token := cfg.Get(domain.ConfigAuthToken, p.cfg.AuthToken)
	from := cfg.Get(domain.ConfigFromNumber, p.cfg.FromNumber)
	p.logger.InfoContext(ctx, "Sending SMS", "recipient", recipientID, "from", from)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(p.cfg.APIBase, "/"), url.PathEscape(sid))
	form := url.Values{}
	form.Set("To", recipientID)
	form.Set("From", from)
	form.Set("Body", content)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create SMS HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(sid, token)

	status, body, err := p.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		p.logger.WarnContext(ctx, "SMS send failed", "status_code", status)
		return nil, p.statusError(status, body)
	}

	var resp twilioMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.SID == "" {
		return nil, p.applicationError(status, "malformed send response: missing sid")
	}
	deliveryStatus := domain.DeliverySent
	if resp.Status == "queued" || resp.Status == "accepted" {
		deliveryStatus = domain.DeliveryQueued
	}
	p.logger.InfoContext(ctx, "SMS accepted", "recipient", recipientID, "provider_message_id", resp.SID, "provider_status", resp.Status)
	return &SendResult{MessageID: resp.SID, Status: deliveryStatus}, nil
}

func (p *TwilioSMSProvider) HandleIncoming(ctx context.Context, payload WebhookPayload) (*IncomingMessage, error) {
	in, err := p.ParsePartial(payload)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "Parsed SMS webhook", "sender", in.SenderID)
	return in, nil
}

func (p *TwilioSMSProvider) ParsePartial(payload WebhookPayload) (*IncomingMessage, error) {
	params := twilioParams(payload)
	from := params.Get("From")
	var missing error
	if from == "" {
		missing = invalidPayload(p.Name(), "From")
	}

	return &IncomingMessage{
		SenderID:       from,
		Content:        params.Get("Body"),
		ContentType:    domain.ContentText,
		MessageID:      params.Get("MessageSid"),
		ConversationID: from,
		Timestamp:      p.now().UTC(),
		Metadata: map[string]any{
			"to":         params.Get("To"),
			"accountSid": params.Get("AccountSid"),
			"numMedia":   params.Get("NumMedia"),
		},
	}, missing
}

func (p *TwilioSMSProvider) VerifyWebhook(payload WebhookPayload, signature string) bool {
	if p.cfg.AuthToken == "" || signature == "" {
		return false
	}
	hookURL := payload.WebhookURL
	if hookURL == "" {
		hookURL = p.cfg.WebhookURL
	}
	return secureEqual(signature, twilioSignature(p.cfg.AuthToken, hookURL, twilioParams(payload)))
}

// twilioParams prefers the parsed form; a JSON body is accepted as a fallback.
func twilioParams(payload WebhookPayload) url.Values {
	if len(payload.Form) > 0 {
		return payload.Form
	}
	params := url.Values{}
	for k, v := range payload.Body {
		params.Set(k, asString(v))
	}
	return params
}
