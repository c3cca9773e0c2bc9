package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// HubSignatureHeader carries the body digest on WhatsApp and Messenger webhooks.
const HubSignatureHeader = "X-Hub-Signature-256"

// SignatureHeader names the header that carries a channel's webhook signature.
func SignatureHeader(ct domain.ChannelType) string {
	switch ct {
	case domain.ChannelWhatsApp, domain.ChannelFacebook:
		return HubSignatureHeader
	case domain.ChannelSlack:
		return SlackSignatureHeader
	case domain.ChannelSMS:
		return TwilioSignatureHeader
	case domain.ChannelTelegram:
		return TelegramSecretHeader
	}
	return ""
}

// NewWebhookPayload decodes an inbound webhook request. Form-encoded bodies fill
// Form and a flattened Body; anything else non-empty must be a JSON object.
func NewWebhookPayload(header http.Header, body []byte, query url.Values, webhookURL string) (WebhookPayload, error) {
	payload := WebhookPayload{
		RawBody:        body,
		Query:          query,
		SlackTimestamp: header.Get(SlackTimestampHeader),
		WebhookURL:     webhookURL,
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return payload, nil
	}

	mediaType, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return payload, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		payload.Form = form
		payload.Body = make(map[string]any, len(form))
		for k := range form {
			payload.Body[k] = form.Get(k)
		}
		return payload, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload.Body); err != nil {
		return payload, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return payload, nil
}
