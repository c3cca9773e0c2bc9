package provider

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhookPayload_JSON(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set(SlackTimestampHeader, "1700000000")
	body := []byte(`{"update_id":123456789012,"message":{"text":"hi"}}`)

	payload, err := NewWebhookPayload(header, body, url.Values{"a": {"b"}}, "")
	require.NoError(t, err)
	assert.Equal(t, body, payload.RawBody)
	assert.Equal(t, "1700000000", payload.SlackTimestamp)
	assert.Equal(t, json.Number("123456789012"), payload.Body["update_id"])
	assert.Equal(t, "123456789012", asString(payload.Body["update_id"]))
	assert.Equal(t, "b", payload.Query.Get("a"))
}

func TestNewWebhookPayload_Form(t *testing.T) {
	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	body := []byte("From=%2B15551234567&Body=hello+there&MessageSid=SM1")

	payload, err := NewWebhookPayload(header, body, nil, "https://gw.example.com/webhooks/sms")
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", payload.Form.Get("From"))
	assert.Equal(t, "hello there", payload.Body["Body"])
	assert.Equal(t, "https://gw.example.com/webhooks/sms", payload.WebhookURL)
}

func TestNewWebhookPayload_EmptyAndInvalid(t *testing.T) {
	payload, err := NewWebhookPayload(http.Header{}, nil, url.Values{"hub.mode": {"subscribe"}}, "")
	require.NoError(t, err)
	assert.Nil(t, payload.Body)

	_, err = NewWebhookPayload(http.Header{}, []byte(`[1,2,3]`), nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestSignatureHeader(t *testing.T) {
	assert.Equal(t, "X-Hub-Signature-256", SignatureHeader(domain.ChannelWhatsApp))
	assert.Equal(t, "X-Hub-Signature-256", SignatureHeader(domain.ChannelFacebook))
	assert.Equal(t, "X-Slack-Signature", SignatureHeader(domain.ChannelSlack))
	assert.Equal(t, "X-Twilio-Signature", SignatureHeader(domain.ChannelSMS))
	assert.Equal(t, "X-Telegram-Bot-Api-Secret-Token", SignatureHeader(domain.ChannelTelegram))
	assert.Empty(t, SignatureHeader(domain.ChannelEmail))
}
