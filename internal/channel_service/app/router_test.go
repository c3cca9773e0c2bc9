package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockChannelProvider is a mock implementation of provider.ChannelProvider
type MockChannelProvider struct {
	mock.Mock
	Channel    domain.ChannelType
	Configured bool
}

func (m *MockChannelProvider) Name() domain.ChannelType { return m.Channel }

func (m *MockChannelProvider) IsConfigured() bool { return m.Configured }

func (m *MockChannelProvider) SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*provider.SendResult, error) {
	args := m.Called(ctx, cfg, recipientID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.SendResult), args.Error(1)
}

func (m *MockChannelProvider) HandleIncoming(ctx context.Context, payload provider.WebhookPayload) (*provider.IncomingMessage, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.IncomingMessage), args.Error(1)
}

func (m *MockChannelProvider) VerifyWebhook(payload provider.WebhookPayload, signature string) bool {
	return m.Called(payload, signature).Bool(0)
}

func TestChannelRouter_GetProvider_CaseInsensitive(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	router := NewChannelRouter(discardLogger(), wa)

	p, ok := router.GetProvider("whatsapp")
	require.True(t, ok)
	assert.Same(t, wa, p)

	p, ok = router.GetProvider(" WhatsApp ")
	require.True(t, ok)
	assert.Same(t, wa, p)

	_, ok = router.GetProvider("PIGEON")
	assert.False(t, ok)
}

func TestChannelRouter_GetConfiguredProviders(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	tg := &MockChannelProvider{Channel: domain.ChannelTelegram, Configured: false}
	sl := &MockChannelProvider{Channel: domain.ChannelSlack, Configured: true}
	router := NewChannelRouter(discardLogger(), wa, tg, sl)

	configured := router.GetConfiguredProviders()
	require.Len(t, configured, 2)
	assert.Equal(t, domain.ChannelWhatsApp, configured[0].Name())
	assert.Equal(t, domain.ChannelSlack, configured[1].Name())
	assert.Equal(t, []domain.ChannelType{domain.ChannelWhatsApp, domain.ChannelTelegram, domain.ChannelSlack}, router.RegisteredChannels())
}

func TestChannelRouter_RouteOutgoing(t *testing.T) {
	ctx := context.Background()
	cfg := domain.ChannelConfig{"accessToken": "tok"}

	t.Run("delegates to provider", func(t *testing.T) {
		wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
		wa.On("SendMessage", mock.Anything, cfg, "+1555", "Hello").
			Return(&provider.SendResult{MessageID: "wamid.1", Status: domain.DeliverySent}, nil).Once()
		router := NewChannelRouter(discardLogger(), wa)

		res, err := router.RouteOutgoing(ctx, "whatsapp", cfg, "+1555", "Hello")
		require.NoError(t, err)
		assert.Equal(t, "wamid.1", res.MessageID)
		wa.AssertExpectations(t)
	})

	t.Run("unconfigured provider still sends", func(t *testing.T) {
		tg := &MockChannelProvider{Channel: domain.ChannelTelegram, Configured: false}
		tg.On("SendMessage", mock.Anything, cfg, "42", "hi").
			Return(&provider.SendResult{MessageID: "7"}, nil).Once()
		router := NewChannelRouter(discardLogger(), tg)

		_, err := router.RouteOutgoing(ctx, "TELEGRAM", cfg, "42", "hi")
		require.NoError(t, err)
		tg.AssertExpectations(t)
	})

	t.Run("propagates provider error", func(t *testing.T) {
		wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
		providerErr := &domain.ProviderError{Channel: domain.ChannelWhatsApp, Kind: domain.ProviderErrorTransport, StatusCode: 503}
		wa.On("SendMessage", mock.Anything, cfg, "+1", "x").Return(nil, providerErr).Once()
		router := NewChannelRouter(discardLogger(), wa)

		_, err := router.RouteOutgoing(ctx, "WHATSAPP", cfg, "+1", "x")
		assert.ErrorIs(t, err, providerErr)
	})

	t.Run("unknown channel", func(t *testing.T) {
		router := NewChannelRouter(discardLogger())
		_, err := router.RouteOutgoing(ctx, "CARRIER_PIGEON", cfg, "+1", "x")
		assert.ErrorIs(t, err, domain.ErrUnknownChannel)
	})
}

func TestChannelRouter_RouteIncoming(t *testing.T) {
	ctx := context.Background()
	payload := provider.WebhookPayload{RawBody: []byte(`{}`)}

	t.Run("verified webhook is handled", func(t *testing.T) {
		sl := &MockChannelProvider{Channel: domain.ChannelSlack, Configured: true}
		sl.On("VerifyWebhook", payload, "v0=good").Return(true).Once()
		sl.On("HandleIncoming", mock.Anything, payload).Return(&provider.IncomingMessage{SenderID: "U1", Content: "hi"}, nil).Once()
		router := NewChannelRouter(discardLogger(), sl)

		msg, err := router.RouteIncoming(ctx, "slack", payload, "v0=good")
		require.NoError(t, err)
		assert.Equal(t, "U1", msg.SenderID)
		sl.AssertExpectations(t)
	})

	t.Run("failed verification is never handled", func(t *testing.T) {
		sl := &MockChannelProvider{Channel: domain.ChannelSlack, Configured: true}
		sl.On("VerifyWebhook", payload, "v0=bad").Return(false).Once()
		router := NewChannelRouter(discardLogger(), sl)

		_, err := router.RouteIncoming(ctx, "SLACK", payload, "v0=bad")
		assert.ErrorIs(t, err, domain.ErrWebhookVerification)
		sl.AssertNotCalled(t, "HandleIncoming", mock.Anything, mock.Anything)
	})

	t.Run("unknown channel", func(t *testing.T) {
		router := NewChannelRouter(discardLogger())
		_, err := router.RouteIncoming(ctx, "FAX", payload, "")
		assert.True(t, errors.Is(err, domain.ErrUnknownChannel))
	})
}

func TestChannelRouter_VerifyWebhook_UnknownChannelIsFalse(t *testing.T) {
	router := NewChannelRouter(discardLogger())
	assert.NotPanics(t, func() {
		assert.False(t, router.VerifyWebhook("NOPE", provider.WebhookPayload{}, "sig"))
	})
}

func TestChannelRouter_RouteIncoming_VerifyTokenOnDeliveryIsRejected(t *testing.T) {
	wa := provider.NewWhatsAppProvider(discardLogger(), provider.WhatsAppConfig{AppSecret: "app-secret", VerifyToken: "vt"}, nil)
	router := NewChannelRouter(discardLogger(), wa)

	body := []byte(`{"entry":[{"changes":[{"value":{"messages":[{"from":"attacker","id":"wamid.X","type":"text","text":{"body":"forged"}}]}}]}]}`)
	header := http.Header{"Content-Type": {"application/json"}}
	payload, err := provider.NewWebhookPayload(header, body, url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {"vt"}}, "")
	require.NoError(t, err)

	msg, err := router.RouteIncoming(context.Background(), "WHATSAPP", payload, "")
	assert.ErrorIs(t, err, domain.ErrWebhookVerification)
	assert.Nil(t, msg)

	msg, err = router.RouteIncoming(context.Background(), "WHATSAPP", payload, provider.SignHub("app-secret", body))
	require.NoError(t, err)
	assert.Equal(t, "forged", msg.Content)
}
