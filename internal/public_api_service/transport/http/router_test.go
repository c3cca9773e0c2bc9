package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aradsms/channel_gateway/internal/channel_service/adapters/channel"
	"github.com/aradsms/channel_gateway/internal/channel_service/app"
	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/public_api_service/middleware"
	httpapi "github.com/aradsms/channel_gateway/internal/public_api_service/transport/http"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBotToken      = "bot-token"
	testTelegramToken = "tg-secret"
	testVerifyToken   = "verify-me"
	testAppSecret     = "app-secret"
)

type gatewayFixture struct {
	server      *httptest.Server
	secret      []byte
	inbound     *app.InboundService
	store       *app.MemorySLAStore
	reliability *app.ReliabilityService
	tgFail      *atomic.Bool
	tgCalls     *atomic.Int32
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newGatewayFixture wires the real router, reliability service and providers. Telegram sends go to a
// local fake Bot API that fails while tgFail is set.
func newGatewayFixture(t *testing.T, limiter *middleware.RateLimiter) *gatewayFixture {
	t.Helper()
	logger := discardLogger()
	f := &gatewayFixture{secret: []byte("test-secret"), tgFail: new(atomic.Bool), tgCalls: new(atomic.Int32)}

	telegramAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.tgCalls.Add(1)
		if r.URL.Path != "/bot"+testBotToken+"/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if f.tgFail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = io.WriteString(w, `{"ok":false,"description":"Internal Server Error"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":77}}`)
	}))
	t.Cleanup(telegramAPI.Close)

	telegram := provider.NewTelegramProvider(logger, provider.TelegramConfig{
		APIBase:     telegramAPI.URL,
		BotToken:    testBotToken,
		SecretToken: testTelegramToken,
	}, telegramAPI.Client())
	whatsapp := provider.NewWhatsAppProvider(logger, provider.WhatsAppConfig{
		VerifyToken: testVerifyToken,
		AppSecret:   testAppSecret,
	}, nil)
	router := app.NewChannelRouter(logger, telegram, whatsapp)

	f.store = app.NewMemorySLAStore()
	f.reliability = app.NewReliabilityService(router, f.store, f.store, app.NewDeadLetterQueue(10),
		app.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, AttemptTimeout: 2 * time.Second},
		app.SystemClock{}, logger)

	registry := channel.NewRegistry(channel.NewChatAdapters(f.reliability, logger, telegram, whatsapp)...)
	f.inbound = app.NewInboundService(router, registry, nil, nil, app.InboundOptions{}, logger)

	webhooks := httpapi.NewWebhookHandler(f.inbound, router, "https://gateway.example.com", "org-default", logger)
	admin := httpapi.NewAdminHandler(registry, f.reliability, httpapi.RegistryCatalog{Registry: registry, Router: router}, validator.New(), logger)
	handler := httpapi.NewRouter(httpapi.RouterConfig{
		JWTSecret:      f.secret,
		WebhookLimiter: limiter,
		RequestTimeout: 5 * time.Second,
	}, webhooks, admin, logger)

	f.server = httptest.NewServer(handler)
	t.Cleanup(f.server.Close)
	return f
}

func (f *gatewayFixture) token(t *testing.T, orgID string) string {
	t.Helper()
	tok, err := middleware.IssueToken(f.secret, orgID, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (f *gatewayFixture) do(t *testing.T, method, path, token string, header http.Header, body []byte, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	if out != nil && len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	f := newGatewayFixture(t, nil)

	var health map[string]string
	resp := f.do(t, http.MethodGet, "/healthz", "", nil, nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	resp = f.do(t, http.MethodGet, "/metrics", "", nil, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "channel_gateway_http_requests_total")
}

func TestRouter_APIRequiresToken(t *testing.T) {
	f := newGatewayFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/v1/channels", "", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := middleware.IssueToken([]byte("someone-else"), "org-1", time.Hour)
	require.NoError(t, err)
	resp = f.do(t, http.MethodGet, "/api/v1/channels", other, nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_WebhookRateLimit(t *testing.T) {
	f := newGatewayFixture(t, middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0, Burst: 1}))
	header := http.Header{provider.TelegramSecretHeader: {testTelegramToken}, "Content-Type": {"application/json"}}

	resp := f.do(t, http.MethodPost, "/webhooks/telegram", "", header, telegramUpdate(1, 42, "hi"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/webhooks/telegram", "", header, telegramUpdate(2, 42, "again"), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	// The organization API has its own budget.
	resp = f.do(t, http.MethodGet, "/api/v1/channels", f.token(t, "org-1"), nil, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
