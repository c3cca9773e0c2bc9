package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultHTTPTimeout bounds a single outbound provider call when no client is injected.
const DefaultHTTPTimeout = 10 * time.Second

// maxResponseBody caps how much of a provider response is read into memory.
const maxResponseBody = 1 << 20

// SendResult is what a provider reports for an accepted outbound message.
type SendResult struct {
	MessageID string
	Status    domain.DeliveryStatus
}

// IncomingMessage is the provider-level view of an inbound webhook,
// before adapters canonicalize it.
type IncomingMessage struct {
	SenderID       string
	SenderName     string
	Content        string
	ContentType    domain.ContentType
	MessageID      string
	ConversationID string
	Timestamp      time.Time
	Metadata       map[string]any
}

// WebhookPayload is an inbound webhook request as seen by a provider.
type WebhookPayload struct {
	// Body is the decoded JSON body (nil for form-encoded webhooks).
	Body map[string]any
	// RawBody is the exact request body used for signature checks.
	RawBody []byte
	// Form holds form-encoded POST fields (Twilio).
	Form url.Values
	// Query holds URL query parameters.
	Query url.Values
	// Subscription marks a GET hub.challenge check. Only then is hub.verify_token
	// accepted in place of a body signature.
	Subscription bool
	// SlackTimestamp is the X-Slack-Request-Timestamp header.
	SlackTimestamp string
	// WebhookURL is the public URL the webhook was delivered to (Twilio).
	WebhookURL string
}

// PartialParser recovers whatever fields an incomplete webhook body carries.
// The message is never nil; the error names the first missing required field.
type PartialParser interface {
	ParsePartial(payload WebhookPayload) (*IncomingMessage, error)
}

// ChannelProvider sends to and receives from one external messaging network.
type ChannelProvider interface {
	Name() domain.ChannelType
	SendMessage(ctx context.Context, cfg domain.ChannelConfig, recipientID, content string) (*SendResult, error)
	HandleIncoming(ctx context.Context, payload WebhookPayload) (*IncomingMessage, error)
	VerifyWebhook(payload WebhookPayload, signature string) bool
	IsConfigured() bool
}

// httpCaller holds what every HTTP-backed provider shares.
type httpCaller struct {
	channel    domain.ChannelType
	logger     *slog.Logger
	httpClient *http.Client
}

func newHTTPCaller(channel domain.ChannelType, logger *slog.Logger, httpClient *http.Client) httpCaller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return httpCaller{
		channel:    channel,
		logger:     logger.With("provider", string(channel)),
		httpClient: httpClient,
	}
}

// do executes req and returns the status code and body. Network failures come
// back as transport ProviderErrors; status handling is left to the caller.
func (c httpCaller) do(ctx context.Context, req *http.Request) (int, []byte, error) {
	timer := prometheus.NewTimer(providerRequestDurationHist.WithLabelValues(string(c.channel)))
	defer timer.ObserveDuration()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "Provider request failed", "host", req.URL.Host, "error", err)
		providerErrorsCounter.WithLabelValues(string(c.channel), string(domain.ProviderErrorTransport)).Inc()
		return 0, nil, &domain.ProviderError{Channel: c.channel, Kind: domain.ProviderErrorTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to read provider response body", "status_code", resp.StatusCode, "error", err)
		providerErrorsCounter.WithLabelValues(string(c.channel), string(domain.ProviderErrorTransport)).Inc()
		return resp.StatusCode, nil, &domain.ProviderError{
			Channel: c.channel, Kind: domain.ProviderErrorTransport, StatusCode: resp.StatusCode, Err: err,
		}
	}
	c.logger.DebugContext(ctx, "Received provider response", "status_code", resp.StatusCode, "body_size", len(body))
	return resp.StatusCode, body, nil
}

func (c httpCaller) postJSON(ctx context.Context, endpoint string, payload any, header http.Header) (int, []byte, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", c.channel, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s HTTP request: %w", c.channel, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req)
}

// statusError builds the error for a non-2xx response.
func (c httpCaller) statusError(status int, body []byte) error {
	providerErrorsCounter.WithLabelValues(string(c.channel), string(domain.ProviderErrorTransport)).Inc()
	return &domain.ProviderError{
		Channel:    c.channel,
		Kind:       domain.ProviderErrorTransport,
		StatusCode: status,
		Message:    errorMessageFromBody(body),
	}
}

// applicationError builds the error for a structured rejection or an unusable response body.
func (c httpCaller) applicationError(status int, msg string) error {
	providerErrorsCounter.WithLabelValues(string(c.channel), string(domain.ProviderErrorApplication)).Inc()
	return &domain.ProviderError{
		Channel:    c.channel,
		Kind:       domain.ProviderErrorApplication,
		StatusCode: status,
		Message:    msg,
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// errorMessageFromBody extracts a readable reason from common provider error shapes.
func errorMessageFromBody(body []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err == nil {
		if e := asMap(parsed["error"]); e != nil {
			if msg := asString(e["message"]); msg != "" {
				return msg
			}
		}
		for _, key := range []string{"description", "message", "error"} {
			if msg := asString(parsed[key]); msg != "" {
				return msg
			}
		}
	}
	if len(body) > 0 && len(body) < 200 {
		return string(body)
	}
	return ""
}
