package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// ChannelRouter dispatches sends and webhooks to the provider registered for a channel type.
// The registry is fixed at construction and only read afterwards.
type ChannelRouter struct {
	providers map[domain.ChannelType]provider.ChannelProvider
	order     []domain.ChannelType
	logger    *slog.Logger
}

// NewChannelRouter registers providers by their Name(). A later provider with the same name replaces an earlier one.
func NewChannelRouter(logger *slog.Logger, providers ...provider.ChannelProvider) *ChannelRouter {
	r := &ChannelRouter{
		providers: make(map[domain.ChannelType]provider.ChannelProvider, len(providers)),
		logger:    logger.With("component", "router"),
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, exists := r.providers[name]; !exists {
			r.order = append(r.order, name)
		}
		r.providers[name] = p
	}
	return r
}

// GetProvider looks a provider up by a case-insensitive channel token.
func (r *ChannelRouter) GetProvider(channelType string) (provider.ChannelProvider, bool) {
	p, ok := r.providers[domain.Normalize(channelType)]
	return p, ok
}

// GetConfiguredProviders returns the registered providers whose credentials are complete.
func (r *ChannelRouter) GetConfiguredProviders() []provider.ChannelProvider {
	out := make([]provider.ChannelProvider, 0, len(r.order))
	for _, name := range r.order {
		if p := r.providers[name]; p.IsConfigured() {
			out = append(out, p)
		}
	}
	return out
}

// RegisteredChannels lists the registered channel types in registration order.
func (r *ChannelRouter) RegisteredChannels() []domain.ChannelType {
	return append([]domain.ChannelType(nil), r.order...)
}

// RouteOutgoing sends content through the provider for channelType. An unconfigured
// provider is logged and still attempted.
func (r *ChannelRouter) RouteOutgoing(ctx context.Context, channelType string, cfg domain.ChannelConfig, recipientID, content string) (*provider.SendResult, error) {
	p, ok := r.GetProvider(channelType)
	if !ok {
		r.logger.WarnContext(ctx, "No provider registered for channel", "channel_type", channelType)
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channelType)
	}
	if !p.IsConfigured() {
		r.logger.WarnContext(ctx, "Provider is missing default credentials, sending anyway",
			"channel_type", p.Name(), "error", domain.ErrNotConfigured)
	}
	return p.SendMessage(ctx, cfg, recipientID, content)
}

// RouteIncoming verifies a webhook and returns the provider's parse of it.
func (r *ChannelRouter) RouteIncoming(ctx context.Context, channelType string, payload provider.WebhookPayload, signature string) (*provider.IncomingMessage, error) {
	p, ok := r.GetProvider(channelType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channelType)
	}
	if !p.VerifyWebhook(payload, signature) {
		r.logger.WarnContext(ctx, "Webhook verification failed", "channel_type", p.Name())
		webhookVerificationFailuresCounter.WithLabelValues(string(p.Name())).Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrWebhookVerification, p.Name())
	}
	return p.HandleIncoming(ctx, payload)
}

// VerifyWebhook reports whether the webhook is authentic. Unknown channels yield false.
func (r *ChannelRouter) VerifyWebhook(channelType string, payload provider.WebhookPayload, signature string) bool {
	p, ok := r.GetProvider(channelType)
	if !ok {
		return false
	}
	return p.VerifyWebhook(payload, signature)
}
