// Package channel translates between each network's native payloads and the
// unified message model, and folds sends into a DeliveryResult.
package channel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
)

// Adapter is the unified message contract for one channel.
type Adapter interface {
	ChannelType() domain.ChannelType
	// NormalizeIncoming maps a native payload to the canonical shape. It never fails;
	// missing optional fields fall back to defaults.
	NormalizeIncoming(ctx context.Context, raw map[string]any) domain.UnifiedIncomingMessage
	FormatOutgoing(msg domain.UnifiedOutgoingMessage) map[string]any
	SendMessage(ctx context.Context, orgID string, cfg domain.ChannelConfig, recipientID string, msg domain.UnifiedOutgoingMessage) (*domain.DeliveryResult, error)
	VerifyWebhook(header http.Header, body []byte) bool
}

// Registry resolves adapters by channel type. It is built once and read-only afterwards.
type Registry struct {
	adapters map[domain.ChannelType]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ChannelType]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.ChannelType()] = a
		}
	}
	return r
}

// Get looks an adapter up by a case-insensitive channel token.
func (r *Registry) Get(channelType string) (Adapter, error) {
	a, ok := r.adapters[domain.Normalize(channelType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channelType)
	}
	return a, nil
}

// Channels lists the registered channel types in the canonical order.
func (r *Registry) Channels() []domain.ChannelType {
	var out []domain.ChannelType
	for _, ct := range domain.AllChannelTypes {
		if _, ok := r.adapters[ct]; ok {
			out = append(out, ct)
		}
	}
	return out
}

const (
	defaultSender        = "unknown"
	defaultWebchatSender = "visitor"
)

// withDefaults fills the fields normalization must always provide.
func withDefaults(msg domain.UnifiedIncomingMessage, sender string, now time.Time) domain.UnifiedIncomingMessage {
	if msg.SenderID == "" {
		msg.SenderID = sender
	}
	if msg.ContentType == "" {
		msg.ContentType = domain.ContentText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now.UTC()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	return msg
}

func failedResult(ct domain.ChannelType, err error) *domain.DeliveryResult {
	return &domain.DeliveryResult{Status: domain.DeliveryFailed, Provider: string(ct), Error: err.Error()}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
