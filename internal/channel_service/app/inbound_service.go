package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aradsms/channel_gateway/internal/channel_service/adapters/channel"
	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/patrickmn/go-cache"
)

// IncomingSubjectPrefix is followed by the channel type, e.g. channel.incoming.WHATSAPP.
const IncomingSubjectPrefix = "channel.incoming."

const (
	defaultDedupeTTL    = 10 * time.Minute
	defaultReplyTimeout = 60 * time.Second
)

// MessagePublisher is satisfied by *messagebroker.NatsClient.
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// AgentExecutor produces the reply to an inbound message.
type AgentExecutor interface {
	Execute(ctx context.Context, agentID, conversationID, text string) (*domain.AgentReply, error)
}

// AdapterResolver is satisfied by *channel.Registry.
type AdapterResolver interface {
	Get(channelType string) (channel.Adapter, error)
}

// IncomingRouter is the part of ChannelRouter the inbound pipeline depends on.
type IncomingRouter interface {
	RouteIncoming(ctx context.Context, channelType string, payload provider.WebhookPayload, signature string) (*provider.IncomingMessage, error)
}

// InboundRequest is one webhook delivery as received by the transport.
type InboundRequest struct {
	OrganizationID string
	ChannelType    string
	Header         http.Header
	Payload        provider.WebhookPayload
	Signature      string
	// Config carries per-organization credentials for the reply send.
	Config  domain.ChannelConfig
	AgentID string
}

// InboundResult reports what the pipeline did with a webhook.
type InboundResult struct {
	Message        domain.UnifiedIncomingMessage
	ConversationID string
	Duplicate      bool
	// Challenge is set for handshake deliveries (Slack url_verification); nothing else runs.
	Challenge string
}

// IncomingEvent is published on channel.incoming.{type}.
type IncomingEvent struct {
	OrganizationID string                        `json:"organizationId"`
	ConversationID string                        `json:"conversationId"`
	Message        domain.UnifiedIncomingMessage `json:"message"`
	ReceivedAt     time.Time                     `json:"receivedAt"`
}

type InboundOptions struct {
	DedupeTTL      time.Duration
	ReplyTimeout   time.Duration
	DefaultAgentID string
}

// InboundService runs verify, normalize, de-duplicate and publish for inbound webhooks, then
// asks the agent for a reply and sends it back on the same channel in the background.
type InboundService struct {
	router    IncomingRouter
	adapters  AdapterResolver
	publisher MessagePublisher
	agent     AgentExecutor
	seen      *cache.Cache
	opts      InboundOptions
	now       func() time.Time
	logger    *slog.Logger

	replies sync.WaitGroup
}

// NewInboundService wires the pipeline. publisher and agent may be nil; the matching steps are skipped.
func NewInboundService(router IncomingRouter, adapters AdapterResolver, publisher MessagePublisher, agent AgentExecutor, opts InboundOptions, logger *slog.Logger) *InboundService {
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = defaultReplyTimeout
	}
	return &InboundService{
		router:    router,
		adapters:  adapters,
		publisher: publisher,
		agent:     agent,
		seen:      cache.New(opts.DedupeTTL, 2*opts.DedupeTTL),
		opts:      opts,
		now:       time.Now,
		logger:    logger.With("component", "inbound_service"),
	}
}

// HandleWebhook fails with ErrUnknownChannel, ErrWebhookVerification or ErrInvalidPayload
// (all wrapped). Agent and reply failures are logged, never returned.
func (s *InboundService) HandleWebhook(ctx context.Context, req InboundRequest) (*InboundResult, error) {
	adapter, err := s.adapters.Get(req.ChannelType)
	if err != nil {
		return nil, err
	}
	ct := adapter.ChannelType()

	msg, challenge, err := s.normalize(ctx, adapter, req)
	if err != nil {
		inboundMessagesCounter.WithLabelValues(string(ct), outcomeFor(err)).Inc()
		return nil, err
	}
	if challenge != "" {
		return &InboundResult{Challenge: challenge}, nil
	}

	result := &InboundResult{Message: msg, ConversationID: ConversationID(msg)}
	if msg.ChannelMessageID != "" {
		key := req.OrganizationID + "|" + string(ct) + "|" + msg.ChannelMessageID
		if err := s.seen.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
			s.logger.InfoContext(ctx, "Duplicate webhook delivery ignored", "channel_type", ct, "channel_message_id", msg.ChannelMessageID)
			inboundMessagesCounter.WithLabelValues(string(ct), "duplicate").Inc()
			result.Duplicate = true
			return result, nil
		}
	}
	inboundMessagesCounter.WithLabelValues(string(ct), "processed").Inc()

	s.publish(ctx, req.OrganizationID, result)

	agentID := req.AgentID
	if agentID == "" {
		agentID = req.Config.Get(domain.ConfigAgentID, s.opts.DefaultAgentID)
	}
	if isBot, _ := msg.Metadata["isBot"].(bool); isBot {
		return result, nil
	}
	if s.agent != nil && agentID != "" && msg.Content != "" {
		s.replies.Add(1)
		go func() {
			defer s.replies.Done()
			replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ReplyTimeout)
			defer cancel()
			s.reply(replyCtx, adapter, req, agentID, result)
		}()
	}
	return result, nil
}

// Wait blocks until background replies have finished.
func (s *InboundService) Wait() {
	s.replies.Wait()
}

func (s *InboundService) normalize(ctx context.Context, adapter channel.Adapter, req InboundRequest) (domain.UnifiedIncomingMessage, string, error) {
	ct := adapter.ChannelType()
	if !ct.HasProvider() {
		if !adapter.VerifyWebhook(req.Header, req.Payload.RawBody) {
			return domain.UnifiedIncomingMessage{}, "", fmt.Errorf("%w: %s", domain.ErrWebhookVerification, ct)
		}
		return adapter.NormalizeIncoming(ctx, req.Payload.Body), "", nil
	}

	incoming, err := s.router.RouteIncoming(ctx, string(ct), req.Payload, req.Signature)
	if err != nil {
		return domain.UnifiedIncomingMessage{}, "", err
	}
	if challenge, ok := incoming.Metadata["challenge"].(string); ok && challenge != "" {
		return domain.UnifiedIncomingMessage{}, challenge, nil
	}
	if chat, ok := adapter.(*channel.ChatAdapter); ok {
		return chat.FromIncoming(incoming), "", nil
	}
	return adapter.NormalizeIncoming(ctx, req.Payload.Body), "", nil
}

func (s *InboundService) publish(ctx context.Context, orgID string, result *InboundResult) {
	if s.publisher == nil {
		return
	}
	data, err := json.Marshal(IncomingEvent{
		OrganizationID: orgID,
		ConversationID: result.ConversationID,
		Message:        result.Message,
		ReceivedAt:     s.now().UTC(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal incoming event", "error", err)
		return
	}
	subject := IncomingSubjectPrefix + string(result.Message.ChannelType)
	if err := s.publisher.Publish(ctx, subject, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish incoming event", "subject", subject, "error", err)
	}
}

func (s *InboundService) reply(ctx context.Context, adapter channel.Adapter, req InboundRequest, agentID string, result *InboundResult) {
	msg := result.Message
	ct := adapter.ChannelType()
	logger := s.logger.With("organization_id", req.OrganizationID, "channel_type", ct, "conversation_id", result.ConversationID)

	answer, err := s.agent.Execute(ctx, agentID, result.ConversationID, msg.Content)
	if err != nil {
		logger.ErrorContext(ctx, "Agent execution failed", "agent_id", agentID, "error", err)
		inboundMessagesCounter.WithLabelValues(string(ct), "error_agent").Inc()
		return
	}
	if answer == nil || answer.Content == "" {
		logger.DebugContext(ctx, "Agent returned no reply")
		return
	}

	out := domain.UnifiedOutgoingMessage{
		Content:               answer.Content,
		ContentType:           domain.ContentText,
		ChannelType:           ct,
		ChannelConversationID: msg.ChannelConversationID,
	}
	if len(answer.Sources) > 0 {
		out.Metadata = map[string]any{"sources": answer.Sources}
	}
	if subject, _ := msg.Metadata["subject"].(string); subject != "" {
		out.Subject = "Re: " + subject
	}

	if _, err := adapter.SendMessage(ctx, req.OrganizationID, req.Config, ReplyRecipient(msg), out); err != nil {
		logger.ErrorContext(ctx, "Failed to send agent reply", "error", err)
		inboundMessagesCounter.WithLabelValues(string(ct), "error_reply").Inc()
		return
	}
	inboundMessagesCounter.WithLabelValues(string(ct), "replied").Inc()
	logger.InfoContext(ctx, "Agent reply sent")
}

// ConversationID keys a conversation as {channel}:{channelConversationId}, falling back to the sender.
func ConversationID(msg domain.UnifiedIncomingMessage) string {
	key := msg.ChannelConversationID
	if key == "" {
		key = msg.SenderID
	}
	return string(msg.ChannelType) + ":" + key
}

// ReplyRecipient is the address a reply to msg goes to. Slack and Telegram reply into the
// channel or chat, email to the sender's address, everything else to the sender id.
func ReplyRecipient(msg domain.UnifiedIncomingMessage) string {
	switch msg.ChannelType {
	case domain.ChannelSlack, domain.ChannelTelegram:
		if msg.ChannelConversationID != "" {
			return msg.ChannelConversationID
		}
	case domain.ChannelEmail:
		if msg.SenderEmail != "" {
			return msg.SenderEmail
		}
	}
	return msg.SenderID
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrWebhookVerification):
		return "error_verification"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "error_payload"
	default:
		return "error"
	}
}
