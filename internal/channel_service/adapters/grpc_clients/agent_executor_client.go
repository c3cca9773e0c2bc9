package grpc_clients

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AgentExecuteMethod is the full gRPC method name served by the agent runtime.
const AgentExecuteMethod = "/agent.v1.AgentExecutor/Execute"

// DefaultAgentTimeout bounds one Execute call when none is configured.
const DefaultAgentTimeout = 30 * time.Second

// AgentExecutorClient calls the agent runtime. Requests and replies are
// google.protobuf.Struct messages: {agentId, conversationId, text} -> {content, sources}.
type AgentExecutorClient struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
	logger  *slog.Logger
}

// NewAgentExecutorClient dials target without blocking; the connection is established lazily.
func NewAgentExecutorClient(ctx context.Context, target string, timeout time.Duration, logger *slog.Logger) (*AgentExecutorClient, error) {
	// TODO: switch to mTLS credentials once the agent runtime terminates TLS.
	conn, err := grpc.DialContext(ctx, target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial agent executor at %s: %w", target, err)
	}
	logger.Info("Agent executor client created", "target", target)
	c := NewAgentExecutorClientFromConn(conn, timeout, logger)
	c.closer = conn.Close
	return c, nil
}

// NewAgentExecutorClientFromConn wraps an existing connection. Close does not close it.
func NewAgentExecutorClientFromConn(conn grpc.ClientConnInterface, timeout time.Duration, logger *slog.Logger) *AgentExecutorClient {
	if timeout <= 0 {
		timeout = DefaultAgentTimeout
	}
	return &AgentExecutorClient{
		conn:    conn,
		timeout: timeout,
		logger:  logger.With("client", "agent_executor"),
	}
}

// Execute asks the agent to answer text within the given conversation.
func (c *AgentExecutorClient) Execute(ctx context.Context, agentID, conversationID, text string) (*domain.AgentReply, error) {
	if agentID == "" {
		return nil, errors.New("agent id is required")
	}
	req, err := structpb.NewStruct(map[string]any{
		"agentId":        agentID,
		"conversationId": conversationID,
		"text":           text,
	})
	if err != nil {
		return nil, fmt.Errorf("building agent request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, AgentExecuteMethod, req, res); err != nil {
		if status.Code(err) == codes.Unavailable {
			c.logger.WarnContext(ctx, "Agent executor unavailable", "agent_id", agentID)
		} else {
			c.logger.ErrorContext(ctx, "Execute RPC call failed", "agent_id", agentID, "conversation_id", conversationID, "error", err)
		}
		return nil, fmt.Errorf("agent execute: %w", err)
	}
	return replyFromStruct(res), nil
}

func replyFromStruct(s *structpb.Struct) *domain.AgentReply {
	fields := s.GetFields()
	reply := &domain.AgentReply{Content: fields["content"].GetStringValue()}
	for _, v := range fields["sources"].GetListValue().GetValues() {
		if src := v.GetStringValue(); src != "" {
			reply.Sources = append(reply.Sources, src)
		}
	}
	return reply
}

func (c *AgentExecutorClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
