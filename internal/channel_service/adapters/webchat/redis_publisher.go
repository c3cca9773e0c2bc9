package webchat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix namespaces the pub/sub channel of each conversation.
const ChannelPrefix = "webchat:"

// RedisPublisher pushes outbound web-chat messages to the socket servers via Redis pub/sub.
type RedisPublisher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisPublisher(client redis.UniversalClient, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger.With("component", "webchat_publisher")}
}

// Publish sends payload to webchat:{conversationID}. Zero subscribers is not an error;
// the widget fetches history when it reconnects.
func (p *RedisPublisher) Publish(ctx context.Context, conversationID string, payload []byte) error {
	receivers, err := p.client.Publish(ctx, ChannelPrefix+conversationID, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish web-chat message: %w", err)
	}
	p.logger.DebugContext(ctx, "Published web-chat message", "conversation_id", conversationID, "receivers", receivers)
	return nil
}
