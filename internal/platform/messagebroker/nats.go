package messagebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned when the client has no live connection.
var ErrNotConnected = errors.New("nats client not connected")

// NatsClient wraps a core NATS connection.
type NatsClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNatsClient connects to natsURL, e.g. "nats://localhost:4222". Reconnects forever once connected.
func NewNatsClient(natsURL, appName string, logger *slog.Logger) (*NatsClient, error) {
	logger = logger.With("component", "nats_client")
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl())
	return &NatsClient{conn: nc, logger: logger}, nil
}

// Publish sends data on subject. The context is checked before the write; core NATS publish does not block.
func (c *NatsClient) Publish(ctx context.Context, subject string, data []byte) error {
	if c == nil || c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler on subject. A non-empty queueGroup load-balances messages across instances.
// The subscription is drained when ctx is done.
func (c *NatsClient) Subscribe(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error) {
	if c == nil || c.conn == nil {
		return nil, ErrNotConnected
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queueGroup != "" {
		sub, err = c.conn.QueueSubscribe(subject, queueGroup, handler)
	} else {
		sub, err = c.conn.Subscribe(subject, handler)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	c.logger.Info("Subscribed", "subject", subject, "queue_group", queueGroup)

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("Failed to drain subscription", "subject", subject, "error", err)
		}
	}()
	return sub, nil
}

// Connected reports whether the connection is currently up.
func (c *NatsClient) Connected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// Close drains pending messages and closes the connection.
func (c *NatsClient) Close() {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("NATS drain failed, closing", "error", err)
		c.conn.Close()
	}
}
