package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
)

const (
	SendJobSubject    = "channel.jobs.send"
	SendJobQueueGroup = "channel_senders"
)

// SendJob is the JSON body of a message on channel.jobs.send.
type SendJob struct {
	OrganizationID string            `json:"organization_id" validate:"required"`
	ChannelType    string            `json:"channel_type" validate:"required"`
	RecipientID    string            `json:"recipient_id" validate:"required"`
	Content        string            `json:"content" validate:"required"`
	Config         map[string]string `json:"config,omitempty"`
}

// JobSubscriber is satisfied by *messagebroker.NatsClient.
type JobSubscriber interface {
	Subscribe(ctx context.Context, subject, queueGroup string, handler nats.MsgHandler) (*nats.Subscription, error)
}

// ReliableSender is satisfied by *ReliabilityService.
type ReliableSender interface {
	SendWithRetry(ctx context.Context, orgID, channelType string, cfg domain.ChannelConfig, recipientID, content string) (*domain.DeliveryResult, error)
}

// JobConsumer drains send jobs from NATS into the retrying send path.
type JobConsumer struct {
	subscriber JobSubscriber
	sender     ReliableSender
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewJobConsumer(subscriber JobSubscriber, sender ReliableSender, logger *slog.Logger) *JobConsumer {
	return &JobConsumer{
		subscriber: subscriber,
		sender:     sender,
		validate:   validator.New(),
		logger:     logger.With("component", "job_consumer"),
	}
}

// Start subscribes on channel.jobs.send in the channel_senders queue group. It returns once subscribed;
// the subscription is drained when ctx ends.
func (c *JobConsumer) Start(ctx context.Context) error {
	if c.subscriber == nil {
		return errors.New("NATS client not initialized in JobConsumer")
	}
	c.logger.Info("Starting NATS job consumer", "subject", SendJobSubject, "queue_group", SendJobQueueGroup)
	if _, err := c.subscriber.Subscribe(ctx, SendJobSubject, SendJobQueueGroup, c.HandleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to NATS subject '%s': %w", SendJobSubject, err)
	}
	return nil
}

// HandleMessage processes one job. When the message has a reply subject the DeliveryResult is sent back.
func (c *JobConsumer) HandleMessage(msg *nats.Msg) {
	natsJobsReceivedCounter.WithLabelValues(msg.Subject).Inc()

	res, err := c.ProcessJob(context.Background(), msg.Data)
	if err != nil {
		c.logger.Error("Failed to process send job", "error", err)
	}
	if msg.Reply == "" {
		return
	}
	if res == nil {
		res = &domain.DeliveryResult{Status: domain.DeliveryFailed, Error: err.Error()}
	}
	data, mErr := json.Marshal(res)
	if mErr != nil {
		c.logger.Error("Failed to marshal job result", "error", mErr)
		return
	}
	if rErr := msg.Respond(data); rErr != nil {
		c.logger.Warn("Failed to respond to job requester", "reply", msg.Reply, "error", rErr)
	}
}

// ProcessJob decodes, validates and sends one job. An exhausted job is already in the dead-letter queue
// when the error comes back.
func (c *JobConsumer) ProcessJob(ctx context.Context, data []byte) (*domain.DeliveryResult, error) {
	var job SendJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := c.validate.Struct(job); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if _, err := domain.ParseChannelType(job.ChannelType); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	logger := c.logger.With("organization_id", job.OrganizationID, "channel_type", job.ChannelType)
	logger.InfoContext(ctx, "Processing send job", "recipient_id", job.RecipientID)

	res, err := c.sender.SendWithRetry(ctx, job.OrganizationID, job.ChannelType, domain.ChannelConfig(job.Config), job.RecipientID, job.Content)
	if err != nil {
		var exhausted *domain.ExhaustedRetriesError
		if errors.As(err, &exhausted) {
			logger.WarnContext(ctx, "Send job dead-lettered", "dead_letter_id", exhausted.DeadLetterID, "attempts", exhausted.Attempts)
		}
		return res, err
	}
	return res, nil
}
