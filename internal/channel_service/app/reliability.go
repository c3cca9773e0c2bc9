package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/oklog/ulid/v2"
)

// DefaultSLAWindowDays is the report window when the caller does not pick one.
const DefaultSLAWindowDays = 7

// OutgoingRouter is the part of ChannelRouter the reliability layer depends on.
type OutgoingRouter interface {
	RouteOutgoing(ctx context.Context, channelType string, cfg domain.ChannelConfig, recipientID, content string) (*provider.SendResult, error)
}

// SLAEventSink persists delivery attempt events.
type SLAEventSink interface {
	Record(ctx context.Context, event domain.SLAEvent) error
}

// SLAEventReader reads an organization's events back for reporting.
type SLAEventReader interface {
	ListSince(ctx context.Context, orgID string, since time.Time) ([]domain.SLAEvent, error)
}

// Retry states, logged on each transition.
const (
	stateAttempting = "attempting"
	stateBackingOff = "backing_off"
	stateRetrying   = "retrying"
	stateDelivered  = "delivered"
	stateExhausted  = "exhausted"
)

// ReliabilityService wraps outbound routing with retries, SLA events and a dead-letter queue.
type ReliabilityService struct {
	router OutgoingRouter
	sink   SLAEventSink
	reader SLAEventReader
	dlq    *DeadLetterQueue
	policy RetryPolicy
	clock  Clock
	logger *slog.Logger
}

func NewReliabilityService(
	router OutgoingRouter,
	sink SLAEventSink,
	reader SLAEventReader,
	dlq *DeadLetterQueue,
	policy RetryPolicy,
	clock Clock,
	logger *slog.Logger,
) *ReliabilityService {
	if dlq == nil {
		dlq = NewDeadLetterQueue(DefaultDeadLetterCapacity)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ReliabilityService{
		router: router,
		sink:   sink,
		reader: reader,
		dlq:    dlq,
		policy: policy.normalized(),
		clock:  clock,
		logger: logger.With("component", "reliability"),
	}
}

// SendWithRetry delivers content, retrying failed attempts with exponential backoff.
// After the final failure the message is dead-lettered and an *domain.ExhaustedRetriesError
// wrapping the last provider error is returned. Unknown channels fail immediately.
//
// The retry sequence is detached from the caller's cancellation so it always ends
// in delivery or in the dead-letter queue.
func (s *ReliabilityService) SendWithRetry(ctx context.Context, orgID, channelType string, cfg domain.ChannelConfig, recipientID, content string) (*domain.DeliveryResult, error) {
	ctx = context.WithoutCancel(ctx)
	ct := domain.Normalize(channelType)
	logger := s.logger.With("organization_id", orgID, "channel_type", string(ct), "recipient", recipientID)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		state := stateAttempting
		if attempt > 1 {
			state = stateRetrying
		}
		logger.DebugContext(ctx, "Delivery state", "state", state, "attempt", attempt)
		attempts = attempt
		deliveryAttemptsCounter.WithLabelValues(string(ct)).Inc()

		started := s.clock.Now()
		res, err := s.attempt(ctx, string(ct), cfg, recipientID, content)
		latency := s.clock.Now().Sub(started)

		if err == nil {
			s.record(ctx, domain.SLAEvent{
				OrganizationID: orgID,
				ChannelType:    ct,
				Status:         domain.SLADelivered,
				Attempt:        attempt,
				LatencyMs:      latency.Milliseconds(),
				OccurredAt:     s.clock.Now().UTC(),
			})
			deliveriesCounter.WithLabelValues(string(ct), string(domain.SLADelivered)).Inc()
			logger.InfoContext(ctx, "Delivery state", "state", stateDelivered, "attempt", attempt, "latency_ms", latency.Milliseconds())

			status := res.Status
			if status == "" {
				status = domain.DeliverySent
			}
			return &domain.DeliveryResult{MessageID: res.MessageID, Status: status, Provider: string(ct)}, nil
		}

		if errors.Is(err, domain.ErrUnknownChannel) {
			return nil, err
		}

		lastErr = err
		s.record(ctx, domain.SLAEvent{
			OrganizationID: orgID,
			ChannelType:    ct,
			Status:         domain.SLAFailed,
			Attempt:        attempt,
			LatencyMs:      latency.Milliseconds(),
			Error:          err.Error(),
			OccurredAt:     s.clock.Now().UTC(),
		})
		logger.WarnContext(ctx, "Delivery attempt failed", "attempt", attempt, "error", err)

		if attempt < s.policy.MaxAttempts {
			wait := s.policy.Backoff(attempt)
			logger.DebugContext(ctx, "Delivery state", "state", stateBackingOff, "attempt", attempt, "backoff", wait.String())
			retryBackoffHist.WithLabelValues(string(ct)).Observe(wait.Seconds())
			if sleepErr := s.clock.Sleep(ctx, wait); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	item := domain.DeadLetterItem{
		ID:             newDeadLetterID(s.clock.Now()),
		OrganizationID: orgID,
		ChannelType:    ct,
		RecipientID:    recipientID,
		Content:        content,
		Config:         cfg.Clone(),
		Reason:         lastErr.Error(),
		FailedAt:       s.clock.Now().UTC(),
	}
	if evicted := s.dlq.Push(item); evicted > 0 {
		logger.WarnContext(ctx, "Dead-letter queue full, evicted oldest items", "evicted", evicted)
	}
	deadLetterQueueSizeGauge.Set(float64(s.dlq.Len()))
	deliveriesCounter.WithLabelValues(string(ct), string(domain.SLAFailed)).Inc()
	logger.ErrorContext(ctx, "Delivery state", "state", stateExhausted, "attempts", attempts, "dead_letter_id", item.ID, "error", lastErr)

	return nil, &domain.ExhaustedRetriesError{Attempts: attempts, DeadLetterID: item.ID, Err: lastErr}
}

// attempt runs one routed send under the per-attempt timeout.
func (s *ReliabilityService) attempt(ctx context.Context, channelType string, cfg domain.ChannelConfig, recipientID, content string) (*provider.SendResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.policy.AttemptTimeout)
	defer cancel()

	res, err := s.router.RouteOutgoing(attemptCtx, channelType, cfg, recipientID, content)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%s provider returned no result", channelType)
	}
	return res, nil
}

func (s *ReliabilityService) record(ctx context.Context, event domain.SLAEvent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Record(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record SLA event", "error", err,
			"organization_id", event.OrganizationID, "status", event.Status, "attempt", event.Attempt)
	}
}

// GetChannelSLA aggregates the organization's SLA events over the last days (7 when days <= 0).
func (s *ReliabilityService) GetChannelSLA(ctx context.Context, orgID string, days int) (*domain.SLAReport, error) {
	if days <= 0 {
		days = DefaultSLAWindowDays
	}
	now := s.clock.Now().UTC()
	report := &domain.SLAReport{
		OrganizationID:      orgID,
		WindowDays:          days,
		Channels:            []domain.ChannelSLA{},
		DeadLetterQueueSize: s.dlq.Len(),
		GeneratedAt:         now,
	}
	if s.reader == nil {
		return report, nil
	}

	events, err := s.reader.ListSince(ctx, orgID, now.AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("failed to read SLA events: %w", err)
	}
	report.Channels = AggregateSLA(events)
	return report, nil
}

// AggregateSLA groups events by channel, sorted by channel type.
func AggregateSLA(events []domain.SLAEvent) []domain.ChannelSLA {
	type acc struct {
		delivered, failed int
		totalLatency      int64
	}
	byChannel := make(map[domain.ChannelType]*acc)
	for _, e := range events {
		a := byChannel[e.ChannelType]
		if a == nil {
			a = &acc{}
			byChannel[e.ChannelType] = a
		}
		switch e.Status {
		case domain.SLADelivered:
			a.delivered++
		case domain.SLAFailed:
			a.failed++
		default:
			continue
		}
		a.totalLatency += e.LatencyMs
	}

	out := make([]domain.ChannelSLA, 0, len(byChannel))
	for ct, a := range byChannel {
		attempts := a.delivered + a.failed
		sla := domain.ChannelSLA{
			ChannelType: ct,
			Delivered:   a.delivered,
			Failed:      a.failed,
			Attempts:    attempts,
		}
		if attempts > 0 {
			sla.DeliverySuccessRate = math.Round(float64(a.delivered)/float64(attempts)*10000) / 100
			sla.AvgLatencyMs = int64(math.Round(float64(a.totalLatency) / float64(attempts)))
		}
		out = append(out, sla)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelType < out[j].ChannelType })
	return out
}

// GetDeadLetterQueue lists the organization's dead letters, newest first.
func (s *ReliabilityService) GetDeadLetterQueue(orgID string, limit int) []domain.DeadLetterItem {
	return s.dlq.List(orgID, limit)
}

// RetryDeadLetterItem replays a dead letter owned by orgID. Items of other organizations
// are reported as domain.ErrNotFound. On success the item leaves the queue.
func (s *ReliabilityService) RetryDeadLetterItem(ctx context.Context, orgID, id string) (*domain.DeliveryResult, error) {
	item, ok := s.dlq.Find(orgID, id)
	if !ok {
		return nil, fmt.Errorf("dead letter %q: %w", id, domain.ErrNotFound)
	}
	s.logger.InfoContext(ctx, "Replaying dead letter", "organization_id", orgID, "dead_letter_id", id, "channel_type", item.ChannelType)

	res, err := s.SendWithRetry(ctx, orgID, string(item.ChannelType), item.Config, item.RecipientID, item.Content)
	if err != nil {
		// The failed replay was dead-lettered under a new id; that entry replaces this one.
		var exhausted *domain.ExhaustedRetriesError
		if errors.As(err, &exhausted) {
			s.dlq.Remove(orgID, id)
			deadLetterQueueSizeGauge.Set(float64(s.dlq.Len()))
		}
		return nil, err
	}
	if !s.dlq.Remove(orgID, id) {
		s.logger.WarnContext(ctx, "Replayed dead letter was already gone from the queue", "dead_letter_id", id)
	}
	deadLetterQueueSizeGauge.Set(float64(s.dlq.Len()))
	return res, nil
}

// DeadLetterQueueSize is the global queue size.
func (s *ReliabilityService) DeadLetterQueueSize() int {
	return s.dlq.Len()
}

// newDeadLetterID is a ULID: millisecond timestamp plus random suffix.
func newDeadLetterID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0)).String()
}
