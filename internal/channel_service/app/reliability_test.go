package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aradsms/channel_gateway/internal/channel_service/provider"
	"github.com/aradsms/channel_gateway/internal/core_channel/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when Sleep is called and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type failingSink struct{}

func (failingSink) Record(context.Context, domain.SLAEvent) error {
	return errors.New("analytics store unavailable")
}

func newTestReliability(t *testing.T, providers ...provider.ChannelProvider) (*ReliabilityService, *MemorySLAStore, *fakeClock) {
	t.Helper()
	store := NewMemorySLAStore()
	clock := newFakeClock()
	router := NewChannelRouter(discardLogger(), providers...)
	svc := NewReliabilityService(router, store, store, NewDeadLetterQueue(DefaultDeadLetterCapacity), DefaultRetryPolicy(), clock, discardLogger())
	return svc, store, clock
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 1000*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 10*time.Second, p.AttemptTimeout)
}

func TestSendWithRetry_FailOnceThenSucceed(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	cfg := domain.ChannelConfig{"accessToken": "tok"}
	wa.On("SendMessage", mock.Anything, cfg, "+15551234567", "Hello").
		Return(nil, &domain.ProviderError{Channel: domain.ChannelWhatsApp, Kind: domain.ProviderErrorTransport, StatusCode: 502}).Once()
	wa.On("SendMessage", mock.Anything, cfg, "+15551234567", "Hello").
		Return(&provider.SendResult{MessageID: "wamid.OK", Status: domain.DeliverySent}, nil).Once()

	svc, store, clock := newTestReliability(t, wa)

	res, err := svc.SendWithRetry(context.Background(), "org-1", "WHATSAPP", cfg, "+15551234567", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.OK", res.MessageID)
	assert.Equal(t, domain.DeliverySent, res.Status)

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.SLAFailed, events[0].Status)
	assert.Equal(t, 1, events[0].Attempt)
	assert.NotEmpty(t, events[0].Error)
	assert.Equal(t, domain.SLADelivered, events[1].Status)
	assert.Equal(t, 2, events[1].Attempt)

	assert.Equal(t, []time.Duration{500 * time.Millisecond}, clock.Sleeps())
	assert.Zero(t, svc.DeadLetterQueueSize())
	wa.AssertExpectations(t)
}

func TestSendWithRetry_SucceedsFirstAttempt(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	wa.On("SendMessage", mock.Anything, mock.Anything, "+1", "hi").
		Return(&provider.SendResult{MessageID: "m1"}, nil).Once()
	svc, store, clock := newTestReliability(t, wa)

	res, err := svc.SendWithRetry(context.Background(), "org-1", "whatsapp", nil, "+1", "hi")
	require.NoError(t, err)
	assert.Equal(t, domain.DeliverySent, res.Status, "empty provider status defaults to sent")

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.SLADelivered, events[0].Status)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Empty(t, clock.Sleeps())
}

func TestSendWithRetry_ExhaustsAndDeadLetters(t *testing.T) {
	tg := &MockChannelProvider{Channel: domain.ChannelTelegram, Configured: true}
	providerErr := &domain.ProviderError{Channel: domain.ChannelTelegram, Kind: domain.ProviderErrorApplication, Message: "chat not found"}
	tg.On("SendMessage", mock.Anything, mock.Anything, "42", "ping").Return(nil, providerErr).Times(3)

	svc, store, clock := newTestReliability(t, tg)
	cfg := domain.ChannelConfig{"botToken": "secret"}

	res, err := svc.SendWithRetry(context.Background(), "org-1", "TELEGRAM", cfg, "42", "ping")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, providerErr, "the original provider error is preserved")

	var exhausted *domain.ExhaustedRetriesError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)

	events := store.Events()
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, domain.SLAFailed, e.Status)
		assert.Equal(t, i+1, e.Attempt)
	}

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}, clock.Sleeps())

	items := svc.GetDeadLetterQueue("org-1", 50)
	require.Len(t, items, 1)
	assert.Equal(t, exhausted.DeadLetterID, items[0].ID)
	assert.Equal(t, domain.ChannelTelegram, items[0].ChannelType)
	assert.Equal(t, "42", items[0].RecipientID)
	assert.Equal(t, "ping", items[0].Content)
	assert.Equal(t, "secret", items[0].Config["botToken"])
	assert.Contains(t, items[0].Reason, "chat not found")
	tg.AssertExpectations(t)
}

func TestSendWithRetry_UnknownChannelIsNotRetried(t *testing.T) {
	svc, store, clock := newTestReliability(t)

	_, err := svc.SendWithRetry(context.Background(), "org-1", "PIGEON", nil, "x", "y")
	assert.ErrorIs(t, err, domain.ErrUnknownChannel)
	assert.Empty(t, store.Events())
	assert.Empty(t, clock.Sleeps())
	assert.Zero(t, svc.DeadLetterQueueSize())
}

func TestSendWithRetry_SinkFailureDoesNotFailDelivery(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	wa.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.SendResult{MessageID: "m1", Status: domain.DeliverySent}, nil)
	router := NewChannelRouter(discardLogger(), wa)
	svc := NewReliabilityService(router, failingSink{}, nil, nil, DefaultRetryPolicy(), newFakeClock(), discardLogger())

	res, err := svc.SendWithRetry(context.Background(), "org-1", "WHATSAPP", nil, "+1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m1", res.MessageID)
}

func TestSendWithRetry_CallerCancellationDoesNotAbortRetries(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	wa.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()
	wa.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&provider.SendResult{MessageID: "m2"}, nil).Once()
	svc, _, _ := newTestReliability(t, wa)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.SendWithRetry(ctx, "org-1", "WHATSAPP", nil, "+1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "m2", res.MessageID)
}

func TestSendWithRetry_AttemptHasDeadline(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	wa.On("SendMessage", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= 10*time.Second
	}), mock.Anything, mock.Anything, mock.Anything).Return(&provider.SendResult{MessageID: "m"}, nil).Once()
	svc, _, _ := newTestReliability(t, wa)

	_, err := svc.SendWithRetry(context.Background(), "org-1", "WHATSAPP", nil, "+1", "hi")
	require.NoError(t, err)
	wa.AssertExpectations(t)
}

func TestGetChannelSLA_SuccessRate(t *testing.T) {
	svc, store, clock := newTestReliability(t)
	ctx := context.Background()
	now := clock.Now()

	for i := 0; i < 7; i++ {
		require.NoError(t, store.Record(ctx, domain.SLAEvent{
			OrganizationID: "org-1", ChannelType: domain.ChannelSlack, Status: domain.SLADelivered,
			Attempt: 1, LatencyMs: 100, OccurredAt: now.Add(-time.Hour),
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Record(ctx, domain.SLAEvent{
			OrganizationID: "org-1", ChannelType: domain.ChannelSlack, Status: domain.SLAFailed,
			Attempt: i + 1, LatencyMs: 205, OccurredAt: now.Add(-time.Hour),
		}))
	}
	// Outside the window and owned by another organization: both ignored.
	require.NoError(t, store.Record(ctx, domain.SLAEvent{
		OrganizationID: "org-1", ChannelType: domain.ChannelSlack, Status: domain.SLAFailed, OccurredAt: now.AddDate(0, 0, -8),
	}))
	require.NoError(t, store.Record(ctx, domain.SLAEvent{
		OrganizationID: "org-2", ChannelType: domain.ChannelSlack, Status: domain.SLAFailed, OccurredAt: now,
	}))

	report, err := svc.GetChannelSLA(ctx, "org-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, report.WindowDays)
	require.Len(t, report.Channels, 1)

	sla := report.Channels[0]
	assert.Equal(t, domain.ChannelSlack, sla.ChannelType)
	assert.Equal(t, 7, sla.Delivered)
	assert.Equal(t, 3, sla.Failed)
	assert.Equal(t, 10, sla.Attempts)
	assert.Equal(t, 70.00, sla.DeliverySuccessRate)
	// (7*100 + 3*205) / 10 = 131.5, rounded half away from zero.
	assert.Equal(t, int64(132), sla.AvgLatencyMs)
}

func TestAggregateSLA_RoundsToTwoDecimals(t *testing.T) {
	events := []domain.SLAEvent{
		{ChannelType: domain.ChannelSMS, Status: domain.SLADelivered},
		{ChannelType: domain.ChannelSMS, Status: domain.SLAFailed},
		{ChannelType: domain.ChannelSMS, Status: domain.SLAFailed},
		{ChannelType: domain.ChannelEmail, Status: domain.SLADelivered},
	}
	out := AggregateSLA(events)
	require.Len(t, out, 2)
	assert.Equal(t, domain.ChannelEmail, out[0].ChannelType)
	assert.Equal(t, 100.0, out[0].DeliverySuccessRate)
	assert.Equal(t, 33.33, out[1].DeliverySuccessRate)
}

func TestGetChannelSLA_ReportsGlobalQueueSize(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	wa.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("down"))
	svc, _, _ := newTestReliability(t, wa)
	ctx := context.Background()

	_, _ = svc.SendWithRetry(ctx, "org-a", "WHATSAPP", nil, "+1", "a")
	_, _ = svc.SendWithRetry(ctx, "org-b", "WHATSAPP", nil, "+2", "b")

	report, err := svc.GetChannelSLA(ctx, "org-a", 7)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeadLetterQueueSize)
}

func TestRetryDeadLetterItem_MultiTenant(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	// Three failures for org-a's send, three for org-b's, then the replay succeeds.
	wa.On("SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("provider outage")).Times(6)
	wa.On("SendMessage", mock.Anything, mock.Anything, "+1000", "for a").
		Return(&provider.SendResult{MessageID: "replayed", Status: domain.DeliverySent}, nil).Once()

	svc, _, _ := newTestReliability(t, wa)
	ctx := context.Background()

	_, errA := svc.SendWithRetry(ctx, "org-a", "WHATSAPP", nil, "+1000", "for a")
	require.Error(t, errA)
	_, errB := svc.SendWithRetry(ctx, "org-b", "WHATSAPP", nil, "+2000", "for b")
	require.Error(t, errB)
	require.Equal(t, 2, svc.DeadLetterQueueSize())

	itemsA := svc.GetDeadLetterQueue("org-a", 50)
	require.Len(t, itemsA, 1)
	assert.Equal(t, "org-a", itemsA[0].OrganizationID)
	idA := itemsA[0].ID

	_, err := svc.RetryDeadLetterItem(ctx, "org-b", idA)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 2, svc.DeadLetterQueueSize(), "a rejected cross-tenant retry leaves the queue unchanged")

	res, err := svc.RetryDeadLetterItem(ctx, "org-a", idA)
	require.NoError(t, err)
	assert.Equal(t, "replayed", res.MessageID)

	assert.Empty(t, svc.GetDeadLetterQueue("org-a", 50))
	itemsB := svc.GetDeadLetterQueue("org-b", 50)
	require.Len(t, itemsB, 1)
	assert.Equal(t, "+2000", itemsB[0].RecipientID)
	wa.AssertExpectations(t)
}

func TestRetryDeadLetterItem_FailedReplayReplacesItem(t *testing.T) {
	wa := &MockChannelProvider{Channel: domain.ChannelWhatsApp, Configured: true}
	wa.On("SendMessage", mock.Anything, mock.Anything, "+1000", "for a").Return(nil, errors.New("provider outage"))

	svc, _, _ := newTestReliability(t, wa)
	ctx := context.Background()

	_, err := svc.SendWithRetry(ctx, "org-a", "WHATSAPP", nil, "+1000", "for a")
	require.Error(t, err)
	items := svc.GetDeadLetterQueue("org-a", 50)
	require.Len(t, items, 1)
	original := items[0].ID

	_, err = svc.RetryDeadLetterItem(ctx, "org-a", original)
	var exhausted *domain.ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)

	items = svc.GetDeadLetterQueue("org-a", 50)
	require.Len(t, items, 1)
	assert.Equal(t, exhausted.DeadLetterID, items[0].ID)
	assert.NotEqual(t, original, items[0].ID)
	assert.Equal(t, 1, svc.DeadLetterQueueSize())

	_, err = svc.RetryDeadLetterItem(ctx, "org-a", original)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRetryDeadLetterItem_UnknownID(t *testing.T) {
	svc, _, _ := newTestReliability(t)
	_, err := svc.RetryDeadLetterItem(context.Background(), "org-a", "01HX0000000000000000000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewDeadLetterID_IsTimeOrdered(t *testing.T) {
	clock := newFakeClock()
	first := newDeadLetterID(clock.Now())
	clock.Advance(time.Second)
	second := newDeadLetterID(clock.Now())

	assert.Len(t, first, 26)
	assert.NotEqual(t, first, second)
	assert.Less(t, first, second)
}
