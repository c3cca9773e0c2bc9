package domain

import "time"

// DeliveryStatus is the outcome reported by every send path.
type DeliveryStatus string

const (
	DeliveryQueued DeliveryStatus = "queued"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryResult is returned from every send path.
type DeliveryResult struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	Provider  string         `json:"provider,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DeadLetterItem is a send that exhausted its retry budget.
// Its identity never changes after creation.
type DeadLetterItem struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organizationId"`
	ChannelType    ChannelType   `json:"channelType"`
	RecipientID    string        `json:"recipientId"`
	Content        string        `json:"content"`
	Config         ChannelConfig `json:"-"`
	Reason         string        `json:"reason"`
	FailedAt       time.Time     `json:"failedAt"`
}

// SLAStatus is the outcome of a single delivery attempt.
type SLAStatus string

const (
	SLADelivered SLAStatus = "delivered"
	SLAFailed    SLAStatus = "failed"
)

// SLAEvent records one delivery attempt. Events are append-only.
type SLAEvent struct {
	OrganizationID string      `json:"organizationId"`
	ChannelType    ChannelType `json:"channelType"`
	Status         SLAStatus   `json:"status"`
	Attempt        int         `json:"attempt"`
	LatencyMs      int64       `json:"latencyMs"`
	Error          string      `json:"error,omitempty"`
	OccurredAt     time.Time   `json:"occurredAt"`
}

// ChannelSLA aggregates SLA events for a single channel.
type ChannelSLA struct {
	ChannelType         ChannelType `json:"channelType"`
	Delivered           int         `json:"delivered"`
	Failed              int         `json:"failed"`
	Attempts            int         `json:"attempts"`
	DeliverySuccessRate float64     `json:"deliverySuccessRate"`
	AvgLatencyMs        int64       `json:"avgLatencyMs"`
}

// SLAReport is the per-organization SLA summary over a window of days.
type SLAReport struct {
	OrganizationID      string       `json:"organizationId"`
	WindowDays          int          `json:"windowDays"`
	Channels            []ChannelSLA `json:"channels"`
	DeadLetterQueueSize int          `json:"deadLetterQueueSize"`
	GeneratedAt         time.Time    `json:"generatedAt"`
}
