package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel_gateway",
			Name:      "deliveries_total",
			Help:      "Total outbound deliveries by final outcome.",
		},
		[]string{"channel_type", "status"}, // status: delivered, failed
	)

	deliveryAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel_gateway",
			Name:      "delivery_attempts_total",
			Help:      "Total provider send attempts, including retries.",
		},
		[]string{"channel_type"},
	)

	retryBackoffHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "channel_gateway",
			Name:      "retry_backoff_seconds",
			Help:      "Backoff waited before a retry.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"channel_type"},
	)

	deadLetterQueueSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "channel_gateway",
			Name:      "dead_letter_queue_size",
			Help:      "Current number of dead-lettered messages across all organizations.",
		},
	)

	webhookVerificationFailuresCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel_gateway",
			Name:      "webhook_verification_failures_total",
			Help:      "Inbound webhooks rejected by signature, token or timestamp checks.",
		},
		[]string{"channel_type"},
	)

	inboundMessagesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel_gateway",
			Name:      "inbound_messages_total",
			Help:      "Inbound webhook messages by processing outcome.",
		},
		[]string{"channel_type", "outcome"}, // outcome: processed, duplicate, replied, error_*
	)

	natsJobsReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel_gateway",
			Name:      "nats_jobs_received_total",
			Help:      "Total NATS send jobs received.",
		},
		[]string{"subject"},
	)
)
