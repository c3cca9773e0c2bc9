package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "channel_gateway",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of HTTP requests to messaging providers.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_name"},
	)

	providerErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "channel_gateway",
			Name:      "provider_errors_total",
			Help:      "Total failed provider calls by error kind.",
		},
		[]string{"provider_name", "kind"}, // kind: transport, application
	)
)
