package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_passenger"

var (
	ChannelState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "channel_state", Help: "1 for the ride channel's current connection state"},
		[]string{"state"},
	)
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "channel_reconnects_total", Help: "Ride channel reconnect attempts"})
	CommandsSent      = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "channel_commands_total", Help: "Outbound ride commands by result"},
		[]string{"command", "result"},
	)
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "channel_events_total", Help: "Inbound ride channel events"},
		[]string{"event"},
	)

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride lifecycle phase transitions"},
		[]string{"phase"},
	)
	RideEventsIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_events_ignored_total", Help: "Inbound ride status events that did not change state"},
		[]string{"reason"},
	)
	QuoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "quote_latency_seconds", Help: "Fare quote latency by distance provider"},
		[]string{"provider", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	UIStreams = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ui_streams", Help: "Connected UI snapshot streams"})

	HistoryRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "history_recorded_total", Help: "Finished rides recorded by sink"},
		[]string{"sink", "result"},
	)
)
