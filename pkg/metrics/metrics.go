// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks active live-channel connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active live-channel connections",
		},
	)

	// SessionsTotal tracks total diagnostic sessions created.
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diagnosis_sessions_total",
			Help: "Total diagnostic sessions created",
		},
	)

	// EventsPublishedTotal tracks task events ingested from the agent pipeline.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosis_events_published_total",
			Help: "Total task events ingested",
		},
		[]string{"event_type"},
	)

	// StreamReconnectsTotal tracks successful stream client reconnections.
	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_client_reconnects_total",
			Help: "Successful live-channel reconnections",
		},
	)

	// GapFillEventsTotal tracks events recovered via replay after a reconnect.
	GapFillEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_client_gapfill_events_total",
			Help: "Events recovered through gap-fill replay",
		},
	)

	// DroppedFramesTotal tracks undecodable live-channel frames.
	DroppedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_client_dropped_frames_total",
			Help: "Live-channel frames discarded as undecodable",
		},
	)

	// NATSStreamMessages tracks messages in the NATS event history stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

// RecordEventPublished records an ingested task event.
func RecordEventPublished(eventType string) {
	EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordStreamReconnect records a successful reconnection.
func RecordStreamReconnect() {
	StreamReconnectsTotal.Inc()
}

// RecordGapFill records events recovered through replay.
func RecordGapFill(count int) {
	GapFillEventsTotal.Add(float64(count))
}

// RecordDroppedFrame records one discarded live-channel frame.
func RecordDroppedFrame() {
	DroppedFramesTotal.Inc()
}
