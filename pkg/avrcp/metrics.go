package avrcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every session of a Manager.
type Metrics struct {
	PacketsReceived prometheus.Counter
	PacketsSent     prometheus.Counter
	PacketsHeld     prometheus.Counter
	PacketsDropped  *prometheus.CounterVec

	CommandsReceived  prometheus.Counter
	ResponsesReceived prometheus.Counter

	RequestsSent    prometheus.Counter
	RequestsBusy    prometheus.Counter
	RequestTimeouts prometheus.Counter
	RequestsRejects prometheus.Counter

	ContinuationsParked  prometheus.Counter
	ContinuationsAborted prometheus.Counter

	ActiveSessions prometheus.Gauge
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PacketsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_packets_received_total",
			Help: "AVCTP packets read from the transport",
		}),
		PacketsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_packets_sent_total",
			Help: "AVCTP packets written to the transport",
		}),
		PacketsHeld: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_packets_held_total",
			Help: "Inbound packets queued while the consumer held the last message",
		}),
		PacketsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "avrcp_packets_dropped_total",
			Help: "Inbound packets discarded by the engine",
		}, []string{"reason"}),
		CommandsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_commands_received_total",
			Help: "Commands delivered to the consumer",
		}),
		ResponsesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_responses_received_total",
			Help: "Responses correlated and delivered to the consumer",
		}),
		RequestsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_requests_sent_total",
			Help: "Locally initiated requests written to the transport",
		}),
		RequestsBusy: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_requests_busy_total",
			Help: "Requests refused because another one was outstanding",
		}),
		RequestTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_request_timeouts_total",
			Help: "Requests failed by the watchdog",
		}),
		RequestsRejects: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_requests_rejected_total",
			Help: "Requests answered with rejected or not implemented",
		}),
		ContinuationsParked: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_continuations_parked_total",
			Help: "Fragmented metadata transfers awaiting a pull",
		}),
		ContinuationsAborted: f.NewCounter(prometheus.CounterOpts{
			Name: "avrcp_continuations_aborted_total",
			Help: "Fragmented metadata transfers discarded before completion",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "avrcp_active_sessions",
			Help: "Sessions currently connected",
		}),
	}
}

const (
	dropMalformed  = "malformed"
	dropBadProfile = "bad_profile"
	dropUnmatched  = "unmatched"
	dropQueueFull  = "queue_full"
	dropAbandoned  = "abandoned"
)
