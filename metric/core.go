package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "controlbus"

// Metrics contains the messaging core metrics. A nil *Metrics records nothing,
// so components can run without a registry.
type Metrics struct {
	// Send path
	MessagesSent *prometheus.CounterVec
	ReplyWait    *prometheus.HistogramVec

	// Dispatch path
	MessagesDispatched *prometheus.CounterVec
	DispatchFailures   *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec

	// State machines
	StateTransitions   *prometheus.CounterVec
	StateMachineStatus *prometheus.GaugeVec

	// NATS bridge
	NATSConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of messages sent, by destination and outcome kind",
			},
			[]string{"destination", "outcome"},
		),

		ReplyWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "reply_wait_seconds",
				Help:      "Time spent by senders waiting for replies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode", "outcome"},
		),

		MessagesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "endpoint",
				Name:      "dispatched_total",
				Help:      "Total number of messages dispatched by an endpoint, by dispatch path",
			},
			[]string{"endpoint", "path"},
		),

		DispatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "endpoint",
				Name:      "dispatch_failures_total",
				Help:      "Total number of failed dispatches, by error kind",
			},
			[]string{"endpoint", "kind"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "endpoint",
				Name:      "queue_depth",
				Help:      "Messages waiting in a queued endpoint",
			},
			[]string{"endpoint"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "statemachine",
				Name:      "transitions_total",
				Help:      "Total number of state transitions",
			},
			[]string{"machine", "from", "to", "outcome"},
		),

		StateMachineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "statemachine",
				Name:      "status",
				Help:      "State machine status (0=exiting, 1=entering, 2=executing)",
			},
			[]string{"machine"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

// RecordMessageSent increments the sent counter
func (c *Metrics) RecordMessageSent(destination, outcome string) {
	if c == nil {
		return
	}
	c.MessagesSent.WithLabelValues(destination, outcome).Inc()
}

// RecordReplyWait records how long a sender waited for a reply
func (c *Metrics) RecordReplyWait(mode, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ReplyWait.WithLabelValues(mode, outcome).Observe(d.Seconds())
}

// RecordDispatch increments the dispatched counter for the given path
func (c *Metrics) RecordDispatch(endpoint, path string) {
	if c == nil {
		return
	}
	c.MessagesDispatched.WithLabelValues(endpoint, path).Inc()
}

// RecordDispatchFailure increments the dispatch failure counter
func (c *Metrics) RecordDispatchFailure(endpoint, kind string) {
	if c == nil {
		return
	}
	c.DispatchFailures.WithLabelValues(endpoint, kind).Inc()
}

// RecordQueueDepth updates the queue depth gauge
func (c *Metrics) RecordQueueDepth(endpoint string, depth int) {
	if c == nil {
		return
	}
	c.QueueDepth.WithLabelValues(endpoint).Set(float64(depth))
}

// RecordTransition increments the transition counter
func (c *Metrics) RecordTransition(machine, from, to, outcome string) {
	if c == nil {
		return
	}
	c.StateTransitions.WithLabelValues(machine, from, to, outcome).Inc()
}

// RecordStateMachineStatus updates the state machine status gauge
func (c *Metrics) RecordStateMachineStatus(machine string, status int) {
	if c == nil {
		return
	}
	c.StateMachineStatus.WithLabelValues(machine).Set(float64(status))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.MessagesSent,
		c.ReplyWait,
		c.MessagesDispatched,
		c.DispatchFailures,
		c.QueueDepth,
		c.StateTransitions,
		c.StateMachineStatus,
		c.NATSConnected,
	}
}
