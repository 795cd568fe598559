package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prom is a Collector backed by a private Prometheus registry, exposed over
// the stats server's /metrics endpoint.
type Prom struct {
	messages     *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	connEvents   *prometheus.CounterVec
	connDuration *prometheus.HistogramVec
	errors       *prometheus.CounterVec

	registry *prometheus.Registry
}

func NewProm(namespace string) *Prom {
	if namespace == "" {
		namespace = "edmcoverlay"
	}

	p := &Prom{registry: prometheus.NewRegistry()}

	p.messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent to the overlay",
		},
		[]string{"type"},
	)

	p.sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_send_duration_seconds",
			Help:      "Duration of message sends",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	p.connEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_events_total",
			Help:      "Total number of connection lifecycle events",
		},
		[]string{"event"},
	)

	p.connDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_event_duration_seconds",
			Help:      "Duration of connection lifecycle events",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"event"},
	)

	p.errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by type",
		},
		[]string{"type"},
	)

	p.registry.MustRegister(
		p.messages,
		p.sendDuration,
		p.connEvents,
		p.connDuration,
		p.errors,
	)

	return p
}

func (p *Prom) RecordMessageSent(msgType string, d time.Duration) {
	p.messages.WithLabelValues(msgType).Inc()
	if d > 0 {
		p.sendDuration.WithLabelValues(msgType).Observe(d.Seconds())
	}
}

func (p *Prom) RecordConnectionEvent(event string, d time.Duration) {
	p.connEvents.WithLabelValues(event).Inc()
	if d > 0 {
		p.connDuration.WithLabelValues(event).Observe(d.Seconds())
	}
}

// RecordError counts errors by type only. The detail text is unbounded, so
// it stays out of the label set.
func (p *Prom) RecordError(errType, detail string) {
	p.errors.WithLabelValues(errType).Inc()
}

// Registry returns the private registry for HTTP handler setup.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

var _ Collector = (*Prom)(nil)
