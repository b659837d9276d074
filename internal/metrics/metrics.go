// ABOUTME: Prometheus collectors for the realtime gateway
// ABOUTME: Connections, channel joins, fan-out deliveries and drops, mutation outcomes

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections      *prometheus.GaugeVec
	admissionsFailed *prometheus.CounterVec
	joins            *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	eventsDelivered  prometheus.Counter
	eventsDropped    *prometheus.CounterVec
	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	notifierRuns     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taskboard_realtime_connections",
			Help: "Currently open realtime connections",
		}, []string{"transport"}),
		admissionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_realtime_admissions_failed_total",
			Help: "Connections rejected during the authentication handshake",
		}, []string{"transport"}),
		joins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_realtime_channel_joins_total",
			Help: "Channel joins by channel kind and result",
		}, []string{"kind", "result"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_events_published_total",
			Help: "Events handed to the broadcaster",
		}, []string{"event"}),
		eventsDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "taskboard_events_delivered_total",
			Help: "Events enqueued on a connection's outbound queue",
		}),
		eventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_events_dropped_total",
			Help: "Events dropped for a connection",
		}, []string{"reason"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_mutations_total",
			Help: "Task mutations by operation, entry point and outcome code",
		}, []string{"op", "via", "code"}),
		mutationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskboard_mutation_duration_seconds",
			Help:    "Task mutation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		notifierRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskboard_notifier_mails_total",
			Help: "Scheduled mails by job and result",
		}, []string{"job", "result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConnectionClosed(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Dec()
}

func (m *Metrics) AdmissionFailed(transport string) {
	if m == nil {
		return
	}
	m.admissionsFailed.WithLabelValues(transport).Inc()
}

// ChannelJoin records a join attempt; result is "joined", "already" or "denied".
func (m *Metrics) ChannelJoin(kind, result string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) EventPublished(name string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(name).Inc()
}

func (m *Metrics) EventDelivered() {
	if m == nil {
		return
	}
	m.eventsDelivered.Inc()
}

// EventDropped records a lost delivery; reason is "queue_full" or "gone".
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// Mutation records a finished mutation. code is "ok" or an error code.
func (m *Metrics) Mutation(op, via, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, via, code).Inc()
	m.mutationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) NotifierMail(job, result string) {
	if m == nil {
		return
	}
	m.notifierRuns.WithLabelValues(job, result).Inc()
}
