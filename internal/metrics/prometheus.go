package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/pollbridge/internal/bridge"
)

// Default histogram buckets for invocation duration (in seconds). Studio
// scripts range from instant to multi-minute play sessions.
var defaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// StatsFunc reads a point-in-time view of the bridge.
type StatsFunc func() bridge.Stats

// Metrics is a bridge.Observer that records Prometheus metrics on its own
// registry.
type Metrics struct {
	bridge.NopObserver
	registry *prometheus.Registry

	enqueuedTotal  *prometheus.CounterVec
	resolvedTotal  *prometheus.CounterVec
	abandonedTotal *prometheus.CounterVec
	ignoredTotal   *prometheus.CounterVec
	requeuedTotal  prometheus.Counter
	pollsEmpty     prometheus.Counter
	proxiedTotal   *prometheus.CounterVec

	queueWait          *prometheus.HistogramVec
	invocationDuration *prometheus.HistogramVec
}

// New registers the collectors. stats may be nil, in which case the gauges
// derived from bridge state are omitted.
func New(namespace string, stats StatsFunc) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		enqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_enqueued_total",
				Help:      "Invocations submitted to the bridge",
			},
			[]string{"tool"},
		),
		resolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_resolved_total",
				Help:      "Invocations answered by the executor",
			},
			[]string{"tool", "status"},
		),
		abandonedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_abandoned_total",
				Help:      "Invocations dropped without a result",
			},
			[]string{"tool", "reason"},
		),
		ignoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completions_ignored_total",
				Help:      "Completions for ids that were not pending",
			},
			[]string{"outcome"},
		),
		requeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_requeued_total",
				Help:      "Claimed invocations returned to the queue after a failed handoff",
			},
		),
		pollsEmpty: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_empty_total",
				Help:      "Dispatch requests that expired with no work",
			},
		),
		proxiedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_proxied_total",
				Help:      "Tool calls relayed in by secondary bridges over /proxy",
			},
			[]string{"status"},
		),

		queueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_wait_seconds",
				Help:      "Time from enqueue to claim",
				Buckets:   defaultBuckets,
			},
			[]string{"tool"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Time from enqueue to result",
				Buckets:   defaultBuckets,
			},
			[]string{"tool", "status"},
		),
	}

	registry.MustRegister(
		m.enqueuedTotal,
		m.resolvedTotal,
		m.abandonedTotal,
		m.ignoredTotal,
		m.requeuedTotal,
		m.pollsEmpty,
		m.proxiedTotal,
		m.queueWait,
		m.invocationDuration,
	)

	if stats != nil {
		m.registerStateGauges(namespace, stats)
	}
	return m
}

func (m *Metrics) registerStateGauges(namespace string, stats StatsFunc) {
	gauge := func(name, help string, read func(bridge.Stats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return read(stats()) },
		)
	}
	m.registry.MustRegister(
		gauge("queue_depth", "Invocations waiting to be claimed", func(s bridge.Stats) float64 {
			return float64(s.QueueDepth)
		}),
		gauge("pending_invocations", "Invocations with a waiting caller", func(s bridge.Stats) float64 {
			return float64(s.Pending)
		}),
		gauge("in_flight_invocations", "Invocations claimed by the executor", func(s bridge.Stats) float64 {
			return float64(s.InFlight)
		}),
		gauge("active_polls", "Dispatch requests currently waiting", func(s bridge.Stats) float64 {
			return float64(s.ActivePolls)
		}),
		gauge("executor_connected", "1 if the executor polled recently", func(s bridge.Stats) float64 {
			if s.ExecutorConnected {
				return 1
			}
			return 0
		}),
	)
}

func status(isError bool) string {
	if isError {
		return "error"
	}
	return "ok"
}

func toolLabel(inv bridge.Invocation) string {
	if t := inv.Tool(); t != "" {
		return t
	}
	return "unknown"
}

func (m *Metrics) InvocationEnqueued(inv bridge.Invocation) {
	m.enqueuedTotal.WithLabelValues(toolLabel(inv)).Inc()
}

func (m *Metrics) InvocationClaimed(inv bridge.Invocation, waited time.Duration) {
	m.queueWait.WithLabelValues(toolLabel(inv)).Observe(waited.Seconds())
}

func (m *Metrics) InvocationRequeued(bridge.Invocation) {
	m.requeuedTotal.Inc()
}

func (m *Metrics) InvocationResolved(inv bridge.Invocation, res bridge.Result, elapsed time.Duration) {
	tool, st := toolLabel(inv), status(res.IsError)
	m.resolvedTotal.WithLabelValues(tool, st).Inc()
	m.invocationDuration.WithLabelValues(tool, st).Observe(elapsed.Seconds())
}

func (m *Metrics) InvocationAbandoned(inv bridge.Invocation, reason bridge.AbandonReason, _ time.Duration) {
	m.abandonedTotal.WithLabelValues(toolLabel(inv), string(reason)).Inc()
}

func (m *Metrics) CompletionIgnored(_ string, outcome bridge.Outcome) {
	m.ignoredTotal.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) PollExpired() {
	m.pollsEmpty.Inc()
}

// Proxied records one tool call answered for a secondary bridge.
func (m *Metrics) Proxied(isError bool) {
	m.proxiedTotal.WithLabelValues(status(isError)).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
