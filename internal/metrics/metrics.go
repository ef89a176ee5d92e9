// Package metrics is the single façade interface spec.md §9 asks for:
// counters/gauges/histograms addressed by name plus labels, backed by
// github.com/prometheus/client_golang — a direct dependency the teacher's
// own go.mod carried but never wired to a concrete component.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide façade every service is handed a reference
// to; it owns the underlying prometheus.Registry and exposes only the
// counter/gauge/histogram vocabulary the rest of the codebase needs.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	EvalRequests   *prometheus.CounterVec
	RaftApplied    prometheus.Counter
	RaftLeader     prometheus.Gauge
	EventSubscribers *prometheus.GaugeVec
	WriteLatency   *prometheus.HistogramVec
}

// New builds a Registry with every metric pre-registered, the way a
// façade's components are all wired up front rather than lazily.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagfiled_http_requests_total",
			Help: "HTTP requests served, by route and status class.",
		}, []string{"route", "status"}),
		EvalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagfiled_eval_requests_total",
			Help: "Flag evaluations served, by namespace and reason.",
		}, []string{"namespace", "reason"}),
		RaftApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flagfiled_raft_applied_total",
			Help: "Raft log entries applied to the state machine.",
		}),
		RaftLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagfiled_raft_is_leader",
			Help: "1 if this node is the current Raft leader, else 0.",
		}),
		EventSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flagfiled_event_subscribers",
			Help: "Current SSE subscriber count, by namespace.",
		}, []string{"namespace"}),
		WriteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flagfiled_write_latency_seconds",
			Help:    "End-to-end latency of a flagfile write, from handler entry to commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"namespace"}),
	}
	reg.MustRegister(r.HTTPRequests, r.EvalRequests, r.RaftApplied, r.RaftLeader, r.EventSubscribers, r.WriteLatency)
	return r
}

// Gatherer exposes the underlying registry to the /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}
