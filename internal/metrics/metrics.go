// Package metrics holds the Prometheus instruments of the monitor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"socgraph/internal/graph/topology"
)

// Metrics holds all the Prometheus metrics of the monitor.
type Metrics struct {
	LogsIngested     prometheus.Counter
	LogsDropped      prometheus.Counter
	Rebuilds         *prometheus.CounterVec
	TopologyNodes    prometheus.Gauge
	ActiveNodes      prometheus.Gauge
	HighValueTargets prometheus.Gauge
	Assessments      *prometheus.CounterVec
	LLMRequests      *prometheus.CounterVec
	ScorerCache      *prometheus.GaugeVec
}

// New registers the metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		LogsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "socgraph_logs_ingested_total",
			Help: "Total number of log records processed",
		}),
		LogsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "socgraph_logs_dropped_total",
			Help: "Total number of log records rejected as unparseable",
		}),
		Rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "socgraph_topology_rebuilds_total",
			Help: "Topology rebuilds and refreshes by result",
		}, []string{"result"}),
		TopologyNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "socgraph_topology_nodes",
			Help: "Nodes in the published topology",
		}),
		ActiveNodes: f.NewGauge(prometheus.GaugeOpts{
			Name: "socgraph_topology_active_nodes",
			Help: "Nodes active within the activity window",
		}),
		HighValueTargets: f.NewGauge(prometheus.GaugeOpts{
			Name: "socgraph_topology_high_value_targets",
			Help: "High-value targets in the published topology",
		}),
		Assessments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "socgraph_assessments_total",
			Help: "Threat assessments by severity",
		}, []string{"severity"}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "socgraph_llm_requests_total",
			Help: "LLM scoring calls by result",
		}, []string{"result"}),
		ScorerCache: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "socgraph_scorer_cache_entries",
			Help: "Entries held by the scorer caches",
		}, []string{"cache"}),
	}
}

// RecordRebuild counts a rebuild and, when a snapshot was published, updates
// the topology gauges.
func (m *Metrics) RecordRebuild(result string, snap *topology.Snapshot) {
	m.Rebuilds.WithLabelValues(result).Inc()
	if snap == nil || result == topology.RebuildFetchError {
		return
	}
	m.TopologyNodes.Set(float64(snap.TotalNodes))
	m.ActiveNodes.Set(float64(snap.ActiveNodes))
	m.HighValueTargets.Set(float64(len(snap.HighValueTargets)))
}

// RecordLLM counts one LLM call outcome.
func (m *Metrics) RecordLLM(result string) {
	m.LLMRequests.WithLabelValues(result).Inc()
}

// RecordIngested counts one processed log record.
func (m *Metrics) RecordIngested() {
	m.LogsIngested.Inc()
}

// RecordDropped counts one rejected log record.
func (m *Metrics) RecordDropped() {
	m.LogsDropped.Inc()
}

// RecordAssessment counts an assessment by severity.
func (m *Metrics) RecordAssessment(severity string) {
	m.Assessments.WithLabelValues(severity).Inc()
}

// SetScorerCache reports the scorer cache sizes.
func (m *Metrics) SetScorerCache(dedup, campaigns int) {
	m.ScorerCache.WithLabelValues("dedup").Set(float64(dedup))
	m.ScorerCache.WithLabelValues("campaign").Set(float64(campaigns))
}
