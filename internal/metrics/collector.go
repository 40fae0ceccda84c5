// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the engine's Prometheus instruments.
type Collector struct {
	completionsTotal   *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec

	turnsAppended *prometheus.CounterVec

	docCacheHits   *prometheus.CounterVec
	docCacheMisses *prometheus.CounterVec

	advancesTotal  *prometheus.CounterVec
	advanceAgents  prometheus.Histogram
	simulationRuns *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the engine instruments under the given namespace.
// A nil registerer uses the default registry; tests pass their own.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.completionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Total number of completion calls",
		},
		[]string{"agent_id", "status"},
	)

	c.completionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_duration_seconds",
			Help:      "Completion call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent_id"},
	)

	c.turnsAppended = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Total number of turns appended to the store",
		},
		[]string{"speaker", "status"},
	)

	c.docCacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_hits_total",
			Help:      "Total number of document cache hits",
		},
		[]string{"scope"},
	)

	c.docCacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_misses_total",
			Help:      "Total number of document cache misses",
		},
		[]string{"scope"},
	)

	c.advancesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advances_total",
			Help:      "Total number of orchestration advances",
		},
		[]string{"status"},
	)

	c.advanceAgents = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "advance_agents",
			Help:      "Number of agents answering per advance",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	c.simulationRuns = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_runs_total",
			Help:      "Total number of one-shot simulation runs",
		},
		[]string{"status"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordCompletion records one completion call.
func (c *Collector) RecordCompletion(agentID, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.completionsTotal.WithLabelValues(agentID, status).Inc()
	c.completionDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordTurnAppended records one store append.
func (c *Collector) RecordTurnAppended(speaker, status string) {
	if c == nil {
		return
	}
	c.turnsAppended.WithLabelValues(speaker, status).Inc()
}

// RecordDocCache records the document cache counters after an advance.
func (c *Collector) RecordDocCache(scope string, hits, misses int64) {
	if c == nil {
		return
	}
	c.docCacheHits.WithLabelValues(scope).Add(float64(hits))
	c.docCacheMisses.WithLabelValues(scope).Add(float64(misses))
}

// RecordAdvance records one orchestration advance.
func (c *Collector) RecordAdvance(status string, agentsAnswered int) {
	if c == nil {
		return
	}
	c.advancesTotal.WithLabelValues(status).Inc()
	c.advanceAgents.Observe(float64(agentsAnswered))
}

// RecordSimulationRun records one one-shot simulation.
func (c *Collector) RecordSimulationRun(status string) {
	if c == nil {
		return
	}
	c.simulationRuns.WithLabelValues(status).Inc()
}
