package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics of the wiki engine. Each Collector
// owns a private registry so that tests can create as many as they like.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Edits               *prometheus.CounterVec
	PropagationFailures *prometheus.CounterVec
	ReconcileJobs       *prometheus.CounterVec
	CacheRequests       *prometheus.CounterVec
	RecommendRuns       prometheus.Counter
	ProposeDuration     prometheus.Histogram
}

// NewCollector creates a collector whose metrics are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Edits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edits_total",
				Help:      "Total number of page edit proposals by result",
			},
			[]string{"result"},
		),
		PropagationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "propagation_failures_total",
				Help:      "Derived-state updates that failed and were queued for reconciliation",
			},
			[]string{"op"},
		),
		ReconcileJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_jobs_total",
				Help:      "Reconcile job attempts by result",
			},
			[]string{"result"},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Cache lookups by result",
			},
			[]string{"result"},
		),
		RecommendRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommend_runs_total",
				Help:      "Total number of random walks performed by the recommender",
			},
		),
		ProposeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "propose_duration_seconds",
				Help:      "Time spent applying a page edit",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.Edits,
		c.PropagationFailures,
		c.ReconcileJobs,
		c.CacheRequests,
		c.RecommendRuns,
		c.ProposeDuration,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordEdit counts a proposal with its result and duration.
func (c *Collector) RecordEdit(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.Edits.WithLabelValues(result).Inc()
	c.ProposeDuration.Observe(d.Seconds())
}

// RecordPropagationFailure counts a derived update that had to be queued.
func (c *Collector) RecordPropagationFailure(op string) {
	if c == nil {
		return
	}
	c.PropagationFailures.WithLabelValues(op).Inc()
}

// RecordReconcile counts a reconcile job attempt.
func (c *Collector) RecordReconcile(ok bool) {
	if c == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	c.ReconcileJobs.WithLabelValues(result).Inc()
}

// RecordCache counts a cache lookup. result is one of hit, miss or error.
func (c *Collector) RecordCache(result string) {
	if c == nil {
		return
	}
	c.CacheRequests.WithLabelValues(result).Inc()
}

// RecordRecommendRun counts one random walk.
func (c *Collector) RecordRecommendRun() {
	if c == nil {
		return
	}
	c.RecommendRuns.Inc()
}
