// Package metrics exposes Prometheus metrics for the compliance engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector carries the engine's Prometheus instruments.
type Collector struct {
	checksTotal        *prometheus.CounterVec
	checkDuration      prometheus.Histogram
	fieldResultsTotal  *prometheus.CounterVec
	auditEventsTotal   *prometheus.CounterVec
	chainConflicts     prometheus.Counter
	chainVerifications *prometheus.CounterVec
}

// NewCollector registers the engine metrics on the default registry.
func NewCollector() *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer)
}

// NewCollectorWith registers the engine metrics on the given registerer.
func NewCollectorWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		checksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_engine_checks_total",
			Help: "Compliance checks run, by verdict",
		}, []string{"verdict"}),
		checkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lc_engine_check_duration_seconds",
			Help:    "End-to-end duration of one check submission",
			Buckets: prometheus.DefBuckets,
		}),
		fieldResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_engine_field_results_total",
			Help: "Field comparison rows produced, by severity",
		}, []string{"severity"}),
		auditEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_engine_audit_events_total",
			Help: "Audit chain events appended, by event type",
		}, []string{"event_type"}),
		chainConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lc_engine_chain_conflicts_total",
			Help: "Audit chain append conflicts detected and retried",
		}),
		chainVerifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lc_engine_chain_verifications_total",
			Help: "Chain verifications performed, by result",
		}, []string{"result"}),
	}
}

func (c *Collector) ObserveCheck(verdict string, duration time.Duration, green, amber, red int) {
	c.checksTotal.WithLabelValues(verdict).Inc()
	c.checkDuration.Observe(duration.Seconds())
	c.fieldResultsTotal.WithLabelValues("GREEN").Add(float64(green))
	c.fieldResultsTotal.WithLabelValues("AMBER").Add(float64(amber))
	c.fieldResultsTotal.WithLabelValues("RED").Add(float64(red))
}

func (c *Collector) ObserveAuditEvent(eventType string) {
	c.auditEventsTotal.WithLabelValues(eventType).Inc()
}

func (c *Collector) ObserveChainConflict() {
	c.chainConflicts.Inc()
}

func (c *Collector) ObserveChainVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.chainVerifications.WithLabelValues(result).Inc()
}
