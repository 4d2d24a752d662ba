// Package metrics exposes Prometheus counters for reconciliation runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tlmsim/reconciler/internal/domain"
)

const namespace = "reconciler"

type Metrics struct {
	registry *prometheus.Registry

	RunsTotal           *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	TradesMatched       prometheus.Counter
	BreaksCreated       *prometheus.CounterVec
	BreaksDuplicate     prometheus.Counter
	RecordsInvalid      prometheus.Counter
	PersistenceFailures prometheus.Counter
	RowsIngested        *prometheus.CounterVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Reconciliation runs by result",
		}, []string{"result"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Reconciliation run duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		TradesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_matched_total",
			Help:      "Expected trades transitioned to MATCHED",
		}),
		BreaksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaks_created_total",
			Help:      "Breaks created by type and severity",
		}, []string{"type", "severity"}),
		BreaksDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaks_skipped_duplicate_total",
			Help:      "Candidate breaks suppressed by the dedup gate",
		}),
		RecordsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_invalid_total",
			Help:      "Source records skipped as invalid",
		}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Breaks or status updates that failed to persist",
		}),
		RowsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_ingested_total",
			Help:      "Rows ingested by upload type",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		m.RunsTotal, m.RunDuration, m.TradesMatched, m.BreaksCreated,
		m.BreaksDuplicate, m.RecordsInvalid, m.PersistenceFailures, m.RowsIngested,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "aborted"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) AddMatched(n int) {
	if m == nil {
		return
	}
	m.TradesMatched.Add(float64(n))
}

func (m *Metrics) BreakCreated(b *domain.Break) {
	if m == nil {
		return
	}
	m.BreaksCreated.WithLabelValues(string(b.Type), string(b.Severity)).Inc()
}

func (m *Metrics) AddDuplicates(n int) {
	if m == nil {
		return
	}
	m.BreaksDuplicate.Add(float64(n))
}

func (m *Metrics) AddInvalid(n int) {
	if m == nil {
		return
	}
	m.RecordsInvalid.Add(float64(n))
}

func (m *Metrics) AddPersistenceFailures(n int) {
	if m == nil {
		return
	}
	m.PersistenceFailures.Add(float64(n))
}

func (m *Metrics) AddIngested(kind domain.UploadKind, n int) {
	if m == nil {
		return
	}
	m.RowsIngested.WithLabelValues(string(kind)).Add(float64(n))
}
