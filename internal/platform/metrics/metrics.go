// Package metrics exposes the Prometheus collectors for the worker and
// scheduler processes (§ SPEC_FULL.md B — the chat/SSE API surface is out of
// scope, so these collectors only ever serve cmd/worker and cmd/scheduler).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the queue, worker, and REM components emit.
type Metrics struct {
	TasksClaimedTotal    *prometheus.CounterVec
	TasksCompletedTotal  *prometheus.CounterVec
	TasksFailedTotal      *prometheus.CounterVec
	TaskDuration          *prometheus.HistogramVec
	StaleRecoveredTotal   prometheus.Counter
	QueueDepth            *prometheus.GaugeVec

	EmbeddingQueueDepth    prometheus.Gauge
	EmbeddingFailuresTotal prometheus.Counter

	RemQueriesTotal   *prometheus.CounterVec
	RemQueryDuration  *prometheus.HistogramVec

	KmsOperationsTotal *prometheus.CounterVec
	KmsErrorsTotal     *prometheus.CounterVec

	DatabaseQueriesTotal  *prometheus.CounterVec
	DatabaseQueryDuration *prometheus.HistogramVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against reg.
func NewWithRegistry(serviceName string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksClaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_tasks_claimed_total", Help: "Tasks claimed from the queue."},
			[]string{"task_type", "tier"},
		),
		TasksCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_tasks_completed_total", Help: "Tasks completed successfully."},
			[]string{"task_type", "tier"},
		),
		TasksFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_tasks_failed_total", Help: "Tasks that failed (including retries)."},
			[]string{"task_type", "tier", "terminal"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p8k8_task_duration_seconds",
				Help:    "Task handler execution duration.",
				Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"task_type", "tier"},
		),
		StaleRecoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "p8k8_stale_tasks_recovered_total", Help: "Tasks reclaimed from a stale claim."},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "p8k8_queue_depth", Help: "Pending tasks by type."},
			[]string{"task_type"},
		),
		EmbeddingQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "p8k8_embedding_queue_depth", Help: "Pending embedding_queue rows."},
		),
		EmbeddingFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "p8k8_embedding_failures_total", Help: "Embedding jobs that exhausted retries."},
		),
		RemQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_rem_queries_total", Help: "REM queries by verb and status."},
			[]string{"verb", "status"},
		),
		RemQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p8k8_rem_query_duration_seconds",
				Help:    "REM query execution duration.",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"verb"},
		),
		KmsOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_kms_operations_total", Help: "KMS wrap/unwrap/encrypt/decrypt calls."},
			[]string{"operation", "provider"},
		),
		KmsErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_kms_errors_total", Help: "KMS operation failures."},
			[]string{"operation", "provider"},
		),
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "p8k8_database_queries_total", Help: "Database queries by operation and status."},
			[]string{"operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "p8k8_database_query_duration_seconds",
				Help:    "Database query duration.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.TasksClaimedTotal, m.TasksCompletedTotal, m.TasksFailedTotal, m.TaskDuration,
			m.StaleRecoveredTotal, m.QueueDepth,
			m.EmbeddingQueueDepth, m.EmbeddingFailuresTotal,
			m.RemQueriesTotal, m.RemQueryDuration,
			m.KmsOperationsTotal, m.KmsErrorsTotal,
			m.DatabaseQueriesTotal, m.DatabaseQueryDuration,
		)
	}
	return m
}

// RecordTaskClaim records a successful queue claim.
func (m *Metrics) RecordTaskClaim(taskType, tier string) {
	m.TasksClaimedTotal.WithLabelValues(taskType, tier).Inc()
}

// RecordTaskOutcome records a task's terminal or retryable outcome.
func (m *Metrics) RecordTaskOutcome(taskType, tier string, duration time.Duration, success, terminal bool) {
	m.TaskDuration.WithLabelValues(taskType, tier).Observe(duration.Seconds())
	if success {
		m.TasksCompletedTotal.WithLabelValues(taskType, tier).Inc()
		return
	}
	label := "false"
	if terminal {
		label = "true"
	}
	m.TasksFailedTotal.WithLabelValues(taskType, tier, label).Inc()
}

// RecordRemQuery records a REM query's dispatch verb and outcome.
func (m *Metrics) RecordRemQuery(verb, status string, duration time.Duration) {
	m.RemQueriesTotal.WithLabelValues(verb, status).Inc()
	m.RemQueryDuration.WithLabelValues(verb).Observe(duration.Seconds())
}

// RecordKmsOperation records a KMS adapter call outcome.
func (m *Metrics) RecordKmsOperation(operation, provider string, err error) {
	m.KmsOperationsTotal.WithLabelValues(operation, provider).Inc()
	if err != nil {
		m.KmsErrorsTotal.WithLabelValues(operation, provider).Inc()
	}
}

var (
	global   *Metrics
	globalMu sync.Mutex
)

// Init initializes (once) and returns the process-global Metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(serviceName)
	}
	return global
}

// Global returns the process-global Metrics instance, creating a default one
// if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New("p8k8")
	}
	return global
}
