// Package metrics provides Prometheus metrics for contentvcs
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine
type Metrics struct {
	// Operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Version graph metrics
	VersionsCreatedTotal prometheus.Counter
	CommitNoopsTotal     prometheus.Counter
	VersionsPrunedTotal  prometheus.Counter
	ContentItems         prometheus.Gauge

	// Merge metrics
	MergesTotal         *prometheus.CounterVec
	MergeConflictsTotal prometheus.Counter

	// Backup metrics
	BackupsTotal      *prometheus.CounterVec
	BackupsSweptTotal prometheus.Counter
	BackupSweepFailed prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}

	m.OperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentvcs_operations_total",
			Help: "Total number of engine operations",
		},
		[]string{"op", "status"},
	)

	m.OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "contentvcs_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	m.VersionsCreatedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "contentvcs_versions_created_total",
			Help: "Total number of versions created",
		},
	)

	m.CommitNoopsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "contentvcs_commit_noops_total",
			Help: "Total number of commits that matched the branch head",
		},
	)

	m.VersionsPrunedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "contentvcs_versions_pruned_total",
			Help: "Total number of versions removed by retention pruning",
		},
	)

	m.ContentItems = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "contentvcs_content_items",
			Help: "Number of content items under version control",
		},
	)

	m.MergesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentvcs_merges_total",
			Help: "Total number of merge attempts by final status",
		},
		[]string{"status"},
	)

	m.MergeConflictsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "contentvcs_merge_conflicts_total",
			Help: "Total number of conflicting keys reported by merges",
		},
	)

	m.BackupsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contentvcs_backups_total",
			Help: "Total number of backup requests",
		},
		[]string{"type", "status"},
	)

	m.BackupsSweptTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "contentvcs_backups_swept_total",
			Help: "Total number of expired backups removed",
		},
	)

	m.BackupSweepFailed = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "contentvcs_backup_sweep_failures_total",
			Help: "Total number of expired backups whose blob could not be deleted",
		},
	)

	return m
}

// RecordOperation records an engine operation with its status
func (m *Metrics) RecordOperation(op string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(op, status).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordMerge records the final status of a merge attempt
func (m *Metrics) RecordMerge(status string, conflicts int) {
	m.MergesTotal.WithLabelValues(status).Inc()
	m.MergeConflictsTotal.Add(float64(conflicts))
}

// RecordBackup records a backup request outcome
func (m *Metrics) RecordBackup(backupType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackupsTotal.WithLabelValues(backupType, status).Inc()
}

// RecordSweep records the result of a sweep pass
func (m *Metrics) RecordSweep(removed, failed int) {
	m.BackupsSweptTotal.Add(float64(removed))
	m.BackupSweepFailed.Add(float64(failed))
}
