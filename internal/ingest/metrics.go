package ingest

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for ingestion runs.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	filesProcessed     *prometheus.CounterVec
	fileErrors         *prometheus.CounterVec
	lastRunSuccess     prometheus.Gauge
	lastRunFinishedSec prometheus.Gauge
}

// NewMetrics creates the ingestion metrics on a private registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cu_log_sync_runs_total",
			Help: "Total number of ingestion runs",
		},
		[]string{"status"}, // status: ok, error
	)
	m.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cu_log_sync_run_duration_seconds",
			Help:    "Wall time of an ingestion run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)
	m.filesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cu_log_sync_files_processed_total",
			Help: "Total number of log files synced",
		},
		[]string{"directory"},
	)
	m.fileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cu_log_sync_file_errors_total",
			Help: "Total number of log files that failed, by pipeline stage",
		},
		[]string{"directory", "stage"},
	)
	m.lastRunSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cu_log_sync_last_run_success",
			Help: "1 if the last run finished without errors, 0 otherwise",
		},
	)
	m.lastRunFinishedSec = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cu_log_sync_last_run_finished_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)

	for _, c := range []prometheus.Collector{
		m.runsTotal, m.runDuration, m.filesProcessed, m.fileErrors, m.lastRunSuccess, m.lastRunFinishedSec,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) observeRun(s RunSummary) {
	status := "ok"
	success := 1.0
	if !s.OK() {
		status = "error"
		success = 0
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(s.Duration().Seconds())
	m.lastRunSuccess.Set(success)
	m.lastRunFinishedSec.Set(float64(s.Finished.Unix()))
}

func (m *Metrics) fileProcessed(dir string) {
	m.filesProcessed.WithLabelValues(dir).Inc()
}

func (m *Metrics) fileFailed(dir string, stage Stage) {
	m.fileErrors.WithLabelValues(dir, string(stage)).Inc()
}
