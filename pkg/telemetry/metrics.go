package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for maintenance runs. A run is a
// short-lived process, so metrics are exported through the node_exporter
// textfile collector instead of an HTTP endpoint.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsCompleted  *prometheus.CounterVec
	runDuration    prometheus.Gauge
	lastRunTime    prometheus.Gauge
	lastRunSuccess prometheus.Gauge

	// Step metrics
	stepOutcomes *prometheus.CounterVec
	stepDuration *prometheus.GaugeVec

	// Maintenance results
	bytesFreed     prometheus.Gauge
	kernelsRemoved prometheus.Gauge
	riskRemovals   prometheus.Gauge
	rebootRequired prometheus.Gauge
	rootFreeBytes  prometheus.Gauge
	errorsByClass  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed by terminal status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_duration_seconds",
				Help:      "Duration of the last run in seconds",
			},
		),
		lastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
		lastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last run reached a successful terminal state",
			},
		),
		stepOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_outcomes_total",
				Help:      "Step outcomes by step and status",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of each step in the last run",
			},
			[]string{"step"},
		),
		bytesFreed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bytes_freed",
				Help:      "Disk space released by the last run",
			},
		),
		kernelsRemoved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "kernels_removed",
				Help:      "Kernel images purged by the last run",
			},
		),
		riskRemovals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "upgrade_proposed_removals",
				Help:      "Packages the last upgrade simulation proposed to remove",
			},
		),
		rebootRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reboot_required",
				Help:      "1 if the system needs a reboot after the last run",
			},
		),
		rootFreeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "root_free_bytes",
				Help:      "Free bytes on the root filesystem after the last run",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aborts_by_class_total",
				Help:      "Aborted runs by error class",
			},
			[]string{"class"},
		),
	}

	registry.MustRegister(
		m.runsCompleted,
		m.runDuration,
		m.lastRunTime,
		m.lastRunSuccess,
		m.stepOutcomes,
		m.stepDuration,
		m.bytesFreed,
		m.kernelsRemoved,
		m.riskRemovals,
		m.rebootRequired,
		m.rootFreeBytes,
		m.errorsByClass,
	)

	return m, nil
}

// RecordRunCompleted records a finished run.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration, finished time.Time) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.Set(duration.Seconds())
	m.lastRunTime.Set(float64(finished.Unix()))
	if status == "succeeded" {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// RecordAbort records the error class of an aborted run.
func (m *Metrics) RecordAbort(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// RecordStep records a step outcome.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m.stepOutcomes == nil {
		return
	}
	m.stepOutcomes.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Set(duration.Seconds())
}

// SetBytesFreed records the space released by the run.
func (m *Metrics) SetBytesFreed(bytes int64) {
	if m.bytesFreed == nil {
		return
	}
	m.bytesFreed.Set(float64(bytes))
}

// SetKernelsRemoved records how many kernel images were purged.
func (m *Metrics) SetKernelsRemoved(n int) {
	if m.kernelsRemoved == nil {
		return
	}
	m.kernelsRemoved.Set(float64(n))
}

// SetProposedRemovals records the upgrade simulation's removal count.
func (m *Metrics) SetProposedRemovals(n int) {
	if m.riskRemovals == nil {
		return
	}
	m.riskRemovals.Set(float64(n))
}

// SetRebootRequired records the reboot flag.
func (m *Metrics) SetRebootRequired(required bool) {
	if m.rebootRequired == nil {
		return
	}
	value := 0.0
	if required {
		value = 1.0
	}
	m.rebootRequired.Set(value)
}

// SetRootFree records free bytes on the root filesystem.
func (m *Metrics) SetRootFree(bytes uint64) {
	if m.rootFreeBytes == nil {
		return
	}
	m.rootFreeBytes.Set(float64(bytes))
}

// Gatherer returns the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile path. The
// write is atomic so the collector never reads a partial file.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
