package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts lifecycle stages of a run. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	stages    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewMetrics registers the stage collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infra",
			Name:      "stages_total",
			Help:      "Lifecycle stages by outcome (ran, skipped, failed).",
		}, []string{"stage", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "infra",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of lifecycle stages that ran.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"stage"}),
	}
	m.Registry.MustRegister(m.stages, m.durations)
	return m
}

// Count returns a counter for tests and reports.
func (m *Metrics) Count(stage Stage, result string) prometheus.Counter {
	return m.stages.WithLabelValues(string(stage), result)
}

func (m *Metrics) skipped(stage Stage) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(string(stage), "skipped").Inc()
}

func (m *Metrics) observe(stage Stage, err error, d time.Duration) {
	if m == nil {
		return
	}
	if err != nil {
		m.stages.WithLabelValues(string(stage), "failed").Inc()
		return
	}
	m.stages.WithLabelValues(string(stage), "ran").Inc()
	if stage != StageConfigure {
		m.durations.WithLabelValues(string(stage)).Observe(d.Seconds())
	}
}

// WriteTextfile dumps the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
