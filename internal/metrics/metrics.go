package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects provisioning metrics on a private registry. docbot is a
// short-lived CLI, so the registry is flushed to a node-exporter textfile
// instead of being served.
type Recorder struct {
	registry          *prometheus.Registry
	stepDuration      *prometheus.HistogramVec
	stepOutcomes      *prometheus.CounterVec
	runOutcomes       *prometheus.CounterVec
	packagesInstalled prometheus.Gauge
	lastSuccess       prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docbot_provision_step_duration_seconds",
			Help:    "Time spent in each step of the last provisioning run.",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"step"}),
		stepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_provision_steps_total",
			Help: "Provisioning steps labelled by step and outcome.",
		}, []string{"step", "status"}),
		runOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docbot_provision_runs_total",
			Help: "Provisioning runs labelled by outcome.",
		}, []string{"status"}),
		packagesInstalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbot_environment_packages_installed",
			Help: "Pinned packages installed by the last provisioning run.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docbot_provision_last_success_timestamp_seconds",
			Help: "Unix time of the last successful provisioning run.",
		}),
	}
	r.registry.MustRegister(r.stepDuration, r.stepOutcomes, r.runOutcomes, r.packagesInstalled, r.lastSuccess)
	return r
}

// Step labels use the step kind (install:numpy -> install) to keep cardinality bounded.
func (r *Recorder) ObserveStep(kind, status string, elapsed time.Duration) {
	r.stepDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	r.stepOutcomes.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) PackageInstalled() {
	r.packagesInstalled.Inc()
}

func (r *Recorder) ObserveRun(status string, at time.Time) {
	r.runOutcomes.WithLabelValues(status).Inc()
	if status == "succeeded" {
		r.lastSuccess.Set(float64(at.Unix()))
	}
}

// Each invocation starts a fresh registry, so totals from earlier runs are
// seeded from the state store before the current run is observed.
func (r *Recorder) SeedRuns(status string, count int) {
	r.runOutcomes.WithLabelValues(status).Add(float64(count))
}

func (r *Recorder) SeedSteps(kind, status string, count int) {
	r.stepOutcomes.WithLabelValues(kind, status).Add(float64(count))
}

func (r *Recorder) SeedLastSuccess(at time.Time) {
	if at.IsZero() {
		return
	}
	r.lastSuccess.Set(float64(at.Unix()))
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the registry atomically to path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func TextfilePath(stateDir string) string {
	return filepath.Join(stateDir, "metrics", "provision.prom")
}
