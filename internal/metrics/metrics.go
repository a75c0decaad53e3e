// Package metrics exposes the Prometheus collectors of the publication
// pipeline. A nil *Pipeline is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediapub"

// Pipeline records workflow and watcher activity.
type Pipeline struct {
	transitions    *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	packages       *prometheus.GaugeVec
	uploadedBytes  prometheus.Counter
	watcherStatus  prometheus.Gauge
	workerRestarts prometheus.Counter
}

// NewPipeline registers the pipeline collectors on reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	if reg == nil {
		return nil
	}
	p := &Pipeline{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Package transitions executed, by transition and outcome.",
		}, []string{"transition", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Duration of package transitions in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"transition"}),
		packages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "packages",
			Help:      "Packages currently in each state.",
		}, []string{"state"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes handed to upload platforms.",
		}),
		watcherStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_status",
			Help:      "Mirrored watcher status (0 starting, 1 started, 2 stopping, 3 stopped).",
		}),
		workerRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_restarts_total",
			Help:      "Automatic restarts of the watcher worker process.",
		}),
	}
	reg.MustRegister(p.transitions, p.duration, p.packages, p.uploadedBytes, p.watcherStatus, p.workerRestarts)
	return p
}

// ObserveTransition records one transition run.
func (p *Pipeline) ObserveTransition(name string, elapsed time.Duration, err error) {
	if p == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	p.transitions.WithLabelValues(normalizeLabel(name), outcome).Inc()
	p.duration.WithLabelValues(normalizeLabel(name)).Observe(elapsed.Seconds())
}

// SetPackageCounts replaces the per-state gauge values.
func (p *Pipeline) SetPackageCounts(counts map[string]int) {
	if p == nil {
		return
	}
	p.packages.Reset()
	for state, n := range counts {
		p.packages.WithLabelValues(normalizeLabel(state)).Set(float64(n))
	}
}

// AddUploadedBytes adds n to the uploaded byte counter.
func (p *Pipeline) AddUploadedBytes(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.uploadedBytes.Add(float64(n))
}

// SetWatcherStatus records the mirrored watcher status.
func (p *Pipeline) SetWatcherStatus(status int) {
	if p == nil {
		return
	}
	p.watcherStatus.Set(float64(status))
}

// IncWorkerRestarts counts an automatic worker restart.
func (p *Pipeline) IncWorkerRestarts() {
	if p == nil {
		return
	}
	p.workerRestarts.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
