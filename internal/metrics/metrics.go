// Package metrics records lifecycle measurements in a dedicated Prometheus
// registry and writes them out in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "metalctl"

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Recorder holds the lifecycle metrics of one metalctl invocation.
type Recorder struct {
	registry          *prometheus.Registry
	verbDuration      *prometheus.HistogramVec
	machinesConverged *prometheus.CounterVec
	machinesDeleted   *prometheus.CounterVec
}

// New builds a Recorder backed by its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		verbDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verb_duration_seconds",
			Help:      "Duration of lifecycle verbs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"instance", "verb", "result"}),
		machinesConverged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machines_converged_total",
			Help:      "Machines recorded in session state after convergence.",
		}, []string{"instance"}),
		machinesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "machines_deleted_total",
			Help:      "Machine deletions attempted through provisioners.",
		}, []string{"instance", "result"}),
	}
	r.registry.MustRegister(r.verbDuration, r.machinesConverged, r.machinesDeleted)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveVerb records how long verb took and whether it failed.
func (r *Recorder) ObserveVerb(instance, verb string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.verbDuration.WithLabelValues(instance, verb, result(err)).Observe(elapsed.Seconds())
}

// MachinesConverged adds n newly tracked machines.
func (r *Recorder) MachinesConverged(instance string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.machinesConverged.WithLabelValues(instance).Add(float64(n))
}

// MachineDeleted counts one deletion attempt.
func (r *Recorder) MachineDeleted(instance string, err error) {
	if r == nil {
		return
	}
	r.machinesDeleted.WithLabelValues(instance, result(err)).Inc()
}

// WriteTextfile writes every gathered metric to path, creating its directory.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
