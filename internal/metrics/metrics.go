// Package metrics exports checkout counters for node_exporter's textfile
// collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

// Recorder turns scheduler events into prometheus series on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	// transitions counts node transitions.
	// Labels: kind (discovered, started, completed, failed, skipped, blocked, cancelled)
	transitions *prometheus.CounterVec

	// checkoutDuration measures wall time per checkout.
	// Labels: outcome (completed, failed)
	checkoutDuration *prometheus.HistogramVec

	// inflight is the number of checkouts currently running.
	inflight prometheus.Gauge

	mu      sync.Mutex
	running map[string]struct{}
}

// NewRecorder creates a recorder with a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gsync",
			Subsystem: "scheduler",
			Name:      "node_transitions_total",
			Help:      "Node state transitions seen by the scheduler",
		}, []string{"kind"}),
		checkoutDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gsync",
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Checkout operation latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gsync",
			Subsystem: "checkout",
			Name:      "inflight",
			Help:      "Checkouts currently running",
		}),
		running: make(map[string]struct{}),
	}
}

// Registry exposes the underlying gatherer.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// OnEvent implements scheduler.Observer.
func (r *Recorder) OnEvent(ev scheduler.Event) {
	r.transitions.WithLabelValues(string(ev.Kind)).Inc()
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev.Kind {
	case scheduler.EventStarted:
		r.running[ev.Node] = struct{}{}
		r.inflight.Inc()
	case scheduler.EventCompleted, scheduler.EventFailed:
		// Failures raised while settling never started.
		if _, ok := r.running[ev.Node]; !ok {
			return
		}
		delete(r.running, ev.Node)
		r.inflight.Dec()
		r.checkoutDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
	}
}

// WriteTextfile writes the current series to path in the text exposition
// format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: ensure dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}

var _ scheduler.Observer = (*Recorder)(nil)
