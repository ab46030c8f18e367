// ABOUTME: Prometheus metrics for assignment and redistribution outcomes
// ABOUTME: Counters are registered once via promauto on the default registry

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the engine's operational counters.
type Recorder struct {
	assignmentsTotal     *prometheus.CounterVec
	queuedTotal          *prometheus.CounterVec
	redistributedTotal   prometheus.Counter
	assignConflictsTotal prometheus.Counter
	offlineSweepsTotal   prometheus.Counter
}

// NewRecorder creates and registers the engine's metrics.
// Call at most once per process.
func NewRecorder() *Recorder {
	return &Recorder{
		assignmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportd_assignments_total",
				Help: "Total number of conversations assigned to agents by kind",
			},
			[]string{"kind"},
		),
		queuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportd_queued_total",
				Help: "Total number of conversations placed in the waiting queue by priority",
			},
			[]string{"priority"},
		),
		redistributedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "supportd_redistributed_total",
				Help: "Total number of conversations reassigned after their agent went offline",
			},
		),
		assignConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "supportd_assignment_conflicts_total",
				Help: "Total number of assignment attempts that hit a concurrent capacity conflict",
			},
		),
		offlineSweepsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "supportd_offline_sweeps_total",
				Help: "Total number of agents marked offline by the presence sweep",
			},
		),
	}
}

// IncAssignment records a successful assignment ("first_assignment" or "transfer").
// All Inc methods are nil-safe so callers without metrics can pass a nil Recorder.
func (r *Recorder) IncAssignment(kind string) {
	if r == nil {
		return
	}
	r.assignmentsTotal.WithLabelValues(kind).Inc()
}

// IncQueued records a conversation entering the waiting queue
func (r *Recorder) IncQueued(priority string) {
	if r == nil {
		return
	}
	r.queuedTotal.WithLabelValues(priority).Inc()
}

// IncRedistributed records a conversation successfully reassigned
func (r *Recorder) IncRedistributed() {
	if r == nil {
		return
	}
	r.redistributedTotal.Inc()
}

// IncAssignConflict records a capacity conflict during assignment
func (r *Recorder) IncAssignConflict() {
	if r == nil {
		return
	}
	r.assignConflictsTotal.Inc()
}

// IncOfflineSweep records an agent marked offline by the presence sweep
func (r *Recorder) IncOfflineSweep() {
	if r == nil {
		return
	}
	r.offlineSweepsTotal.Inc()
}
