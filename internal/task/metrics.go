package task

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes scheduler activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	inFlight  prometheus.Gauge
	finished  *prometheus.CounterVec
	reset     prometheus.Counter
	abandoned prometheus.Counter
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "render_tasks_in_flight",
			Help: "Tasks currently executing in this process.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "render_tasks_finished_total",
			Help: "Task executions that reached a terminal status, by type and status.",
		}, []string{"type", "status"}),
		reset: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "render_tasks_reset_total",
			Help: "Stuck tasks returned to pending.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "render_tasks_abandoned_total",
			Help: "Stuck tasks force-failed after exhausting their attempts.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "render_task_duration_seconds",
			Help:    "Wall-clock time of one task execution.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.inFlight, m.finished, m.reset, m.abandoned, m.duration)
	}
	return m
}

func (m *Metrics) taskStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) taskFinished(typ Type, status Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.finished.WithLabelValues(string(typ), string(status)).Inc()
	m.duration.WithLabelValues(string(typ)).Observe(elapsed.Seconds())
}

func (m *Metrics) tasksReset(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reset.Add(float64(n))
}

func (m *Metrics) tasksAbandoned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.abandoned.Add(float64(n))
}
