package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the daemon's runtime gauges, registered against a
// dedicated registry rather than the global default so multiple Daemon
// instances in one process (as in tests) never collide on registration.
type metrics struct {
	registry       *prometheus.Registry
	tasksCompleted prometheus.Gauge
	tasksFailed    prometheus.Gauge
	queueDepth     prometheus.Gauge
	activeTasks    prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		tasksCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unclaude_daemon_tasks_completed_total",
			Help: "Tasks completed since the daemon started.",
		}),
		tasksFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unclaude_daemon_tasks_failed_total",
			Help: "Tasks terminally failed since the daemon started.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unclaude_daemon_queue_depth",
			Help: "Tasks currently queued and not yet picked up.",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unclaude_daemon_active_tasks",
			Help: "Tasks currently running in the agent iteration loop.",
		}),
	}
	reg.MustRegister(m.tasksCompleted, m.tasksFailed, m.queueDepth, m.activeTasks)
	return m
}

func (m *metrics) update(st Status) {
	if m == nil {
		return
	}
	m.tasksCompleted.Set(float64(st.TasksCompleted))
	m.tasksFailed.Set(float64(st.TasksFailed))
	m.queueDepth.Set(float64(st.QueuePending))
	m.activeTasks.Set(float64(st.ActiveTasks))
}

// Registry exposes the underlying prometheus registry so an embedder can
// serve it over its own HTTP mux (promhttp.HandlerFor) rather than this
// package owning a listener.
func (m *metrics) Registry() *prometheus.Registry {
	return m.registry
}
