// Package metrics provides Prometheus instrumentation for taskq components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "taskq"

// Registry holds all metric instances for taskq components.
// All methods are safe on a nil *Registry and do nothing.
type Registry struct {
	// Task Queue Metrics
	TasksDispatched *prometheus.CounterVec
	TasksExecuted   *prometheus.CounterVec
	TasksFailed     *prometheus.CounterVec
	TasksPanicked   *prometheus.CounterVec
	TasksCancelled  *prometheus.CounterVec
	TasksRejected   *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	QueueRunning    *prometheus.GaugeVec
	QueueDelayed    *prometheus.GaugeVec
	QueueWorkers    *prometheus.GaugeVec

	// Entry Store Metrics
	StoreCapacity *prometheus.GaugeVec
	StoreInUse    *prometheus.GaugeVec
}

// DefaultRegistry is the default metrics registry used by taskq components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, DefaultNamespace)
}

func newRegistry(reg prometheus.Registerer, namespace string) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		TasksDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "tasks_dispatched_total",
				Help:      "Total number of tasks accepted by a queue",
			},
			[]string{"queue", "kind"},
		),

		TasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks run by queue workers",
			},
			[]string{"queue"},
		),

		TasksFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "tasks_failed_total",
				Help:      "Total number of tasks that returned an error",
			},
			[]string{"queue"},
		),

		TasksPanicked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "tasks_panicked_total",
				Help:      "Total number of tasks that panicked",
			},
			[]string{"queue"},
		),

		TasksCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "tasks_cancelled_total",
				Help:      "Total number of pending tasks removed before running",
			},
			[]string{"queue"},
		),

		TasksRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "tasks_rejected_total",
				Help:      "Total number of dispatch calls that did not schedule work",
			},
			[]string{"queue", "reason"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "task_duration_seconds",
				Help:      "Time spent executing tasks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "pending_tasks",
				Help:      "Number of tasks waiting on the run list",
			},
			[]string{"queue"},
		),

		QueueRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "running_tasks",
				Help:      "Number of tasks currently executing",
			},
			[]string{"queue"},
		),

		QueueDelayed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "delayed_tasks",
				Help:      "Number of delayed tasks waiting for their deadline",
			},
			[]string{"queue"},
		),

		QueueWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "workers",
				Help:      "Number of worker threads serving a queue",
			},
			[]string{"queue"},
		),

		StoreCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entrystore",
				Name:      "capacity",
				Help:      "Maximum number of entries a store can hand out",
			},
			[]string{"store"},
		),

		StoreInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "entrystore",
				Name:      "in_use",
				Help:      "Number of entries currently allocated",
			},
			[]string{"store"},
		),
	}
}

// QueueGauges carries one snapshot of a queue's gauges.
type QueueGauges struct {
	Pending int
	Running int
	Delayed int
	Workers int
}

// Dispatched counts an accepted dispatch of the given kind.
func (r *Registry) Dispatched(queue, kind string) {
	if r == nil {
		return
	}
	r.TasksDispatched.WithLabelValues(queue, kind).Inc()
}

// Rejected counts a dispatch that scheduled nothing.
func (r *Registry) Rejected(queue, reason string) {
	if r == nil {
		return
	}
	r.TasksRejected.WithLabelValues(queue, reason).Inc()
}

// Cancelled counts a pending task removed before it ran.
func (r *Registry) Cancelled(queue string) {
	if r == nil {
		return
	}
	r.TasksCancelled.WithLabelValues(queue).Inc()
}

// Executed records one finished task.
func (r *Registry) Executed(queue string, d time.Duration, err error, panicked bool) {
	if r == nil {
		return
	}
	r.TasksExecuted.WithLabelValues(queue).Inc()
	r.TaskDuration.WithLabelValues(queue).Observe(d.Seconds())
	switch {
	case panicked:
		r.TasksPanicked.WithLabelValues(queue).Inc()
	case err != nil:
		r.TasksFailed.WithLabelValues(queue).Inc()
	}
}

// SetQueueGauges publishes a queue snapshot.
func (r *Registry) SetQueueGauges(queue string, g QueueGauges) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(queue).Set(float64(g.Pending))
	r.QueueRunning.WithLabelValues(queue).Set(float64(g.Running))
	r.QueueDelayed.WithLabelValues(queue).Set(float64(g.Delayed))
	r.QueueWorkers.WithLabelValues(queue).Set(float64(g.Workers))
}

// SetStoreGauges publishes entry store occupancy.
func (r *Registry) SetStoreGauges(store string, capacity, inUse int) {
	if r == nil {
		return
	}
	r.StoreCapacity.WithLabelValues(store).Set(float64(capacity))
	r.StoreInUse.WithLabelValues(store).Set(float64(inUse))
}

// ForgetQueue drops every series labelled with the queue name.
func (r *Registry) ForgetQueue(queue string) {
	if r == nil {
		return
	}
	labels := prometheus.Labels{"queue": queue}
	for _, vec := range []*prometheus.MetricVec{
		r.TasksDispatched.MetricVec,
		r.TasksExecuted.MetricVec,
		r.TasksFailed.MetricVec,
		r.TasksPanicked.MetricVec,
		r.TasksCancelled.MetricVec,
		r.TasksRejected.MetricVec,
		r.TaskDuration.MetricVec,
		r.QueueDepth.MetricVec,
		r.QueueRunning.MetricVec,
		r.QueueDelayed.MetricVec,
		r.QueueWorkers.MetricVec,
	} {
		vec.DeletePartialMatch(labels)
	}
}

// ForgetStore drops the series of a closed store.
func (r *Registry) ForgetStore(store string) {
	if r == nil {
		return
	}
	r.StoreCapacity.DeleteLabelValues(store)
	r.StoreInUse.DeleteLabelValues(store)
}
