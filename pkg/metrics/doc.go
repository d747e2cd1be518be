// Package metrics provides Prometheus instrumentation for taskq components.
//
// Queues and entry stores report through a *Registry. A nil *Registry is a
// valid, disabled registry, so components call its methods unconditionally.
//
// # Quick Start
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewRegistry(reg)
//
//	q, err := taskq.Create("io", 4, taskq.PriorityNormal, 0, taskq.WithMetrics(m))
//
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
//
// # Custom Registry
//
// Config builds a registry with a custom registerer or namespace:
//
//	m := metrics.Config{Enabled: true, Registry: reg, Namespace: "myapp"}.Build()
//
// # Available Metrics
//
// Queue metrics, labelled by queue:
//   - taskq_queue_tasks_dispatched_total{queue,kind}
//   - taskq_queue_tasks_executed_total, taskq_queue_tasks_failed_total
//   - taskq_queue_tasks_panicked_total, taskq_queue_tasks_cancelled_total
//   - taskq_queue_tasks_rejected_total{queue,reason}
//   - taskq_queue_task_duration_seconds
//   - taskq_queue_pending_tasks, taskq_queue_running_tasks
//   - taskq_queue_delayed_tasks, taskq_queue_workers
//
// Entry store metrics, labelled by store:
//   - taskq_entrystore_capacity
//   - taskq_entrystore_in_use
//
// A destroyed queue drops its series through ForgetQueue.
package metrics
