/*
Package taskq provides named task queues served by dedicated worker threads.

Task Scheduling (pkg/scheduling):
  - taskq: Dispatch, delayed dispatch, cancellation and wait
  - system: Process-wide default queues
  - scheduler: Interval and cron scheduling on a queue
  - entrystore: Bounded task entry storage shared between queues
  - callout: Cancellable one-shot timers
  - affinity: Worker thread identity and priority

Metrics (pkg/metrics):
  - Prometheus counters, gauges and histograms per queue and entry store

Example usage:

	import (
		"github.com/vnykmshr/taskq/pkg/scheduling/system"
		"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
	)

	if err := system.Start(system.DefaultConfig()); err != nil {
		log.Fatal(err)
	}
	defer system.Stop()

	id, err := system.Queue().Dispatch(ctx, func(ctx context.Context, arg any) error {
		fmt.Println("working on", arg)
		return nil
	}, "job-1", taskq.FlagSleep)

The taskqctl command (cmd/taskqctl) drives synthetic workloads through a
queue and can expose its metrics over HTTP.
*/
package taskq
