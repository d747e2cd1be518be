/*
Package scheduling provides task queue primitives for Go applications.

This package groups the components that make up taskq:

  - taskq: named queues of worker threads running dispatched functions
  - system: process-wide default queues
  - scheduler: one-time, interval and cron scheduling on top of a queue
  - entrystore: bounded, generation-checked storage for task entries
  - callout: one-shot cancellable timers used by delayed dispatch
  - affinity: OS thread identity and worker priority

Task Queues:

A queue owns a fixed set of workers, each locked to its own OS thread:

	q, err := taskq.Create("io", 4, taskq.PriorityNormal, 0)
	if err != nil {
		return err
	}
	defer q.Destroy()

	id, err := q.Dispatch(ctx, work, arg, taskq.FlagSleep)
	q.Cancel(id)      // false once the task has started
	q.Wait(ctx)       // everything dispatched so far has finished

Delayed Dispatch:

	id, err := q.DispatchDelay(ctx, work, arg, taskq.FlagSleep, time.Now().Add(time.Second))
	q.WaitID(ctx, id)

System Queues:

	system.Start(system.ConfigFromEnv())
	defer system.Stop()

	system.Queue().Dispatch(ctx, work, arg, taskq.FlagNoSleep)

Scheduler:

	s, _ := scheduler.NewWithConfig(scheduler.Config{Queue: system.DelayQueue()})
	s.Start()
	defer func() { <-s.Stop() }()

	s.ScheduleCron("report", "0 0 9 * * 1-5", work) // Weekdays at 9 AM

All components are safe for concurrent use and accept a context wherever
a call can block.
*/
package scheduling
