/*
Package taskq implements named pools of worker threads that run queued
function calls.

# Overview

A Queue owns a run list and a fixed set of workers. Producers dispatch a
function and argument; a worker pops the entry, runs it and releases it:

	q, err := taskq.Create("io", 4, taskq.PriorityNormal, 0)
	if err != nil {
		return err
	}
	defer q.Destroy()

	id, err := q.Dispatch(ctx, flush, buf, taskq.FlagSleep)

Tasks dispatched without FlagFront start in dispatch order relative to each
other. FlagFront inserts at the head of the run list, ahead of every task that
has not started.

# Delayed tasks

DispatchDelay arms a timer and hands the task to the run list when it fires.
Its position is decided by the firing time, not the dispatch call. A deadline
in the past dispatches immediately.

# Entries and ownership

Entries returned by Dispatch and DispatchDelay belong to the queue and are
freed after they run. Their IDs are generation checked, so a stale ID never
names a newer task. Callers that keep their own storage use DispatchEntry
with an Entry they own; the queue never frees it, and dispatching it again
while it is pending or running fails with ErrEntryBusy.

# Cancel and wait

Cancel removes a task that has not started and reports whether it did.
Running tasks are never interrupted. Wait blocks until every task queued
before the call has finished; WaitID waits for a single task.

# Worker threads

Each worker is locked to its own OS thread, which carries the queue's
priority and is registered in the affinity registry. Code running on a
worker can find its queue with Current, or portably with FromContext on the
task context.
*/
package taskq
