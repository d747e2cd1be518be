package taskq

import (
	"context"
)

// Wait blocks until every task queued before the call has finished. Tasks
// queued after Wait starts, and delayed tasks whose timer has not fired, are
// not waited for.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	target := q.epoch
	q.epoch++
	q.mu.Unlock()

	return q.waitUntil(ctx, func() bool {
		for ep := range q.epochs {
			if ep <= target {
				return false
			}
		}
		return true
	})
}

// WaitOutstanding waits for the whole queue, as Wait does. id is accepted
// for call-site symmetry with WaitID.
func (q *Queue) WaitOutstanding(ctx context.Context, id ID) error {
	return q.Wait(ctx)
}

// WaitID blocks until the task identified by id has finished running or was
// cancelled. A delayed task is waited for through its deadline. Unknown or
// already finished IDs return immediately.
func (q *Queue) WaitID(ctx context.Context, id ID) error {
	return q.waitUntil(ctx, func() bool {
		return q.lookupLocked(id) == nil
	})
}

// WaitEntry blocks until a caller-owned entry dispatched to q is idle again.
func (q *Queue) WaitEntry(ctx context.Context, e *Entry) error {
	if e == nil {
		return nil
	}
	return q.waitUntil(ctx, func() bool {
		return e.queue.Load() != q || e.State() == StateIdle
	})
}

// waitUntil blocks until done, evaluated under q.mu, returns true.
func (q *Queue) waitUntil(ctx context.Context, done func() bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.Lock()
	for !done() {
		ch := q.changed
		q.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		q.mu.Lock()
	}
	q.mu.Unlock()
	return nil
}

// Cancel prevents a task that has not started from running. It returns true
// if the task was still pending. A running, finished, unknown or foreign ID
// returns false and is otherwise a no-op.
func (q *Queue) Cancel(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.lookupLocked(id)
	if e == nil {
		return false
	}
	return q.cancelLocked(e)
}

// CancelEntry is Cancel for caller-owned entries.
func (q *Queue) CancelEntry(e *Entry) bool {
	if e == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.queue.Load() != q {
		return false
	}
	return q.cancelLocked(e)
}

func (q *Queue) cancelLocked(e *Entry) bool {
	if e.State() != StatePending {
		return false
	}

	if e.kind == KindTimeout {
		if e.cancelled {
			return false
		}
		if !e.timer.Stop() {
			// Fired but not yet handed over; the trampoline frees it.
			e.cancelled = true
			q.countCancelLocked()
			return true
		}
		delete(q.armed, e.id)
		q.releaseLocked(e)
		q.countCancelLocked()
		q.signalLocked()
		q.publishLocked()
		return true
	}

	if !q.list.remove(e) {
		return false
	}
	q.finishEpochLocked(e)
	q.releaseLocked(e)
	q.countCancelLocked()
	q.signalLocked()
	q.publishLocked()
	return true
}

func (q *Queue) countCancelLocked() {
	q.stats.Cancelled++
	q.metrics.Cancelled(q.name)
}

// lookupLocked resolves a queue-owned ID dispatched to q. Caller holds q.mu.
func (q *Queue) lookupLocked(id ID) *Entry {
	var e *Entry
	q.store.Inspect(id, func(x *Entry) {
		if x.queue.Load() == q {
			e = x
		}
	})
	return e
}
