package taskq

import (
	"context"
	"errors"
	"time"

	"github.com/ygrebnov/errorc"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/scheduling/entrystore"
)

// Dispatch queues fn(arg) for execution and returns its ID. With FlagSleep
// the call may wait for a free entry until ctx ends; otherwise a full store
// fails with ErrCapacityExceeded. FlagFront runs the task before every task
// already queued. A failed dispatch schedules nothing and returns the zero ID.
func (q *Queue) Dispatch(ctx context.Context, fn Func, arg any, flags Flag) (ID, error) {
	if fn == nil {
		q.reject("invalid")
		return 0, tqerrors.NewValidationError("taskq", "fn", nil, "cannot be nil")
	}

	id, e, err := q.alloc(ctx, flags)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.store.Free(id)
		q.reject("closed")
		return 0, q.closedErr()
	}

	q.initEntry(e, id, fn, arg, KindNormal, OwnedByQueue, flags.front())
	q.enqueueLocked(e)
	q.stats.Dispatched++
	q.metrics.Dispatched(q.name, KindNormal.String())
	return id, nil
}

// DispatchDelay queues fn(arg) once expireAt is reached. A deadline that has
// already passed behaves exactly like Dispatch. The task enters the run list
// when its timer fires, at the head if FlagFront was given.
func (q *Queue) DispatchDelay(ctx context.Context, fn Func, arg any, flags Flag, expireAt time.Time) (ID, error) {
	d := time.Until(expireAt)
	if d <= 0 {
		return q.Dispatch(ctx, fn, arg, flags)
	}
	if fn == nil {
		q.reject("invalid")
		return 0, tqerrors.NewValidationError("taskq", "fn", nil, "cannot be nil")
	}

	id, e, err := q.alloc(ctx, flags)
	if err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.store.Free(id)
		q.reject("closed")
		return 0, q.closedErr()
	}

	q.initEntry(e, id, fn, arg, KindTimeout, OwnedByQueue, flags.front())
	e.state.Store(int32(StatePending))
	q.armed[id] = e
	e.timer = q.callout.AfterFunc(d, func() { q.fire(id) })
	q.stats.Dispatched++
	q.metrics.Dispatched(q.name, KindTimeout.String())
	q.publishLocked()
	return id, nil
}

// DispatchEntry queues fn(arg) using caller-owned storage. The queue never
// frees e. Dispatching an entry that is still pending or running on any
// queue fails with ErrEntryBusy.
func (q *Queue) DispatchEntry(fn Func, arg any, flags Flag, e *Entry) error {
	if fn == nil || e == nil {
		q.reject("invalid")
		return tqerrors.NewValidationError("taskq", "entry", e, "fn and entry are required")
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StatePending)) {
		q.reject("busy")
		return errorc.With(tqerrors.ErrEntryBusy, errorc.String("queue", q.name))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		e.state.Store(int32(StateIdle))
		q.reject("closed")
		return q.closedErr()
	}

	q.initEntry(e, 0, fn, arg, KindNormal, OwnedByCaller, flags.front())
	q.enqueueLocked(e)
	q.stats.Dispatched++
	q.metrics.Dispatched(q.name, KindNormal.String())
	return nil
}

func (q *Queue) alloc(ctx context.Context, flags Flag) (ID, *Entry, error) {
	mode := entrystore.ModeNoSleep
	if flags.sleeps() {
		mode = entrystore.ModeSleep
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id, e, err := q.store.Alloc(ctx, mode)
	if err != nil {
		q.reject(rejectReason(err))
		return 0, nil, errorc.With(err, errorc.String("queue", q.name))
	}
	return id, e, nil
}

func (q *Queue) initEntry(e *Entry, id ID, fn Func, arg any, kind Kind, owner Ownership, front bool) {
	e.fn = fn
	e.arg = arg
	e.kind = kind
	e.owner = owner
	e.front = front
	e.id = id
	e.cancelled = false
	e.timer = nil
	e.queue.Store(q)
}

// enqueueLocked links e into the run list and wakes a worker.
func (q *Queue) enqueueLocked(e *Entry) {
	e.state.Store(int32(StatePending))
	e.epoch = q.epoch
	q.epochs[e.epoch]++
	if e.front {
		q.list.pushFront(e)
	} else {
		q.list.pushBack(e)
	}
	q.cond.Signal()
	q.publishLocked()
}

// fire is the delay-gate trampoline run by the callout facility.
func (q *Queue) fire(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.armed[id]
	if !ok {
		return
	}
	delete(q.armed, id)
	e.timer = nil

	if e.cancelled {
		q.releaseLocked(e)
		q.signalLocked()
		q.publishLocked()
		return
	}
	e.kind = KindNormal
	q.enqueueLocked(e)
}

// releaseLocked returns a finished or cancelled entry to its owner.
func (q *Queue) releaseLocked(e *Entry) {
	if e.owner == OwnedByCaller {
		e.state.Store(int32(StateIdle))
		return
	}
	q.store.Free(e.id)
}

func (q *Queue) reject(reason string) {
	q.metrics.Rejected(q.name, reason)
	q.logger.Debug("dispatch rejected", "reason", reason)
}

func (q *Queue) closedErr() error {
	return errorc.With(tqerrors.ErrClosed, errorc.String("queue", q.name))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, tqerrors.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, tqerrors.ErrClosed):
		return "closed"
	default:
		return "canceled"
	}
}
