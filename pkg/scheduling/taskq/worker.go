package taskq

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/vnykmshr/taskq/pkg/scheduling/affinity"
)

// worker serves the run list until Destroy sets stopping and the list is
// empty. The goroutine stays locked to its OS thread for its whole life and
// never unlocks, so the thread, with whatever priority it was given, exits
// together with the worker.
func (q *Queue) worker(n int, ready chan<- struct{}) {
	defer q.wg.Done()

	runtime.LockOSThread()
	tid := affinity.CurrentThreadID()

	if nice := q.priority.Nice(); nice != 0 {
		if err := affinity.SetThreadPriority(nice); err != nil {
			q.logger.Debug("thread priority not applied", "worker", n, "nice", nice, "error", err)
		}
	}

	q.registry.Bind(tid, q)
	q.mu.Lock()
	if tid != affinity.NoThread {
		q.members[tid] = struct{}{}
	}
	q.mu.Unlock()
	ready <- struct{}{}

	defer func() {
		q.registry.Unbind(tid)
		q.mu.Lock()
		delete(q.members, tid)
		q.mu.Unlock()
	}()

	for {
		e := q.next()
		if e == nil {
			return
		}
		q.run(e)
	}
}

// next blocks until an entry is available and claims it. It returns nil once
// the queue is stopping and the list is empty.
func (q *Queue) next() *Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.list.len() == 0 {
		if q.stopping {
			return nil
		}
		q.cond.Wait()
	}
	e := q.list.popFront()
	e.state.Store(int32(StateRunning))
	q.running++
	q.publishLocked()
	return e
}

func (q *Queue) run(e *Entry) {
	start := time.Now()
	panicked, err := q.invoke(e.fn, e.arg)
	elapsed := time.Since(start)

	if err != nil && !panicked {
		q.logger.Warn("task failed", "error", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running--
	q.stats.Executed++
	switch {
	case panicked:
		q.stats.Panicked++
	case err != nil:
		q.stats.Failed++
	}
	q.metrics.Executed(q.name, elapsed, err, panicked)

	q.finishEpochLocked(e)
	q.releaseLocked(e)
	q.signalLocked()
	q.publishLocked()
}

func (q *Queue) invoke(fn Func, arg any) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("task panicked: %v", r)
			q.logger.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
			if q.panicFn != nil {
				q.panicFn(q.name, r)
			}
		}
	}()
	return false, fn(q.ctx, arg)
}

func (q *Queue) finishEpochLocked(e *Entry) {
	if n := q.epochs[e.epoch] - 1; n > 0 {
		q.epochs[e.epoch] = n
	} else {
		delete(q.epochs, e.epoch)
	}
}
