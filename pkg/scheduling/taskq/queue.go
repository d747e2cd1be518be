package taskq

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ygrebnov/errorc"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/common/validation"
	"github.com/vnykmshr/taskq/pkg/metrics"
	"github.com/vnykmshr/taskq/pkg/scheduling/affinity"
	"github.com/vnykmshr/taskq/pkg/scheduling/callout"
	"github.com/vnykmshr/taskq/pkg/scheduling/entrystore"
)

// ErrDestroyFromWorker is returned when a queue's own task tries to destroy
// it. The drain would wait for the calling task forever.
var ErrDestroyFromWorker = errors.New("taskq: destroy called from a worker of the same queue")

// Stats is a snapshot of queue state and lifetime counters.
type Stats struct {
	Pending    int
	Running    int
	Delayed    int
	Workers    int
	Dispatched uint64
	Executed   uint64
	Failed     uint64
	Panicked   uint64
	Cancelled  uint64
}

// Queue is a named pool of worker threads serving one run list.
type Queue struct {
	name     string
	threads  int
	priority Priority

	logger   *slog.Logger
	metrics  *metrics.Registry
	store    *entrystore.Store[Entry]
	ownStore bool
	callout  callout.Facility
	ownWheel *callout.Wheel
	registry *affinity.Registry
	panicFn  func(string, any)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cond     *sync.Cond
	list     runList
	running  int
	armed    map[ID]*Entry
	members  map[affinity.ThreadID]struct{}
	epoch    uint64
	epochs   map[uint64]int
	changed  chan struct{}
	closed   bool // no new dispatches
	stopping bool // workers exit once the list is empty
	stats    Stats
}

type ctxKey struct{}

// Create starts a queue with threads workers at priority pri. With
// FlagThreadsCPUPercent, threads is a percentage of GOMAXPROCS and at least
// one worker is started. All workers are running when Create returns.
func Create(name string, threads int, pri Priority, flags CreateFlag, opts ...Option) (*Queue, error) {
	if err := validation.ValidateNotEmpty("taskq", "name", name); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("taskq", "threads", threads); err != nil {
		return nil, err
	}
	if err := validation.ValidateRange("taskq", "priority", int(pri), int(PriorityLow), int(PriorityHigh)); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	q := &Queue{
		name:     name,
		threads:  effectiveThreads(threads, flags),
		priority: pri,
		metrics:  cfg.metrics,
		store:    cfg.store,
		callout:  cfg.callout,
		registry: cfg.registry,
		panicFn:  cfg.panicHandler,
		armed:    make(map[ID]*Entry),
		members:  make(map[affinity.ThreadID]struct{}),
		epoch:    1,
		epochs:   make(map[uint64]int),
		changed:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	q.logger = logger.With("queue", name)

	if q.store == nil {
		store, err := entrystore.New[Entry](cfg.maxEntries)
		if err != nil {
			return nil, err
		}
		q.store = store
		q.ownStore = true
	}
	if q.callout == nil {
		q.ownWheel = callout.NewWheel()
		q.callout = q.ownWheel
	}

	base, cancel := context.WithCancel(cfg.parent)
	q.ctx = context.WithValue(base, ctxKey{}, q)
	q.cancel = cancel

	ready := make(chan struct{}, q.threads)
	for i := 0; i < q.threads; i++ {
		q.wg.Add(1)
		go q.worker(i, ready)
	}
	for i := 0; i < q.threads; i++ {
		<-ready
	}

	q.mu.Lock()
	q.publishLocked()
	q.mu.Unlock()

	q.logger.Info("queue created", "threads", q.threads, "priority", pri.String())
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Threads returns the number of workers.
func (q *Queue) Threads() int { return q.threads }

// Priority returns the worker priority class.
func (q *Queue) Priority() Priority { return q.priority }

// Destroy stops accepting work, cancels delayed tasks that have not fired,
// waits for every pending and running task to finish and then stops the
// workers. It must be called once; later calls return ErrClosed.
func (q *Queue) Destroy() error {
	if q.isWorkerThread() {
		return ErrDestroyFromWorker
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errorc.With(tqerrors.ErrClosed, errorc.String("queue", q.name))
	}
	q.closed = true

	dropped := 0
	for id, e := range q.armed {
		if e.cancelled {
			continue
		}
		dropped++
		q.metrics.Cancelled(q.name)
		if e.timer.Stop() {
			delete(q.armed, id)
			q.releaseLocked(e)
			continue
		}
		// The trampoline is already on its way and will release the entry.
		e.cancelled = true
	}
	if dropped > 0 {
		q.stats.Cancelled += uint64(dropped)
		q.logger.Warn("cancelled delayed tasks on destroy", "count", dropped)
	}

	for q.list.len() > 0 || q.running > 0 || len(q.armed) > 0 {
		ch := q.changed
		q.mu.Unlock()
		<-ch
		q.mu.Lock()
	}
	q.stopping = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()

	if q.ownWheel != nil {
		q.ownWheel.Close()
	}
	if q.ownStore {
		q.store.Close()
		q.metrics.ForgetStore(q.name)
	}
	q.metrics.ForgetQueue(q.name)

	q.logger.Info("queue destroyed", "executed", q.stats.Executed)
	return nil
}

// Stats returns a snapshot of the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.list.len()
	s.Running = q.running
	s.Delayed = len(q.armed)
	s.Workers = len(q.members)
	return s
}

// IsMember reports whether tid is one of the queue's workers.
func (q *Queue) IsMember(tid affinity.ThreadID) bool {
	if tid == affinity.NoThread {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.members[tid]
	return ok
}

func (q *Queue) isWorkerThread() bool {
	owner, ok := q.registry.Current()
	return ok && owner == q
}

// Current returns the queue whose worker is the calling thread, or nil.
// It relies on OS thread ids; inside a task FromContext works everywhere.
func Current() *Queue {
	owner, ok := affinity.Default.Current()
	if !ok {
		return nil
	}
	q, _ := owner.(*Queue)
	return q
}

// FromContext returns the queue executing the task that received ctx.
func FromContext(ctx context.Context) *Queue {
	q, _ := ctx.Value(ctxKey{}).(*Queue)
	return q
}

// publishLocked pushes gauges to the metrics registry. Caller holds q.mu.
func (q *Queue) publishLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.SetQueueGauges(q.name, metrics.QueueGauges{
		Pending: q.list.len(),
		Running: q.running,
		Delayed: len(q.armed),
		Workers: len(q.members),
	})
	if q.ownStore {
		st := q.store.Stats()
		q.metrics.SetStoreGauges(q.name, st.Capacity, st.InUse)
	}
}

// signalLocked wakes every waiter blocked on a state change.
func (q *Queue) signalLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
