// Package system runs the two process-wide queues, system_taskq and
// system_delay_taskq, for callers that do not need a dedicated pool.
//
// The queues share one entry store and one callout wheel. Start creates them
// once during process startup and Stop tears them down once during shutdown,
// queues first and the shared store last:
//
//	if err := system.Start(system.ConfigFromEnv()); err != nil {
//		return err
//	}
//	defer system.Stop()
//
//	system.Queue().Dispatch(ctx, fn, arg, taskq.FlagSleep)
package system

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/ygrebnov/errorc"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/scheduling/callout"
	"github.com/vnykmshr/taskq/pkg/scheduling/entrystore"
	"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
)

// Queue names.
const (
	QueueName      = "system_taskq"
	DelayQueueName = "system_delay_taskq"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("system: already started")

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Service owns the process-wide queues and their shared resources.
type Service struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	state state
	store *entrystore.Store[taskq.Entry]
	wheel *callout.Wheel
	queue *taskq.Queue
	delay *taskq.Queue
}

// New returns a stopped service. Call Start to create the queues.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger}
}

// Start creates the shared store, the callout wheel and both queues. It is
// effective once: a running service returns ErrAlreadyStarted and a stopped
// one returns ErrClosed.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return errorc.With(tqerrors.ErrClosed, errorc.String("service", "system"))
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	store, err := entrystore.New[taskq.Entry](s.cfg.MaxEntries)
	if err != nil {
		return err
	}
	wheel := callout.NewWheel()

	opts := []taskq.Option{
		taskq.WithLogger(s.logger),
		taskq.WithStore(store),
		taskq.WithCallout(wheel),
		taskq.WithMetrics(s.cfg.Metrics),
	}

	queue, err := taskq.Create(QueueName, s.cfg.threads(), s.cfg.Priority, 0, opts...)
	if err != nil {
		wheel.Close()
		store.Close()
		return tqerrors.NewOperationError("system", "start", err).WithContext(QueueName)
	}
	delay, err := taskq.Create(DelayQueueName, s.cfg.threads(), s.cfg.Priority, 0, opts...)
	if err != nil {
		_ = queue.Destroy()
		wheel.Close()
		store.Close()
		return tqerrors.NewOperationError("system", "start", err).WithContext(DelayQueueName)
	}

	s.store, s.wheel, s.queue, s.delay = store, wheel, queue, delay
	s.state = stateRunning
	return nil
}

// Stop drains and destroys both queues, then releases the callout wheel and
// finally the entry store. Stopping a service that is not running returns
// ErrClosed.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return errorc.With(tqerrors.ErrClosed, errorc.String("service", "system"))
	}
	// A worker of either queue cannot wait for its own queue to drain.
	if cur := taskq.Current(); cur != nil && (cur == s.queue || cur == s.delay) {
		return errorc.With(taskq.ErrDestroyFromWorker, errorc.String("queue", cur.Name()))
	}
	s.state = stateStopped

	if err := errors.Join(s.queue.Destroy(), s.delay.Destroy()); err != nil {
		return err
	}
	if n := s.wheel.Close(); n > 0 {
		s.logger.Warn("callouts dropped on stop", "count", n)
	}
	s.store.Close()
	s.cfg.Metrics.ForgetStore(QueueName)
	return nil
}

// Queue returns system_taskq, or nil when the service is not running.
func (s *Service) Queue() *taskq.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateRunning {
		return nil
	}
	return s.queue
}

// DelayQueue returns system_delay_taskq, or nil when the service is not running.
func (s *Service) DelayQueue() *taskq.Queue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateRunning {
		return nil
	}
	return s.delay
}

// StoreStats reports the shared entry store and publishes its gauges.
func (s *Service) StoreStats() entrystore.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return entrystore.Stats{}
	}
	st := s.store.Stats()
	s.cfg.Metrics.SetStoreGauges(QueueName, st.Capacity, st.InUse)
	return st
}

var (
	defaultMu      sync.Mutex
	defaultService *Service
)

// Start starts the process singleton with cfg.
func Start(cfg Config) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultService != nil {
		return ErrAlreadyStarted
	}
	svc := New(cfg)
	if err := svc.Start(); err != nil {
		return err
	}
	defaultService = svc
	return nil
}

// Stop stops the process singleton. A later Start creates a fresh one.
func Stop() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultService == nil {
		return errorc.With(tqerrors.ErrClosed, errorc.String("service", "system"))
	}
	err := defaultService.Stop()
	defaultService = nil
	return err
}

// Queue returns the singleton's system_taskq, or nil before Start.
func Queue() *taskq.Queue {
	defaultMu.Lock()
	svc := defaultService
	defaultMu.Unlock()
	if svc == nil {
		return nil
	}
	return svc.Queue()
}

// DelayQueue returns the singleton's system_delay_taskq, or nil before Start.
func DelayQueue() *taskq.Queue {
	defaultMu.Lock()
	svc := defaultService
	defaultMu.Unlock()
	if svc == nil {
		return nil
	}
	return svc.DelayQueue()
}
