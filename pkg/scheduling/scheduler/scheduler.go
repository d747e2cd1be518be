package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ygrebnov/errorc"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/common/validation"
	"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
)

// ErrTaskExists is returned when scheduling under an ID that is already in use.
var ErrTaskExists = errors.New("scheduler: task already exists")

// Task describes a scheduled task.
type Task struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration // Zero for one-time and cron tasks
	Cron     string        // Empty unless scheduled with a cron expression
	Created  time.Time
	Runs     int
}

// Scheduler runs tasks at fixed times, fixed intervals or on cron schedules.
// Every occurrence is a delayed dispatch on a task queue; the next occurrence
// is armed before the current one runs.
type Scheduler interface {
	// Basic scheduling
	Schedule(id string, fn taskq.Func, runAt time.Time) error
	ScheduleAfter(id string, fn taskq.Func, delay time.Duration) error
	ScheduleRepeating(id string, fn taskq.Func, interval time.Duration) error

	// Cron scheduling
	ScheduleCron(id string, cronExpr string, fn taskq.Func) error
	ScheduleCronWithOptions(id string, cronExpr string, fn taskq.Func, opts CronOptions) error

	// Task management
	Cancel(id string) bool
	CancelAll()
	List() []Task
	Next(id string) (time.Time, error)

	// Lifecycle
	Start() error
	Stop() <-chan struct{}
}

// Config holds scheduler configuration.
type Config struct {
	Queue    *taskq.Queue   // Queue running the tasks; if nil the scheduler creates its own
	Threads  int            // Workers of the scheduler's own queue (default: 4)
	Location *time.Location // For cron scheduling
	MaxTasks int            // Maximum number of scheduled tasks (default: 10000)
	Logger   *slog.Logger
}

type scheduledTask struct {
	id       string
	fn       taskq.Func
	runAt    time.Time
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	loc      *time.Location
	opts     CronOptions
	created  time.Time
	runs     int

	armed   taskq.ID
	gen     uint64
	running bool
}

type scheduler struct {
	queue    *taskq.Queue
	ownQueue bool
	location *time.Location
	maxTasks int
	parser   cron.Parser
	logger   *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	gen     uint64
	running bool
	stopped bool
}

// New creates a scheduler with default configuration.
func New() (Scheduler, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates a scheduler with custom configuration.
func NewWithConfig(cfg Config) (Scheduler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10000
	}

	s := &scheduler{
		queue:    cfg.Queue,
		location: location,
		maxTasks: maxTasks,
		parser:   newParser(),
		logger:   logger.With("component", "scheduler"),
		tasks:    make(map[string]*scheduledTask),
	}

	if s.queue == nil {
		threads := cfg.Threads
		if threads <= 0 {
			threads = 4
		}
		q, err := taskq.Create("scheduler", threads, taskq.PriorityNormal, 0, taskq.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		s.queue = q
		s.ownQueue = true
	}
	return s, nil
}

func validateID(id string) error {
	if err := validation.ValidateNotEmpty("scheduler", "id", id); err != nil {
		return err
	}
	if len(id) > 255 {
		return tqerrors.NewValidationError("scheduler", "id", len(id), "too long").
			WithHint("use at most 255 characters")
	}
	return nil
}

func validateFunc(fn taskq.Func) error {
	if fn == nil {
		return tqerrors.NewValidationError("scheduler", "task", nil, "cannot be nil")
	}
	return nil
}

func (s *scheduler) Schedule(id string, fn taskq.Func, runAt time.Time) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := validateFunc(fn); err != nil {
		return err
	}
	if runAt.IsZero() {
		return tqerrors.NewValidationError("scheduler", "run_at", runAt, "cannot be zero")
	}
	return s.add(&scheduledTask{id: id, fn: fn, runAt: runAt})
}

func (s *scheduler) ScheduleAfter(id string, fn taskq.Func, delay time.Duration) error {
	return s.Schedule(id, fn, time.Now().Add(delay))
}

func (s *scheduler) ScheduleRepeating(id string, fn taskq.Func, interval time.Duration) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := validateFunc(fn); err != nil {
		return err
	}
	if err := validation.ValidatePositiveDuration("scheduler", "interval", interval); err != nil {
		return err
	}
	return s.add(&scheduledTask{id: id, fn: fn, runAt: time.Now(), interval: interval})
}

// add registers t and arms it if the scheduler is running.
func (s *scheduler) add(t *scheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errorc.With(tqerrors.ErrClosed, errorc.String("scheduler", "stopped"))
	}
	if _, exists := s.tasks[t.id]; exists {
		return errorc.With(ErrTaskExists, errorc.String("id", t.id))
	}
	if len(s.tasks) >= s.maxTasks {
		return errorc.With(tqerrors.ErrCapacityExceeded, errorc.String("scheduler", "maximum number of tasks reached"))
	}

	t.created = time.Now()
	if s.running {
		if err := s.armLocked(t); err != nil {
			return err
		}
	}
	s.tasks[t.id] = t
	return nil
}

// armLocked dispatches the next occurrence of t. Caller holds s.mu.
func (s *scheduler) armLocked(t *scheduledTask) error {
	s.gen++
	t.gen = s.gen
	id, err := s.queue.DispatchDelay(context.Background(), s.occurrence(t, t.gen), nil, taskq.FlagNoSleep, t.runAt)
	if err != nil {
		return tqerrors.NewOperationError("scheduler", "arm", err).WithContext(t.id)
	}
	t.armed = id
	return nil
}

// occurrence returns the queue task for one run of t. gen pins the closure to
// the arming that created it so a cancelled or replaced task never runs.
func (s *scheduler) occurrence(t *scheduledTask, gen uint64) taskq.Func {
	return func(ctx context.Context, _ any) error {
		s.mu.Lock()
		if cur, ok := s.tasks[t.id]; !ok || cur != t || t.gen != gen {
			s.mu.Unlock()
			return nil
		}
		t.armed = 0

		if t.running && t.opts.SkipIfStillRunning {
			s.rescheduleLocked(t, time.Now())
			info := t.info()
			s.mu.Unlock()
			s.logger.Debug("skipped overlapping run", "id", t.id)
			if t.opts.OnSkip != nil {
				t.opts.OnSkip(info, "previous run still in progress")
			}
			return nil
		}

		t.runs++
		t.running = true
		s.rescheduleLocked(t, time.Now())
		s.mu.Unlock()

		err := t.fn(ctx, t.id)

		s.mu.Lock()
		t.running = false
		info := t.info()
		if err != nil && t.opts.StopOnError {
			s.removeLocked(t)
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("scheduled task failed", "id", t.id, "error", err)
			if t.opts.OnError != nil {
				t.opts.OnError(info, err)
			}
		}
		return err
	}
}

// rescheduleLocked arms the occurrence after now, or drops t when it has no
// further occurrences.
func (s *scheduler) rescheduleLocked(t *scheduledTask, now time.Time) {
	switch {
	case t.opts.MaxRuns > 0 && t.runs >= t.opts.MaxRuns:
		delete(s.tasks, t.id)
		return
	case t.interval > 0:
		t.runAt = now.Add(t.interval)
	case t.schedule != nil:
		t.runAt = t.schedule.Next(now.In(t.loc))
		if t.runAt.IsZero() {
			delete(s.tasks, t.id)
			return
		}
	default:
		delete(s.tasks, t.id)
		return
	}

	if err := s.armLocked(t); err != nil {
		s.logger.Error("could not arm next run, task removed", "id", t.id, "error", err)
		delete(s.tasks, t.id)
	}
}

func (s *scheduler) removeLocked(t *scheduledTask) {
	if cur, ok := s.tasks[t.id]; ok && cur == t {
		delete(s.tasks, t.id)
	}
	if t.armed != 0 {
		s.queue.Cancel(t.armed)
		t.armed = 0
	}
	t.gen = 0
}

func (s *scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return false
	}
	s.removeLocked(t)
	return true
}

func (s *scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		s.removeLocked(t)
	}
}

func (s *scheduler) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.info())
	}

	// Sort by run time
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})

	return tasks
}

func (s *scheduler) Next(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return time.Time{}, errorc.With(tqerrors.ErrNotFound, errorc.String("id", id))
	}
	return t.runAt, nil
}

func (t *scheduledTask) info() Task {
	return Task{
		ID:       t.id,
		RunAt:    t.runAt,
		Interval: t.interval,
		Cron:     t.cronExpr,
		Created:  t.created,
		Runs:     t.runs,
	}
}

// Start arms every registered task. Tasks scheduled afterwards are armed
// immediately.
func (s *scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errorc.With(tqerrors.ErrClosed, errorc.String("scheduler", "stopped"))
	}
	if s.running {
		return errors.New("scheduler already running, call Stop() first")
	}

	s.running = true
	for id, t := range s.tasks {
		if err := s.armLocked(t); err != nil {
			s.logger.Error("could not arm task, removed", "id", id, "error", err)
			delete(s.tasks, id)
		}
	}
	return nil
}

// Stop cancels every task. The returned channel closes once runs in progress
// have finished and, if the scheduler created its own queue, the queue is
// destroyed. A stopped scheduler cannot be restarted.
func (s *scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.running = false
		for _, t := range s.tasks {
			s.removeLocked(t)
		}
	}
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if s.ownQueue {
			if err := s.queue.Destroy(); err != nil && !errors.Is(err, tqerrors.ErrClosed) {
				s.logger.Error("destroy scheduler queue", "error", err)
			}
			return
		}
		_ = s.queue.Wait(context.Background())
	}()

	return stopped
}
