package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
)

// CronOptions provides configuration for cron-scheduled tasks.
type CronOptions struct {
	// MaxRuns limits the number of times the task will execute (0 = unlimited)
	MaxRuns int

	// TimeZone specifies the timezone for cron expression evaluation
	TimeZone *time.Location

	// StopOnError removes the task after a run that returns an error
	StopOnError bool

	// SkipIfStillRunning skips an occurrence while the previous run is in progress
	SkipIfStillRunning bool

	// OnError is called when a run fails
	OnError func(task Task, err error)

	// OnSkip is called when an occurrence is skipped
	OnSkip func(task Task, reason string)
}

// CronDescription provides human-readable information about a cron expression.
type CronDescription struct {
	Expression  string
	Description string
	NextRuns    []time.Time // Next 5 execution times
	TimeZone    string
}

// newParser accepts six fields (with seconds) and descriptors such as @daily.
func newParser() cron.Parser {
	return cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ScheduleCron schedules a task using a cron expression.
// Format: "second minute hour day month weekday", or a descriptor.
// Examples:
//
//	"0 */5 * * * *"   - Every 5 minutes
//	"0 30 14 * * 1-5" - 2:30 PM on weekdays
//	"@daily"          - Every day at midnight
//	"@every 90s"      - Every 90 seconds
func (s *scheduler) ScheduleCron(id string, cronExpr string, fn taskq.Func) error {
	return s.ScheduleCronWithOptions(id, cronExpr, fn, CronOptions{})
}

func (s *scheduler) ScheduleCronWithOptions(id string, cronExpr string, fn taskq.Func, opts CronOptions) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := validateFunc(fn); err != nil {
		return err
	}
	if cronExpr == "" {
		return tqerrors.NewValidationError("scheduler", "cron", cronExpr, "cannot be empty")
	}
	if opts.MaxRuns < 0 {
		return tqerrors.NewValidationError("scheduler", "max_runs", opts.MaxRuns, "cannot be negative")
	}

	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return tqerrors.NewValidationError("scheduler", "cron", cronExpr, err.Error())
	}

	loc := opts.TimeZone
	if loc == nil {
		loc = s.location
	}
	next := schedule.Next(time.Now().In(loc))
	if next.IsZero() {
		return tqerrors.NewValidationError("scheduler", "cron", cronExpr, "never fires")
	}

	return s.add(&scheduledTask{
		id:       id,
		fn:       fn,
		runAt:    next,
		cronExpr: cronExpr,
		schedule: schedule,
		loc:      loc,
		opts:     opts,
	})
}

// ValidateCronExpression validates a cron expression without scheduling it.
func ValidateCronExpression(cronExpr string) error {
	_, err := newParser().Parse(cronExpr)
	return err
}

// DescribeCron returns a human-readable description of a cron expression and
// its next five run times in loc (time.Local if nil).
func DescribeCron(cronExpr string, loc *time.Location) (CronDescription, error) {
	schedule, err := newParser().Parse(cronExpr)
	if err != nil {
		return CronDescription{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	nextRuns := make([]time.Time, 0, 5)
	current := time.Now().In(loc)
	for i := 0; i < 5; i++ {
		current = schedule.Next(current)
		if current.IsZero() {
			break
		}
		nextRuns = append(nextRuns, current)
	}

	return CronDescription{
		Expression:  cronExpr,
		Description: describe(cronExpr),
		NextRuns:    nextRuns,
		TimeZone:    loc.String(),
	}, nil
}

func describe(cronExpr string) string {
	switch cronExpr {
	case "@yearly", "@annually":
		return "Once a year (January 1st at midnight)"
	case "@monthly":
		return "Once a month (1st day at midnight)"
	case "@weekly":
		return "Once a week (Sunday at midnight)"
	case "@daily", "@midnight":
		return "Once a day (at midnight)"
	case "@hourly":
		return "Once an hour (at minute 0)"
	}
	return fmt.Sprintf("Custom schedule: %s", cronExpr)
}
