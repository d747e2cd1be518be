package system

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"github.com/vnykmshr/taskq/pkg/common/validation"
	"github.com/vnykmshr/taskq/pkg/metrics"
	"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
)

// Config holds the settings of the process-wide queues.
type Config struct {
	// Threads is the worker count of each queue. Zero means GOMAXPROCS.
	Threads int

	// MaxEntries is the capacity of the entry store shared by both queues.
	MaxEntries int

	// Priority is the worker priority class of both queues.
	Priority taskq.Priority

	// Logger receives queue logs. If nil, uses slog.Default().
	Logger *slog.Logger

	// Metrics receives queue metrics. If nil, metrics are disabled.
	Metrics *metrics.Registry
}

// DefaultConfig returns the default system configuration.
func DefaultConfig() Config {
	return Config{
		Threads:    0,
		MaxEntries: taskq.DefaultMaxEntries,
		Priority:   taskq.PriorityLow,
	}
}

// ConfigFromEnv returns DefaultConfig overlaid with the environment.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	FromEnv(&cfg)
	return cfg
}

// FromEnv overlays TASKQ_* environment variables onto cfg. Unparseable
// values are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("TASKQ_SYSTEM_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Threads = n
		}
	}
	if v := os.Getenv("TASKQ_SYSTEM_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxEntries = n
		}
	}
	if v := os.Getenv("TASKQ_LOG_LEVEL"); v != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(v)); err == nil {
			cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		}
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validation.ValidateNonNegative("system", "threads", c.Threads); err != nil {
		return err
	}
	if err := validation.ValidatePositive("system", "max_entries", c.MaxEntries); err != nil {
		return err
	}
	return validation.ValidateRange("system", "priority", int(c.Priority), int(taskq.PriorityLow), int(taskq.PriorityHigh))
}

func (c Config) threads() int {
	if c.Threads > 0 {
		return c.Threads
	}
	return runtime.GOMAXPROCS(0)
}
