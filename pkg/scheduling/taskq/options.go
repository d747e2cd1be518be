package taskq

import (
	"context"
	"log/slog"

	"github.com/ygrebnov/errorc"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/metrics"
	"github.com/vnykmshr/taskq/pkg/scheduling/affinity"
	"github.com/vnykmshr/taskq/pkg/scheduling/callout"
	"github.com/vnykmshr/taskq/pkg/scheduling/entrystore"
)

// DefaultMaxEntries is the capacity of a queue's own entry store.
const DefaultMaxEntries = 65536

type config struct {
	logger       *slog.Logger
	metrics      *metrics.Registry
	store        *entrystore.Store[Entry]
	maxEntries   int
	callout      callout.Facility
	registry     *affinity.Registry
	parent       context.Context
	panicHandler func(name string, recovered any)
}

func defaultConfig() config {
	return config{
		maxEntries: DefaultMaxEntries,
		registry:   affinity.Default,
		parent:     context.Background(),
	}
}

// Option configures a queue. Use Create(name, threads, pri, flags, opts...).
type Option func(*config) error

// WithLogger sets the queue logger. The queue adds a queue=<name> attribute.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) error {
		if l == nil {
			return errorc.With(tqerrors.ErrInvalidConfiguration, errorc.String("", "WithLogger requires a logger"))
		}
		c.logger = l
		return nil
	}
}

// WithMetrics reports queue activity to r.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *config) error {
		c.metrics = r
		return nil
	}
}

// WithStore makes the queue allocate entries from a shared store. A shared
// store is not closed by Destroy.
func WithStore(s *entrystore.Store[Entry]) Option {
	return func(c *config) error {
		if s == nil {
			return errorc.With(tqerrors.ErrInvalidConfiguration, errorc.String("", "WithStore requires a store"))
		}
		c.store = s
		return nil
	}
}

// WithMaxEntries sets the capacity of the queue's own entry store.
func WithMaxEntries(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errorc.With(tqerrors.ErrInvalidConfiguration, errorc.String("", "WithMaxEntries requires n > 0"))
		}
		c.maxEntries = n
		return nil
	}
}

// WithCallout arms delayed tasks on a shared facility. The facility must
// stay open until the queue is destroyed.
func WithCallout(f callout.Facility) Option {
	return func(c *config) error {
		if f == nil {
			return errorc.With(tqerrors.ErrInvalidConfiguration, errorc.String("", "WithCallout requires a facility"))
		}
		c.callout = f
		return nil
	}
}

// WithRegistry binds worker threads in r instead of affinity.Default.
func WithRegistry(r *affinity.Registry) Option {
	return func(c *config) error {
		if r == nil {
			return errorc.With(tqerrors.ErrInvalidConfiguration, errorc.String("", "WithRegistry requires a registry"))
		}
		c.registry = r
		return nil
	}
}

// WithContext sets the parent of the context passed to every task.
func WithContext(ctx context.Context) Option {
	return func(c *config) error {
		if ctx == nil {
			return errorc.With(tqerrors.ErrInvalidConfiguration, errorc.String("", "WithContext requires a context"))
		}
		c.parent = ctx
		return nil
	}
}

// WithPanicHandler is called with the queue name and recovered value when a
// task panics. The panic is logged either way.
func WithPanicHandler(fn func(name string, recovered any)) Option {
	return func(c *config) error {
		c.panicHandler = fn
		return nil
	}
}
