package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/common/validation"
	"github.com/vnykmshr/taskq/pkg/metrics"
	"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
)

// BenchOptions describes a synthetic workload.
type BenchOptions struct {
	Queue       string
	Threads     int
	Priority    taskq.Priority
	Tasks       int
	MaxEntries  int
	NoSleep     bool          // Fail fast instead of waiting for a free entry
	Work        time.Duration // Time each task spends running
	FrontPct    int           // Share of immediate tasks dispatched to the front
	DelayPct    int           // Share of tasks dispatched with a delay
	CancelPct   int           // Share of delayed tasks cancelled before they fire
	MaxDelay    time.Duration
	MetricsAddr string        // Serve /metrics here while the workload runs
	Linger      time.Duration // Keep serving metrics this long once the workload is done
	Progress    io.Writer     // Receives the metrics URL while lingering; may be nil
	Logger      *slog.Logger
}

// BenchResult summarises a finished workload.
type BenchResult struct {
	Dispatched int
	Delayed    int
	Front      int
	Cancelled  int
	Rejected   int
	Executed   int64
	Elapsed    time.Duration
	Stats      taskq.Stats
}

// Throughput returns executed tasks per second.
func (r BenchResult) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Executed) / r.Elapsed.Seconds()
}

func (o BenchOptions) validate() error {
	if err := validation.ValidatePositive("bench", "tasks", o.Tasks); err != nil {
		return err
	}
	for _, p := range []struct {
		name string
		v    int
	}{{"front", o.FrontPct}, {"delay", o.DelayPct}, {"cancel", o.CancelPct}} {
		if err := validation.ValidateRange("bench", p.name, p.v, 0, 100); err != nil {
			return err
		}
	}
	if o.FrontPct+o.DelayPct > 100 {
		return tqerrors.NewValidationError("bench", "front+delay", o.FrontPct+o.DelayPct, "must not exceed 100")
	}
	if o.DelayPct > 0 {
		return validation.ValidatePositiveDuration("bench", "max_delay", o.MaxDelay)
	}
	return nil
}

// RunBench creates a queue, pushes the workload through it, waits for every
// task that was not cancelled and destroys the queue. With MetricsAddr and
// Linger set, the queue and its metrics stay up for Linger before teardown.
func RunBench(ctx context.Context, opts BenchOptions) (res BenchResult, err error) {
	if err := opts.validate(); err != nil {
		return res, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var metricsURL string
	if opts.MetricsAddr != "" {
		stop, addr, err := serveMetrics(opts.MetricsAddr, reg, logger)
		if err != nil {
			return res, err
		}
		defer stop()
		metricsURL = "http://" + addr + "/metrics"
	}

	taskOpts := []taskq.Option{
		taskq.WithLogger(logger),
		taskq.WithMetrics(metrics.NewRegistry(reg)),
	}
	if opts.MaxEntries > 0 {
		taskOpts = append(taskOpts, taskq.WithMaxEntries(opts.MaxEntries))
	}
	q, err := taskq.Create(opts.Queue, opts.Threads, opts.Priority, 0, taskOpts...)
	if err != nil {
		return res, err
	}
	defer func() {
		if derr := q.Destroy(); derr != nil && err == nil {
			err = derr
		}
	}()

	var executed atomic.Int64
	work := func(ctx context.Context, _ any) error {
		if opts.Work > 0 {
			select {
			case <-time.After(opts.Work):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		executed.Add(1)
		return nil
	}

	flags := taskq.FlagSleep
	if opts.NoSleep {
		flags = taskq.FlagNoSleep
	}

	start := time.Now()
	var delayed []taskq.ID
	for i := 0; i < opts.Tasks; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var id taskq.ID
		var err error
		bucket := i % 100
		switch {
		case bucket < opts.DelayPct:
			d := time.Duration(int64(opts.MaxDelay) * int64(i%7+1) / 7)
			id, err = q.DispatchDelay(ctx, work, i, flags, time.Now().Add(d))
			if err == nil {
				res.Delayed++
				if (res.Delayed-1)%100 < opts.CancelPct && q.Cancel(id) {
					res.Cancelled++
				} else {
					delayed = append(delayed, id)
				}
			}
		case bucket < opts.DelayPct+opts.FrontPct:
			id, err = q.Dispatch(ctx, work, i, flags|taskq.FlagFront)
			if err == nil {
				res.Front++
			}
		default:
			_, err = q.Dispatch(ctx, work, i, flags)
		}

		switch {
		case err == nil:
			res.Dispatched++
		case errors.Is(err, tqerrors.ErrCapacityExceeded):
			res.Rejected++
		default:
			return res, err
		}
	}

	if err := q.Wait(ctx); err != nil {
		return res, err
	}
	for _, id := range delayed {
		if err := q.WaitID(ctx, id); err != nil {
			return res, err
		}
	}

	res.Elapsed = time.Since(start)
	res.Executed = executed.Load()
	res.Stats = q.Stats()

	if metricsURL != "" && opts.Linger > 0 {
		if opts.Progress != nil {
			fmt.Fprintf(opts.Progress, "metrics at %s for %s\n", metricsURL, opts.Linger)
		}
		select {
		case <-time.After(opts.Linger):
		case <-ctx.Done():
		}
	}
	return res, nil
}

// serveMetrics exposes reg on addr. It returns a function that shuts the
// server down and the address actually bound.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, ln.Addr().String(), nil
}

// NewBenchCommand builds the bench subcommand.
func NewBenchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic workload through a task queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			logger, err := loggerFor(cmd)
			if err != nil {
				return err
			}
			opts := BenchOptions{Logger: logger, Progress: cmd.ErrOrStderr()}
			opts.Queue, _ = f.GetString("queue")
			opts.Threads, _ = f.GetInt("threads")
			opts.Tasks, _ = f.GetInt("tasks")
			opts.MaxEntries, _ = f.GetInt("max-entries")
			opts.NoSleep, _ = f.GetBool("nosleep")
			opts.Work, _ = f.GetDuration("work")
			opts.FrontPct, _ = f.GetInt("front")
			opts.DelayPct, _ = f.GetInt("delay")
			opts.CancelPct, _ = f.GetInt("cancel")
			opts.MaxDelay, _ = f.GetDuration("max-delay")
			opts.MetricsAddr, _ = f.GetString("metrics-addr")
			opts.Linger, _ = f.GetDuration("linger")

			pri, _ := f.GetString("priority")
			switch pri {
			case "low":
				opts.Priority = taskq.PriorityLow
			case "normal":
				opts.Priority = taskq.PriorityNormal
			case "high":
				opts.Priority = taskq.PriorityHigh
			default:
				return fmt.Errorf("invalid --priority %q; use low|normal|high", pri)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			res, err := RunBench(ctx, opts)
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), opts, res)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("queue", "bench", "Queue name")
	f.Int("threads", 4, "Worker threads")
	f.String("priority", "normal", "Worker priority: low|normal|high")
	f.Int("tasks", 10000, "Number of tasks to dispatch")
	f.Int("max-entries", 0, "Entry store capacity (0 for the default)")
	f.Bool("nosleep", false, "Reject dispatch when the entry store is full instead of waiting")
	f.Duration("work", 0, "Time each task spends running")
	f.Int("front", 10, "Percent of tasks dispatched to the front of the queue")
	f.Int("delay", 10, "Percent of tasks dispatched with a delay")
	f.Int("cancel", 50, "Percent of delayed tasks cancelled before they fire")
	f.Duration("max-delay", 50*time.Millisecond, "Longest delay of a delayed task")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	f.Duration("linger", 0, "Keep serving metrics this long after the workload finishes")
	return cmd
}

func printResult(w io.Writer, opts BenchOptions, r BenchResult) {
	fmt.Fprintf(w, "queue       %s (%d threads, %s priority)\n", opts.Queue, r.Stats.Workers, opts.Priority)
	fmt.Fprintf(w, "dispatched  %d (front %d, delayed %d)\n", r.Dispatched, r.Front, r.Delayed)
	fmt.Fprintf(w, "cancelled   %d\n", r.Cancelled)
	fmt.Fprintf(w, "rejected    %d\n", r.Rejected)
	fmt.Fprintf(w, "executed    %d\n", r.Executed)
	fmt.Fprintf(w, "failed      %d (panicked %d)\n", r.Stats.Failed, r.Stats.Panicked)
	fmt.Fprintf(w, "elapsed     %s\n", r.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "throughput  %.0f tasks/s\n", r.Throughput())
}
