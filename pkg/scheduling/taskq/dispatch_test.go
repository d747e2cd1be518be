package taskq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/taskq/internal/testutil"
	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/metrics"
)

func TestFIFOWithSingleWorker(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "head"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	var want []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("t%02d", i)
		want = append(want, name)
		_, err := q.Dispatch(context.Background(), record(&order, name), nil, 0)
		require.NoError(t, err)
	}
	gate.Open()
	waitIdle(t, q)

	require.Equal(t, append([]string{"head"}, want...), order.Values())
}

func TestFrontWhileRunning(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	_, err = q.Dispatch(context.Background(), record(&order, "B"), nil, 0)
	require.NoError(t, err)
	_, err = q.Dispatch(context.Background(), record(&order, "C"), nil, 0)
	require.NoError(t, err)
	_, err = q.Dispatch(context.Background(), record(&order, "D"), nil, FlagFront)
	require.NoError(t, err)

	gate.Open()
	waitIdle(t, q)
	require.Equal(t, []string{"A", "D", "B", "C"}, order.Values())
}

func TestFrontStartsBeforeEveryQueuedTask(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	for _, name := range []string{"B", "C", "D"} {
		_, err := q.Dispatch(context.Background(), record(&order, name), nil, 0)
		require.NoError(t, err)
	}
	_, err = q.Dispatch(context.Background(), record(&order, "F1"), nil, FlagFront)
	require.NoError(t, err)
	_, err = q.Dispatch(context.Background(), record(&order, "F2"), nil, FlagFront)
	require.NoError(t, err)

	gate.Open()
	waitIdle(t, q)
	require.Equal(t, []string{"A", "F2", "F1", "B", "C", "D"}, order.Values())
}

func TestDispatchDelayInPastBehavesLikeDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	q, _ := newTestQueue(t, 1, WithMetrics(m))

	for _, expireAt := range []time.Time{time.Now().Add(-time.Second), time.Now()} {
		ran := make(chan struct{})
		start := time.Now()
		id, err := q.DispatchDelay(context.Background(), func(context.Context, any) error {
			close(ran)
			return nil
		}, nil, 0, expireAt)
		require.NoError(t, err)
		require.True(t, id.Valid())

		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("task with elapsed deadline did not run")
		}
		require.Less(t, time.Since(start), 500*time.Millisecond)
	}

	waitIdle(t, q)
	require.Equal(t, 2.0, promtest.ToFloat64(m.TasksDispatched.WithLabelValues(q.Name(), "normal")))
	require.Equal(t, 0.0, promtest.ToFloat64(m.TasksDispatched.WithLabelValues(q.Name(), "timeout")))
	require.Equal(t, 0, q.Stats().Delayed)
}

func TestDispatchDelayFiresAfterDeadline(t *testing.T) {
	q, _ := newTestQueue(t, 1)

	start := time.Now()
	var ranAt atomic.Int64
	id, err := q.DispatchDelay(context.Background(), func(context.Context, any) error {
		ranAt.Store(int64(time.Since(start)))
		return nil
	}, nil, 0, start.Add(40*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, 1, q.Stats().Delayed)

	// Wait does not cover timers that have not fired.
	waitIdle(t, q)
	require.Zero(t, ranAt.Load())

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, q.WaitID(ctx, id))
	require.GreaterOrEqual(t, time.Duration(ranAt.Load()), 40*time.Millisecond)
	require.Equal(t, 0, q.Stats().Delayed)
}

func TestDelayedFrontEntersHeadWhenFired(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	_, err = q.DispatchDelay(context.Background(), record(&order, "D"), nil, FlagFront, time.Now().Add(10*time.Millisecond))
	require.NoError(t, err)
	_, err = q.Dispatch(context.Background(), record(&order, "B"), nil, 0)
	require.NoError(t, err)
	_, err = q.Dispatch(context.Background(), record(&order, "C"), nil, 0)
	require.NoError(t, err)

	testutil.Eventually(t, func() bool {
		st := q.Stats()
		return st.Delayed == 0 && st.Pending == 3
	}, time.Second, time.Millisecond)

	gate.Open()
	waitIdle(t, q)
	require.Equal(t, []string{"A", "D", "B", "C"}, order.Values())
}

func TestDelayedEnqueueOrderFollowsFiringTime(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	now := time.Now()
	_, err = q.DispatchDelay(context.Background(), record(&order, "late"), nil, 0, now.Add(30*time.Millisecond))
	require.NoError(t, err)
	_, err = q.DispatchDelay(context.Background(), record(&order, "early"), nil, 0, now.Add(10*time.Millisecond))
	require.NoError(t, err)

	testutil.Eventually(t, func() bool { return q.Stats().Pending == 2 }, time.Second, time.Millisecond)
	gate.Open()
	waitIdle(t, q)
	require.Equal(t, []string{"A", "early", "late"}, order.Values())
}

func TestNoSleepFailsWhenStoreFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	q, _ := newTestQueue(t, 1, WithMaxEntries(1), WithMetrics(m))
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	id, err := q.Dispatch(context.Background(), noop, nil, FlagNoSleep)
	require.ErrorIs(t, err, tqerrors.ErrCapacityExceeded)
	require.True(t, tqerrors.IsTemporary(err))
	require.Equal(t, ID(0), id)

	id, err = q.Dispatch(context.Background(), noop, nil, FlagSleep|FlagNoQueue)
	require.ErrorIs(t, err, tqerrors.ErrCapacityExceeded)
	require.Equal(t, ID(0), id)

	id, err = q.DispatchDelay(context.Background(), noop, nil, 0, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, tqerrors.ErrCapacityExceeded)
	require.Equal(t, ID(0), id)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Dispatch(ctx, noop, nil, FlagSleep)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, 3.0, promtest.ToFloat64(m.TasksRejected.WithLabelValues(q.Name(), "capacity")))

	// The queue stays usable after failed dispatches.
	gate.Open()
	waitIdle(t, q)
	_, err = q.Dispatch(context.Background(), record(&order, "B"), nil, FlagNoSleep)
	require.NoError(t, err)
	waitIdle(t, q)
	require.Equal(t, []string{"A", "B"}, order.Values())
}

func TestSleepWaitsForFreeEntry(t *testing.T) {
	q, _ := newTestQueue(t, 1, WithMaxEntries(1))
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	done := make(chan error, 1)
	go func() {
		_, err := q.Dispatch(context.Background(), record(&order, "B"), nil, FlagSleep)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("sleeping dispatch returned while the store was full")
	case <-time.After(20 * time.Millisecond):
	}

	gate.Open()
	require.NoError(t, <-done)
	waitIdle(t, q)
	require.Equal(t, []string{"A", "B"}, order.Values())
}

func TestDispatchNilFunc(t *testing.T) {
	q, _ := newTestQueue(t, 1)

	id, err := q.Dispatch(context.Background(), nil, nil, 0)
	require.ErrorIs(t, err, tqerrors.ErrInvalidConfiguration)
	require.Equal(t, ID(0), id)

	id, err = q.DispatchDelay(context.Background(), nil, nil, 0, time.Now().Add(time.Second))
	require.ErrorIs(t, err, tqerrors.ErrInvalidConfiguration)
	require.Equal(t, ID(0), id)

	require.ErrorIs(t, q.DispatchEntry(noop, nil, 0, nil), tqerrors.ErrInvalidConfiguration)
}

func TestDispatchEntryCallerOwned(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	var e Entry
	require.True(t, Empty(&e))
	require.NoError(t, q.DispatchEntry(blockOn(gate, &order, "E"), nil, 0, &e))
	gate.AwaitEntered(t, 1)
	require.Equal(t, StateRunning, e.State())
	require.True(t, Empty(&e), "a running entry has nothing pending")

	err := q.DispatchEntry(noop, nil, 0, &e)
	require.ErrorIs(t, err, tqerrors.ErrEntryBusy)

	gate.Open()
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, q.WaitEntry(ctx, &e))
	require.Equal(t, StateIdle, e.State())

	// Idle again, so it can be reused.
	require.NoError(t, q.DispatchEntry(record(&order, "E2"), nil, 0, &e))
	require.NoError(t, q.WaitEntry(ctx, &e))
	require.Equal(t, []string{"E", "E2"}, order.Values())

	st := q.Stats()
	require.Equal(t, uint64(2), st.Executed)
	require.Equal(t, 0, q.store.Stats().InUse)
	require.Equal(t, uint64(0), q.store.Stats().Allocated)
}

func TestDispatchEntryBusyAcrossQueues(t *testing.T) {
	a, _ := newTestQueue(t, 1)
	b, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := a.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	var e Entry
	require.NoError(t, a.DispatchEntry(record(&order, "E"), nil, 0, &e))
	require.False(t, Empty(&e))
	require.ErrorIs(t, b.DispatchEntry(noop, nil, 0, &e), tqerrors.ErrEntryBusy)

	gate.Open()
	waitIdle(t, a)
	require.Equal(t, []string{"A", "E"}, order.Values())
}

func TestDispatchEntryFront(t *testing.T) {
	q, _ := newTestQueue(t, 1)
	gate := testutil.NewGate()
	var order testutil.Recorder[string]

	_, err := q.Dispatch(context.Background(), blockOn(gate, &order, "A"), nil, 0)
	require.NoError(t, err)
	gate.AwaitEntered(t, 1)

	_, err = q.Dispatch(context.Background(), record(&order, "B"), nil, 0)
	require.NoError(t, err)
	var e Entry
	require.NoError(t, q.DispatchEntry(record(&order, "E"), nil, FlagFront, &e))

	gate.Open()
	waitIdle(t, q)
	require.Equal(t, []string{"A", "E", "B"}, order.Values())
}

func TestConcurrentProducers(t *testing.T) {
	q, _ := newTestQueue(t, 4)

	var count atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				flags := FlagSleep
				if i%10 == 0 {
					flags |= FlagFront
				}
				if _, err := q.Dispatch(context.Background(), func(context.Context, any) error {
					count.Add(1)
					return nil
				}, nil, flags); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	waitIdle(t, q)

	require.Equal(t, int64(2000), count.Load())
	require.Equal(t, 0, q.store.Stats().InUse)
}

func TestMetricsReported(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	logger, _ := testutil.NewLogger()
	q, err := Create("metered", 2, PriorityNormal, 0, WithLogger(logger), WithMetrics(m))
	require.NoError(t, err)

	require.Equal(t, 2.0, promtest.ToFloat64(m.QueueWorkers.WithLabelValues("metered")))

	_, err = q.Dispatch(context.Background(), noop, nil, 0)
	require.NoError(t, err)
	_, err = q.Dispatch(context.Background(), func(context.Context, any) error { return fmt.Errorf("x") }, nil, 0)
	require.NoError(t, err)
	id, err := q.DispatchDelay(context.Background(), noop, nil, 0, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1.0, promtest.ToFloat64(m.QueueDelayed.WithLabelValues("metered")))
	require.True(t, q.Cancel(id))
	waitIdle(t, q)

	require.Equal(t, 2.0, promtest.ToFloat64(m.TasksDispatched.WithLabelValues("metered", "normal")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.TasksDispatched.WithLabelValues("metered", "timeout")))
	require.Equal(t, 2.0, promtest.ToFloat64(m.TasksExecuted.WithLabelValues("metered")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.TasksFailed.WithLabelValues("metered")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.TasksCancelled.WithLabelValues("metered")))
	require.Equal(t, 0.0, promtest.ToFloat64(m.QueueDelayed.WithLabelValues("metered")))
	require.Equal(t, 0.0, promtest.ToFloat64(m.StoreInUse.WithLabelValues("metered")))

	require.NoError(t, q.Destroy())
	require.Equal(t, 0, promtest.CollectAndCount(m.TasksDispatched))
	require.Equal(t, 0, promtest.CollectAndCount(m.QueueWorkers))
	require.Equal(t, 0, promtest.CollectAndCount(m.StoreInUse))
}
