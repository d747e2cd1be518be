package benchmark

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vnykmshr/taskq/pkg/scheduling/callout"
	"github.com/vnykmshr/taskq/pkg/scheduling/entrystore"
	"github.com/vnykmshr/taskq/pkg/scheduling/taskq"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func noop(context.Context, any) error { return nil }

func newQueue(b *testing.B, threads int, opts ...taskq.Option) *taskq.Queue {
	b.Helper()
	q, err := taskq.Create("bench", threads, taskq.PriorityNormal, 0, append([]taskq.Option{taskq.WithLogger(discard)}, opts...)...)
	if err != nil {
		b.Fatalf("failed to create queue: %v", err)
	}
	b.Cleanup(func() { _ = q.Destroy() })
	return q
}

// BenchmarkDispatch measures dispatch through to completion.
func BenchmarkDispatch(b *testing.B) {
	for _, threads := range []int{1, 2, 4, 8} {
		b.Run(threadLabel(threads), func(b *testing.B) {
			q := newQueue(b, threads)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = q.Dispatch(ctx, noop, nil, taskq.FlagSleep)
			}
			_ = q.Wait(ctx)
		})
	}
}

// BenchmarkDispatchFront measures front insertion under a backlog.
func BenchmarkDispatchFront(b *testing.B) {
	q := newQueue(b, 2)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		flags := taskq.FlagSleep
		if i%2 == 0 {
			flags |= taskq.FlagFront
		}
		_, _ = q.Dispatch(ctx, noop, nil, flags)
	}
	_ = q.Wait(ctx)
}

// BenchmarkDispatchParallel measures contention between producers.
func BenchmarkDispatchParallel(b *testing.B) {
	q := newQueue(b, 4)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = q.Dispatch(ctx, noop, nil, taskq.FlagSleep)
		}
	})
	_ = q.Wait(ctx)
}

// BenchmarkDispatchDelayCancel measures arming a timer and cancelling it.
func BenchmarkDispatchDelayCancel(b *testing.B) {
	q := newQueue(b, 1)
	ctx := context.Background()
	at := time.Now().Add(time.Hour)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id, err := q.DispatchDelay(ctx, noop, nil, taskq.FlagSleep, at)
		if err != nil {
			b.Fatal(err)
		}
		q.Cancel(id)
	}
}

// BenchmarkDispatchEntry measures caller-owned entries, which skip the store.
func BenchmarkDispatchEntry(b *testing.B) {
	q := newQueue(b, 1)
	ctx := context.Background()
	var e taskq.Entry

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := q.DispatchEntry(noop, nil, 0, &e); err != nil {
			b.Fatal(err)
		}
		_ = q.WaitEntry(ctx, &e)
	}
}

// BenchmarkSharedStore measures several queues allocating from one store.
func BenchmarkSharedStore(b *testing.B) {
	store, err := entrystore.New[taskq.Entry](taskq.DefaultMaxEntries)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	queues := make([]*taskq.Queue, 4)
	for i := range queues {
		queues[i] = newQueue(b, 1, taskq.WithStore(store))
	}
	ctx := context.Background()

	b.ResetTimer()
	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *taskq.Queue) {
			defer wg.Done()
			for i := 0; i < b.N/len(queues); i++ {
				_, _ = q.Dispatch(ctx, noop, nil, taskq.FlagSleep)
			}
			_ = q.Wait(ctx)
		}(q)
	}
	wg.Wait()
}

// BenchmarkStoreAllocFree measures the entry arena alone.
func BenchmarkStoreAllocFree(b *testing.B) {
	for _, capacity := range []int{256, 65536} {
		b.Run(sizeLabel(capacity), func(b *testing.B) {
			s, err := entrystore.New[taskq.Entry](capacity)
			if err != nil {
				b.Fatal(err)
			}
			defer s.Close()
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				id, _, err := s.Alloc(ctx, entrystore.ModeNoSleep)
				if err != nil {
					b.Fatal(err)
				}
				s.Free(id)
			}
		})
	}
}

// BenchmarkWheelArmStop measures callout arming and stopping.
func BenchmarkWheelArmStop(b *testing.B) {
	w := callout.NewWheel()
	defer w.Close()
	fn := func() {}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.AfterFunc(time.Hour, fn).Stop()
	}
}

func threadLabel(threads int) string {
	return strconv.Itoa(threads) + "threads"
}

func sizeLabel(size int) string {
	if size >= 1024 {
		return strconv.Itoa(size/1024) + "k"
	}
	return strconv.Itoa(size)
}
