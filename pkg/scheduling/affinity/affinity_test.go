package affinity

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryBindLookup(t *testing.T) {
	r := NewRegistry()

	r.Bind(42, "q1")
	owner, ok := r.Lookup(42)
	require.True(t, ok)
	require.Equal(t, "q1", owner)
	require.Equal(t, 1, r.Len())

	r.Unbind(42)
	_, ok = r.Lookup(42)
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestRegistryIgnoresNoThread(t *testing.T) {
	r := NewRegistry()
	r.Bind(NoThread, "x")
	require.Equal(t, 0, r.Len())
	_, ok := r.Lookup(NoThread)
	require.False(t, ok)
}

func TestCurrentBindsLockedThread(t *testing.T) {
	if CurrentThreadID() == NoThread {
		t.Skip("thread ids not available on this platform")
	}
	r := NewRegistry()

	type result struct {
		owner  any
		ok     bool
		stable bool
	}
	res := make(chan result, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		tid := CurrentThreadID()
		r.Bind(tid, "worker")
		defer r.Unbind(tid)

		owner, ok := r.Current()
		res <- result{owner: owner, ok: ok, stable: tid == CurrentThreadID()}
	}()
	got := <-res
	require.True(t, got.ok)
	require.Equal(t, "worker", got.owner)
	require.True(t, got.stable)

	_, ok := r.Current()
	require.False(t, ok)
}

func TestDistinctThreadsHaveDistinctIDs(t *testing.T) {
	if CurrentThreadID() == NoThread {
		t.Skip("thread ids not available on this platform")
	}

	const n = 4
	ids := make(chan ThreadID, n)
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			ids <- CurrentThreadID()
			<-release
		}()
	}

	seen := make(map[ThreadID]bool)
	for i := 0; i < n; i++ {
		seen[<-ids] = true
	}
	close(release)
	wg.Wait()
	require.Len(t, seen, n)
}

func TestSetThreadPriorityLowering(t *testing.T) {
	done := make(chan error, 1)
	go func() {
		// The thread is never unlocked so it exits with the goroutine and the
		// changed priority does not leak to other goroutines.
		runtime.LockOSThread()
		done <- SetThreadPriority(10)
	}()
	err := <-done
	if runtime.GOOS != "linux" {
		require.Error(t, err)
		return
	}
	require.NoError(t, err)
}
