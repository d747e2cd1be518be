package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// WithTimeout creates a context with the default test timeout
func WithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout)
}

// Eventually polls cond every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, cond func() bool, timeout, tick time.Duration) {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		if cond() {
			return
		}
		select {
		case <-deadline.C:
			t.Fatalf("condition not met within %v", timeout)
		case <-ticker.C:
		}
	}
}

// WaitForInt32 waits until *addr equals want.
func WaitForInt32(t *testing.T, addr *int32, want int32, timeout time.Duration) {
	t.Helper()
	Eventually(t, func() bool { return atomic.LoadInt32(addr) == want }, timeout, time.Millisecond)
}

// Gate blocks tasks until it is opened. Entered reports how many callers are
// parked in Wait.
type Gate struct {
	ch      chan struct{}
	once    sync.Once
	entered atomic.Int32
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait blocks until Open is called.
func (g *Gate) Wait() {
	g.entered.Add(1)
	<-g.ch
}

// Open releases every current and future waiter. Safe to call twice.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// Entered returns how many callers reached Wait.
func (g *Gate) Entered() int {
	return int(g.entered.Load())
}

// AwaitEntered waits until at least n callers reached Wait.
func (g *Gate) AwaitEntered(t *testing.T, n int) {
	t.Helper()
	Eventually(t, func() bool { return g.Entered() >= n }, TestTimeout, time.Millisecond)
}

// Recorder collects values in arrival order.
type Recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

// Add appends v.
func (r *Recorder[T]) Add(v T) {
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
}

// Values returns a copy of the recorded values.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.vals))
	copy(out, r.vals)
	return out
}

// Len returns the number of recorded values.
func (r *Recorder[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

// CallbackTracker counts callback invocations.
type CallbackTracker struct {
	count atomic.Int32
}

// NewCallbackTracker returns an empty tracker.
func NewCallbackTracker() *CallbackTracker {
	return &CallbackTracker{}
}

// Mark records a call.
func (c *CallbackTracker) Mark() {
	c.count.Add(1)
}

// CallCount returns the number of Mark calls.
func (c *CallbackTracker) CallCount() int {
	return int(c.count.Load())
}

// AssertNotCalled fails the test if Mark was called.
func (c *CallbackTracker) AssertNotCalled(t *testing.T) {
	t.Helper()
	if n := c.CallCount(); n != 0 {
		t.Fatalf("expected no calls, got %d", n)
	}
}
