// Package callout provides one-shot, cancellable timer callbacks.
//
// A Wheel keeps every armed callout in a deadline heap served by one goroutine
// and a single timer, so thousands of pending callouts cost one runtime timer.
// Callbacks run on the wheel goroutine in deadline order and must not block.
package callout

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a handle to an armed callout.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already fired, is firing, or was stopped before.
	Stop() bool
}

// Facility arms callouts.
type Facility interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type item struct {
	at    time.Time
	seq   uint64
	fn    func()
	index int // -1 once popped or removed
	w     *Wheel
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Stop implements Timer.
func (it *item) Stop() bool {
	if it.w == nil {
		return false
	}
	return it.w.stop(it)
}

// Wheel is a heap-backed Facility. The zero value is not usable; call NewWheel.
type Wheel struct {
	mu     sync.Mutex
	pq     itemHeap
	seq    uint64
	closed bool
	wakeup chan struct{}
	done   chan struct{}
	exited chan struct{}
}

// NewWheel starts a wheel goroutine. Close must be called to release it.
func NewWheel() *Wheel {
	w := &Wheel{
		wakeup: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go w.loop()
	return w
}

// AfterFunc arms fn to run once d has elapsed. On a closed wheel the returned
// Timer is inert and fn never runs.
func (w *Wheel) AfterFunc(d time.Duration, fn func()) Timer {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return &item{index: -1}
	}
	w.seq++
	it := &item{at: time.Now().Add(d), seq: w.seq, fn: fn, w: w}
	heap.Push(&w.pq, it)
	if it.index == 0 {
		select {
		case w.wakeup <- struct{}{}:
		default:
		}
	}
	return it
}

func (w *Wheel) stop(it *item) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if it.index < 0 {
		return false
	}
	heap.Remove(&w.pq, it.index)
	it.fn = nil
	return true
}

// Pending returns the number of armed callouts.
func (w *Wheel) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pq)
}

// Close stops the wheel goroutine and drops every armed callout, returning
// how many were dropped. A callback already running is allowed to finish.
func (w *Wheel) Close() int {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0
	}
	w.closed = true
	dropped := len(w.pq)
	for _, it := range w.pq {
		it.index = -1
		it.fn = nil
	}
	w.pq = nil
	w.mu.Unlock()

	close(w.done)
	<-w.exited
	return dropped
}

func (w *Wheel) loop() {
	defer close(w.exited)

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		if next, ok := w.nextDeadline(); ok {
			timer.Reset(time.Until(next))
		}

		select {
		case <-w.done:
			timer.Stop()
			return
		case <-timer.C:
			w.fireExpired()
		case <-w.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

func (w *Wheel) nextDeadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pq) == 0 {
		return time.Time{}, false
	}
	return w.pq[0].at, true
}

func (w *Wheel) fireExpired() {
	w.mu.Lock()
	now := time.Now()
	var expired []func()
	for len(w.pq) > 0 && !w.pq[0].at.After(now) {
		it := heap.Pop(&w.pq).(*item)
		expired = append(expired, it.fn)
		it.fn = nil
	}
	w.mu.Unlock()

	for _, fn := range expired {
		fn()
	}
}
