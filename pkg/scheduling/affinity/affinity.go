// Package affinity maps OS threads to the scheduling objects that own them.
//
// Queue workers lock themselves to an OS thread for their whole lifetime and
// bind that thread's id here, which lets any code answer "which queue is the
// calling thread serving?" without goroutine-local storage. Thread ids and
// per-thread priority are platform facilities; on platforms without them
// CurrentThreadID returns NoThread and SetThreadPriority returns
// errors.ErrUnsupported.
package affinity

import (
	"sync"
)

// ThreadID identifies an OS thread.
type ThreadID int64

// NoThread is returned where thread ids are not available.
const NoThread ThreadID = 0

// CurrentThreadID returns the id of the calling OS thread. The value is only
// stable while the goroutine is locked with runtime.LockOSThread.
func CurrentThreadID() ThreadID {
	return platformCurrentThreadID()
}

// SetThreadPriority applies a nice value (-20 highest, 19 lowest) to the
// calling OS thread. The caller must hold runtime.LockOSThread.
func SetThreadPriority(nice int) error {
	return platformSetThreadPriority(nice)
}

// Registry maps thread ids to owners. Each entry is written only by the
// thread it names; lookups may come from anywhere.
type Registry struct {
	mu     sync.RWMutex
	owners map[ThreadID]any
}

// Default is the process-wide registry.
var Default = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[ThreadID]any)}
}

// Bind records owner for tid. Binding NoThread is ignored.
func (r *Registry) Bind(tid ThreadID, owner any) {
	if tid == NoThread {
		return
	}
	r.mu.Lock()
	r.owners[tid] = owner
	r.mu.Unlock()
}

// Unbind removes tid.
func (r *Registry) Unbind(tid ThreadID) {
	r.mu.Lock()
	delete(r.owners, tid)
	r.mu.Unlock()
}

// Lookup returns the owner bound to tid.
func (r *Registry) Lookup(tid ThreadID) (any, bool) {
	if tid == NoThread {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[tid]
	return owner, ok
}

// Current returns the owner bound to the calling thread.
func (r *Registry) Current() (any, bool) {
	return r.Lookup(CurrentThreadID())
}

// Len returns the number of bound threads.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
