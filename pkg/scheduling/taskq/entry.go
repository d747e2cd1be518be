package taskq

import (
	"context"
	"sync/atomic"

	"github.com/vnykmshr/taskq/pkg/scheduling/callout"
	"github.com/vnykmshr/taskq/pkg/scheduling/entrystore"
)

// Func is the work executed by a queue worker. ctx carries the executing
// queue (see FromContext) and is cancelled once the queue is destroyed.
type Func func(ctx context.Context, arg any) error

// ID identifies a dispatched task. The zero ID is never issued.
type ID = entrystore.ID

// Kind distinguishes entries waiting on a timer from runnable ones.
type Kind uint8

const (
	KindNormal Kind = iota
	KindTimeout
)

func (k Kind) String() string {
	if k == KindTimeout {
		return "timeout"
	}
	return "normal"
}

// Ownership decides who releases an entry once it has run.
type Ownership uint8

const (
	// OwnedByQueue entries come from the entry store and are freed by the
	// queue after they run or are cancelled.
	OwnedByQueue Ownership = iota
	// OwnedByCaller entries are supplied to DispatchEntry and never freed
	// by the queue.
	OwnedByCaller
)

// State is the lifecycle position of an entry.
type State int32

const (
	StateIdle State = iota
	StatePending
	StateRunning
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	default:
		return "idle"
	}
}

// Entry is a unit of work plus its run-list linkage. Callers that want to
// avoid allocation embed an Entry in their own state and pass it to
// DispatchEntry; the zero value is ready to use. An Entry must not be copied
// after first use.
type Entry struct {
	fn    Func
	arg   any
	kind  Kind
	owner Ownership
	front bool
	id    ID

	state atomic.Int32
	queue atomic.Pointer[Queue]

	// guarded by queue.mu
	prev, next *Entry
	linked     bool
	epoch      uint64
	timer      callout.Timer
	cancelled  bool
}

// State reports the entry's current lifecycle state.
func (e *Entry) State() State {
	return State(e.state.Load())
}

// Empty reports whether e has no pending work counted against it. A running
// entry is empty. The result is a snapshot and does not synchronize.
func Empty(e *Entry) bool {
	return e.State() != StatePending
}
