package entrystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/ygrebnov/errorc"

	tqerrors "github.com/vnykmshr/taskq/pkg/common/errors"
	"github.com/vnykmshr/taskq/pkg/common/validation"
)

const chunkSize = 256

// ID identifies an allocated slot. The low 32 bits hold index+1 and the high
// 32 bits hold the slot generation.
type ID uint64

// Invalid is the null identifier.
const Invalid ID = 0

func makeID(index int, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(uint32(index)+1))
}

// Valid reports whether id could have been issued by a store.
func (id ID) Valid() bool {
	return uint32(id) != 0
}

func (id ID) index() int { return int(uint32(id)) - 1 }
func (id ID) generation() uint32 { return uint32(id >> 32) }

func (id ID) String() string {
	if !id.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d.%d", id.index(), id.generation())
}

// Mode selects what Alloc does when the store is full.
type Mode int

const (
	// ModeSleep waits for a slot to be freed.
	ModeSleep Mode = iota
	// ModeNoSleep fails with ErrCapacityExceeded.
	ModeNoSleep
)

type slot[T any] struct {
	val   T
	gen   uint32
	inUse bool
}

// Stats is a snapshot of store occupancy.
type Stats struct {
	Capacity  int
	InUse     int
	Allocated uint64
	Freed     uint64
	Peak      int
}

// Store is a bounded, concurrency-safe slot arena.
type Store[T any] struct {
	mu       sync.Mutex
	chunks   [][]slot[T]
	next     int // first never-used index
	free     *queue.Queue
	capacity int
	inUse    int
	closed   bool
	released chan struct{} // closed and replaced whenever a slot frees up

	allocated uint64
	freed     uint64
	peak      int
}

// New creates a store able to hold capacity live records.
func New[T any](capacity int) (*Store[T], error) {
	if err := validation.ValidatePositive("entrystore", "capacity", capacity); err != nil {
		return nil, err
	}
	return &Store[T]{
		capacity: capacity,
		free:     queue.New(),
		released: make(chan struct{}),
	}, nil
}

// Alloc reserves a slot and returns its ID and a pointer to the zeroed record.
// In ModeSleep it blocks until a slot is available, ctx ends or the store is
// closed.
func (s *Store[T]) Alloc(ctx context.Context, mode Mode) (ID, *T, error) {
	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return Invalid, nil, tqerrors.ErrClosed
		}
		if s.inUse < s.capacity {
			break
		}
		if mode == ModeNoSleep {
			s.mu.Unlock()
			return Invalid, nil, errorc.With(tqerrors.ErrCapacityExceeded,
				errorc.String("capacity", fmt.Sprint(s.capacity)))
		}
		wake := s.released
		s.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return Invalid, nil, ctx.Err()
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	var idx int
	if s.free.Length() > 0 {
		idx = s.free.Remove().(int)
	} else {
		idx = s.next
		s.next++
		if idx/chunkSize == len(s.chunks) {
			s.chunks = append(s.chunks, make([]slot[T], chunkSize))
		}
	}

	sl := s.slotAt(idx)
	sl.inUse = true
	s.inUse++
	s.allocated++
	if s.inUse > s.peak {
		s.peak = s.inUse
	}
	return makeID(idx, sl.gen), &sl.val, nil
}

func (s *Store[T]) slotAt(idx int) *slot[T] {
	return &s.chunks[idx/chunkSize][idx%chunkSize]
}

// resolve returns the live slot for id or nil. Caller holds s.mu.
func (s *Store[T]) resolve(id ID) *slot[T] {
	if !id.Valid() {
		return nil
	}
	idx := id.index()
	if idx >= s.next {
		return nil
	}
	sl := s.slotAt(idx)
	if !sl.inUse || sl.gen != id.generation() {
		return nil
	}
	return sl
}

// Lookup returns the record for a live ID.
func (s *Store[T]) Lookup(id ID) (*T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.resolve(id)
	if sl == nil {
		return nil, false
	}
	return &sl.val, true
}

// Inspect calls fn with the record for a live ID while the store lock is
// held, so fn observes the record without racing a concurrent Free. fn must
// not call back into the store.
func (s *Store[T]) Inspect(id ID, fn func(*T)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.resolve(id)
	if sl == nil {
		return false
	}
	fn(&sl.val)
	return true
}

// Free releases the slot named by id. It returns false if id is stale or was
// never issued, so a second Free of the same ID is harmless.
func (s *Store[T]) Free(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.resolve(id)
	if sl == nil {
		return false
	}
	var zero T
	sl.val = zero
	sl.inUse = false
	sl.gen++
	s.inUse--
	s.freed++
	s.free.Add(id.index())
	close(s.released)
	s.released = make(chan struct{})
	return true
}

// Close wakes sleeping allocators and makes further Alloc calls fail with
// ErrClosed. Live records stay readable and can still be freed.
func (s *Store[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.released)
	s.released = make(chan struct{})
}

// Capacity returns the maximum number of live records.
func (s *Store[T]) Capacity() int {
	return s.capacity
}

// Stats returns a snapshot of store counters.
func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Capacity:  s.capacity,
		InUse:     s.inUse,
		Allocated: s.allocated,
		Freed:     s.freed,
		Peak:      s.peak,
	}
}
