package taskq

import (
	"runtime"
)

// Flag modifies a dispatch call.
type Flag uint32

const (
	// FlagNoSleep fails dispatch with ErrCapacityExceeded instead of waiting
	// for a free entry. It is the zero value.
	FlagNoSleep Flag = 0
	// FlagSleep lets dispatch wait for a free entry.
	FlagSleep Flag = 1 << iota
	// FlagNoQueue overrides FlagSleep so the call never blocks.
	FlagNoQueue
	// FlagFront places the task at the head of the run list.
	FlagFront
)

func (f Flag) sleeps() bool {
	return f&(FlagSleep|FlagNoQueue) == FlagSleep
}

func (f Flag) front() bool {
	return f&FlagFront != 0
}

// CreateFlag modifies Create.
type CreateFlag uint32

const (
	// FlagThreadsCPUPercent interprets the thread count as a percentage of
	// GOMAXPROCS.
	FlagThreadsCPUPercent CreateFlag = 1 << iota
)

// Priority is the scheduling class of a queue's worker threads.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

// Nice returns the thread nice value for p.
func (p Priority) Nice() int {
	switch {
	case p < PriorityNormal:
		return 10
	case p > PriorityNormal:
		return -5
	default:
		return 0
	}
}

func (p Priority) String() string {
	switch {
	case p < PriorityNormal:
		return "low"
	case p > PriorityNormal:
		return "high"
	default:
		return "normal"
	}
}

func effectiveThreads(threads int, flags CreateFlag) int {
	if flags&FlagThreadsCPUPercent == 0 {
		return threads
	}
	return max(1, threads*runtime.GOMAXPROCS(0)/100)
}
