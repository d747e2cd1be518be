//go:build linux

package affinity

import (
	"golang.org/x/sys/unix"
)

func platformCurrentThreadID() ThreadID {
	return ThreadID(unix.Gettid())
}

// On Linux PRIO_PROCESS with a thread id targets that single thread.
func platformSetThreadPriority(nice int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), nice)
}
