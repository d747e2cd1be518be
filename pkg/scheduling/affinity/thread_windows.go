//go:build windows

package affinity

import (
	"errors"

	"golang.org/x/sys/windows"
)

func platformCurrentThreadID() ThreadID {
	return ThreadID(windows.GetCurrentThreadId())
}

func platformSetThreadPriority(int) error {
	return errors.ErrUnsupported
}
