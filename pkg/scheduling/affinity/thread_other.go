//go:build !linux && !windows

package affinity

import "errors"

func platformCurrentThreadID() ThreadID {
	return NoThread
}

func platformSetThreadPriority(int) error {
	return errors.ErrUnsupported
}
