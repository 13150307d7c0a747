//go:build windows

package liveness

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// errorInvalidParameter is what OpenProcess reports for a pid that no longer
// exists.
const errorInvalidParameter = syscall.Errno(87)

func pidAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		if errors.Is(err, errorInvalidParameter) {
			return false, nil
		}
		return false, fmt.Errorf("probe pid %d: %w", pid, err)
	}
	_ = proc.Release()
	return true, nil
}

// Windows never re-parents, so the parent is probed by pid.
func parentAlive(p ParentProbe) (bool, error) {
	return pidAlive(p.PID)
}
