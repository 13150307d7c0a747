//go:build !windows

package liveness

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func pidAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid pid %d", pid)
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true, nil
	case errors.Is(err, unix.ESRCH):
		return false, nil
	default:
		return false, fmt.Errorf("probe pid %d: %w", pid, err)
	}
}

func parentAlive(p ParentProbe) (bool, error) {
	getppid := p.getppid
	if getppid == nil {
		getppid = os.Getppid
	}
	return getppid() == p.PID, nil
}
