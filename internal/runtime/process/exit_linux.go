//go:build linux

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// waitExited blocks until pid has terminated without reaping it.
func waitExited(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}
