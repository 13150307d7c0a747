//go:build !windows

package process

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Signaler signals process groups with kill(2).
type Signaler struct{}

// SignalGroup sends sig to -pgid. ESRCH means every member has already
// exited, which is the state the caller wants, so it is not an error.
func (Signaler) SignalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 1 {
		return fmt.Errorf("refusing to signal process group %d", pgid)
	}
	if pgid == unix.Getpgrp() {
		return fmt.Errorf("refusing to signal own process group %d", pgid)
	}
	if err := unix.Kill(-pgid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal process group %d with %s: %w", pgid, SignalName(sig), err)
	}
	return nil
}

func signalName(sig syscall.Signal) string {
	return unix.SignalName(sig)
}

func signalNum(name string) syscall.Signal {
	return unix.SignalNum(name)
}
