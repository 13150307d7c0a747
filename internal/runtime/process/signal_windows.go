//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Signaler terminates the direct child only. Windows has no process-group
// kill, so grandchildren may survive.
type Signaler struct{}

func (Signaler) SignalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return fmt.Errorf("refusing to signal process %d", pgid)
	}
	proc, err := os.FindProcess(pgid)
	if err != nil {
		return nil
	}
	if sig == syscall.SIGINT {
		err = proc.Signal(os.Interrupt)
	} else {
		err = proc.Kill()
	}
	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", pgid, err)
	}
	return nil
}

var windowsSignals = map[string]syscall.Signal{
	"SIGHUP":  syscall.SIGHUP,
	"SIGINT":  syscall.SIGINT,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGKILL": syscall.SIGKILL,
	"SIGTERM": syscall.SIGTERM,
}

func signalName(sig syscall.Signal) string {
	for name, s := range windowsSignals {
		if s == sig {
			return name
		}
	}
	return ""
}

func signalNum(name string) syscall.Signal {
	return windowsSignals[name]
}
