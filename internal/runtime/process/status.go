package process

import (
	"fmt"
	"os"
	"syscall"
)

// Status describes how the child terminated.
type Status struct {
	// Code is the exit code of a normally exited child, or -1.
	Code int
	// Signaled is set when the child was terminated by Signal.
	Signaled bool
	Signal   syscall.Signal
	// Err holds a wait failure that left the status unknown.
	Err error
}

// ExitCode folds the status into a shell-style exit code: the child's own
// code, 128+signo for a signalled child, or 1 when the status is unknown.
func (s Status) ExitCode() int {
	switch {
	case s.Signaled:
		return 128 + int(s.Signal)
	case s.Code >= 0:
		return s.Code
	default:
		return 1
	}
}

func (s Status) String() string {
	switch {
	case s.Signaled:
		return fmt.Sprintf("signal: %s", s.Signal)
	case s.Code >= 0:
		return fmt.Sprintf("exit status %d", s.Code)
	case s.Err != nil:
		return fmt.Sprintf("unknown: %v", s.Err)
	default:
		return "unknown"
	}
}

func statusFromState(state *os.ProcessState, waitErr error) Status {
	if state == nil {
		return Status{Code: -1, Err: waitErr}
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return Status{Code: -1, Signaled: true, Signal: ws.Signal()}
		}
		if ws.Exited() {
			return Status{Code: ws.ExitStatus()}
		}
	}
	return Status{Code: state.ExitCode()}
}
