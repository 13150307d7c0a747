package process

import (
	"fmt"
	"strings"
	"syscall"
)

// GroupSignaler delivers a signal to every member of a process group.
// Implementations treat a group that no longer exists as success.
type GroupSignaler interface {
	SignalGroup(pgid int, sig syscall.Signal) error
}

// SignalName returns the conventional name of sig, such as "SIGTERM".
func SignalName(sig syscall.Signal) string {
	if name := signalName(sig); name != "" {
		return name
	}
	return sig.String()
}

// ParseSignal resolves a signal name such as "SIGUSR2", "usr2" or "TERM".
func ParseSignal(name string) (syscall.Signal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return 0, fmt.Errorf("empty signal name")
	}
	if !strings.HasPrefix(normalized, "SIG") {
		normalized = "SIG" + normalized
	}
	if sig := signalNum(normalized); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

// TerminationSignals are the signals the supervisor traps as requests to
// tear down the child's group and exit.
var TerminationSignals = []syscall.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP}

// Reserved reports whether the supervisor already handles sig itself, in
// which case it cannot double as a parent-death notification.
func Reserved(sig syscall.Signal) bool {
	if sig == syscall.SIGPIPE {
		return true
	}
	for _, s := range TerminationSignals {
		if s == sig {
			return true
		}
	}
	return false
}
