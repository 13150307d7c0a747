// Package liveness detects the death of the supervisor's original parent.
//
// A Probe answers whether a process is alive; a Watcher turns a probe into a
// blocking wait for death. Probe errors are inconclusive and never count as
// death, so a watcher may report death late but never early.
package liveness

import (
	"context"
	"os"
)

// Probe reports whether the watched process is alive. A non-nil error means
// the probe was inconclusive and the result must be ignored.
type Probe interface {
	Alive(ctx context.Context) (bool, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) (bool, error)

func (f ProbeFunc) Alive(ctx context.Context) (bool, error) {
	return f(ctx)
}

// ParentProbe watches the parent captured at startup. The parent is alive as
// long as the kernel still reports it as our parent: once it dies we are
// re-parented to init or a subreaper, which also makes the check immune to
// pid reuse.
type ParentProbe struct {
	PID int

	getppid func() int
}

// NewParentProbe captures the current parent process id.
func NewParentProbe() ParentProbe {
	return ParentProbe{PID: os.Getppid()}
}

func (p ParentProbe) Alive(context.Context) (bool, error) {
	return parentAlive(p)
}

// PIDProbe checks an arbitrary process id with a null signal. Unlike
// ParentProbe it cannot tell a recycled pid from the original process.
type PIDProbe struct {
	PID int
}

func (p PIDProbe) Alive(context.Context) (bool, error) {
	return pidAlive(p.PID)
}
