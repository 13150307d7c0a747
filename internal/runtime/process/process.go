package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ErrNoCommand is returned by Start when the argument vector is empty.
var ErrNoCommand = errors.New("no command given")

// SpawnError reports that the operating system refused to create the child.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Options tunes how the child is created. Zero values inherit the
// supervisor's standard streams, environment and working directory.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Env    []string
	Dir    string
}

// Process is the handle to a running child that leads its own process group.
type Process struct {
	cmd *exec.Cmd
	pid int

	exited   chan struct{}
	reserved atomic.Bool

	reapOnce sync.Once
	status   Status
}

// Start spawns argv[0] with the remaining arguments in a new process group.
func Start(argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	// exec.Command rather than CommandContext: cancellation would SIGKILL the
	// leader only, and group teardown is the caller's decision.
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	}
	cmd.Dir = opts.Dir

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: argv[0], Err: err}
	}

	p := &Process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		exited: make(chan struct{}),
	}
	go p.watchExit()
	return p, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.pid
}

// Pgid returns the id of the child's process group. It is fixed at creation
// and always equals Pid.
func (p *Process) Pgid() int {
	return p.pid
}

// Exited is closed once the child has terminated. The child may not have
// been reaped yet; see GroupReserved.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// GroupReserved reports whether the exited child is still an unreaped zombie,
// in which case its group id cannot have been reused and signalling the
// group is safe. A running child always reserves its group.
func (p *Process) GroupReserved() bool {
	select {
	case <-p.exited:
		return p.reserved.Load()
	default:
		return true
	}
}

// Wait blocks until the child has exited, reaps it, and returns its status.
// It is safe to call more than once.
func (p *Process) Wait() Status {
	<-p.exited
	p.reap()
	return p.status
}

func (p *Process) watchExit() {
	if err := waitExited(p.pid); err == nil {
		p.reserved.Store(true)
	} else {
		p.reap()
	}
	close(p.exited)
}

func (p *Process) reap() {
	p.reapOnce.Do(func() {
		err := p.cmd.Wait()
		p.status = statusFromState(p.cmd.ProcessState, err)
		p.reserved.Store(false)
	})
}
