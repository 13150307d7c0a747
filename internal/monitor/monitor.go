// Package monitor decides how a supervised run ends.
//
// A Monitor watches two things at once: the exit of the child and the death
// of the supervisor's original parent. The first one observed becomes the
// run's single Outcome. A recorded ChildExited outcome never leads to a
// signal; ParentDead and Interrupted tear the child's process group down.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/kill-orphan/internal/liveness"
	"github.com/Paintersrp/kill-orphan/internal/metrics"
	"github.com/Paintersrp/kill-orphan/internal/runtime/process"
)

const (
	// DefaultGracePeriod is how long the group gets to exit after SIGTERM
	// before it is killed.
	DefaultGracePeriod = 5 * time.Second
	// killWait bounds the wait for the child after SIGKILL.
	killWait = 2 * time.Second

	// ExitParentDead is the exit code used when the supervisor terminated
	// the group because its parent died (128 + SIGTERM).
	ExitParentDead = 128 + int(syscall.SIGTERM)
)

// State is a step of the monitor's lifecycle.
type State int32

const (
	StateWatching State = iota
	StateChildExited
	StateParentDead
	StateInterrupted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWatching:
		return "watching"
	case StateChildExited:
		return "child_exited"
	case StateParentDead:
		return "parent_dead"
	case StateInterrupted:
		return "interrupted"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Child is the monitor's view of the supervised process. It never owns the
// process; it only needs its group id and a way to observe and reap it.
type Child interface {
	Pgid() int
	Exited() <-chan struct{}
	GroupReserved() bool
	Wait() process.Status
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State  State
	Status process.Status
	// Signal is the signal that interrupted the supervisor, if any.
	Signal os.Signal
}

// ExitCode maps the outcome to the supervisor's exit code.
func (o Outcome) ExitCode() int {
	switch o.State {
	case StateChildExited:
		return o.Status.ExitCode()
	case StateInterrupted:
		if sig, ok := o.Signal.(syscall.Signal); ok {
			return 128 + int(sig)
		}
		return ExitParentDead
	default:
		return ExitParentDead
	}
}

// Config wires a Monitor to its collaborators.
type Config struct {
	Child    Child
	Signaler process.GroupSignaler
	Watcher  liveness.Watcher
	Probe    liveness.Probe
	// Fallback replaces Watcher if it fails for a reason other than
	// cancellation. Defaults to a poll watcher.
	Fallback liveness.Watcher
	// Interrupts delivers termination requests aimed at the supervisor.
	Interrupts  <-chan os.Signal
	GracePeriod time.Duration
	// KillStragglers sends SIGKILL to the group once the leader has exited
	// after SIGTERM, while the group id is still reserved by the unreaped
	// leader.
	KillStragglers bool
	Logger         *zap.Logger
}

// Monitor runs a single supervision.
type Monitor struct {
	child          Child
	signaler       process.GroupSignaler
	watcher        liveness.Watcher
	fallback       liveness.Watcher
	probe          liveness.Probe
	interrupts     <-chan os.Signal
	grace          time.Duration
	killStragglers bool
	logger         *zap.Logger

	state   atomic.Int32
	started atomic.Bool
}

// New validates cfg and returns a Monitor in the Watching state.
func New(cfg Config) (*Monitor, error) {
	switch {
	case cfg.Child == nil:
		return nil, errors.New("monitor requires a child")
	case cfg.Signaler == nil:
		return nil, errors.New("monitor requires a group signaler")
	case cfg.Watcher == nil:
		return nil, errors.New("monitor requires a liveness watcher")
	case cfg.Probe == nil:
		return nil, errors.New("monitor requires a liveness probe")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = liveness.NewPollWatcher(liveness.DefaultPollInterval, logger)
	}
	grace := cfg.GracePeriod
	if grace < 0 {
		grace = 0
	}
	return &Monitor{
		child:          cfg.Child,
		signaler:       cfg.Signaler,
		watcher:        cfg.Watcher,
		fallback:       fallback,
		probe:          cfg.Probe,
		interrupts:     cfg.Interrupts,
		grace:          grace,
		killStragglers: cfg.KillStragglers,
		logger:         logger,
	}, nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Run blocks until the outcome is final and the child has been reaped (or
// abandoned after SIGKILL). Cancelling ctx counts as an interruption. Run
// may only be called once; later calls return immediately with StateDone.
func (m *Monitor) Run(ctx context.Context) Outcome {
	if !m.started.CompareAndSwap(false, true) {
		return Outcome{State: StateDone}
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	parentDead := make(chan struct{})
	go m.watchParent(watchCtx, parentDead)

	var outcome Outcome
	for outcome.State == StateWatching {
		select {
		case <-m.child.Exited():
			if m.record(StateChildExited) {
				cancelWatch()
				outcome = Outcome{State: StateChildExited, Status: m.child.Wait()}
				m.logger.Debug("Process exited with status", zap.Stringer("status", outcome.Status))
			}
		case <-parentDead:
			if m.record(StateParentDead) {
				outcome = Outcome{State: StateParentDead, Status: m.teardown("Parent process doesn't exist anymore, killing process")}
			}
		case sig := <-m.interrupts:
			if m.record(StateInterrupted) {
				cancelWatch()
				outcome = Outcome{State: StateInterrupted, Signal: sig, Status: m.teardown("Received termination signal, killing process", zap.Stringer("signal", sig))}
			}
		case <-ctx.Done():
			if m.record(StateInterrupted) {
				cancelWatch()
				outcome = Outcome{State: StateInterrupted, Status: m.teardown("Supervision cancelled, killing process", zap.Error(ctx.Err()))}
			}
		}
	}

	m.state.Store(int32(StateDone))
	return outcome
}

// record moves Watching to s. Only the first caller wins.
func (m *Monitor) record(s State) bool {
	if !m.state.CompareAndSwap(int32(StateWatching), int32(s)) {
		return false
	}
	metrics.SetOutcome(s.String())
	return true
}

func (m *Monitor) watchParent(ctx context.Context, parentDead chan<- struct{}) {
	err := m.watcher.Watch(ctx, m.probe)
	if err != nil && ctx.Err() == nil && m.fallback != nil {
		m.logger.Warn("parent watcher failed, falling back to polling", zap.Error(err))
		err = m.fallback.Watch(ctx, m.probe)
	}
	if err == nil {
		close(parentDead)
		return
	}
	if ctx.Err() == nil {
		m.logger.Error("parent watcher stopped", zap.Error(err))
	}
}

// teardown terminates the group and returns the child's final status. The
// group is signalled before anything is logged: when the parent is gone our
// stderr may be a pipe nobody reads.
func (m *Monitor) teardown(reason string, fields ...zap.Field) process.Status {
	pgid := m.child.Pgid()
	termErr := m.signal(pgid, syscall.SIGTERM)
	m.logger.Info(reason, append(fields, zap.Int("pgid", pgid))...)
	if termErr != nil {
		m.logger.Warn("failed to signal process group", zap.Int("pgid", pgid), zap.String("signal", "SIGTERM"), zap.Error(termErr))
	}

	grace := time.NewTimer(m.grace)
	defer grace.Stop()

	select {
	case <-m.child.Exited():
		if m.killStragglers && m.child.GroupReserved() {
			if err := m.signal(pgid, syscall.SIGKILL); err != nil {
				m.logger.Warn("failed to kill remaining group members", zap.Int("pgid", pgid), zap.Error(err))
			}
		}
	case <-grace.C:
		m.logger.Warn("process group did not exit within grace period, killing",
			zap.Int("pgid", pgid), zap.Duration("grace_period", m.grace))
		if err := m.signal(pgid, syscall.SIGKILL); err != nil {
			m.logger.Warn("failed to kill process group", zap.Int("pgid", pgid), zap.Error(err))
		}
		select {
		case <-m.child.Exited():
		case <-time.After(killWait):
			m.logger.Error("process didn't exit after SIGKILL, giving up", zap.Int("pgid", pgid))
			return process.Status{Code: -1, Err: errors.New("child did not exit after SIGKILL")}
		}
	}

	status := m.child.Wait()
	m.logger.Debug("Process exited with status", zap.Stringer("status", status))
	return status
}

func (m *Monitor) signal(pgid int, sig syscall.Signal) error {
	if err := m.signaler.SignalGroup(pgid, sig); err != nil {
		metrics.IncSignalError()
		return err
	}
	metrics.IncGroupSignal(process.SignalName(sig))
	return nil
}
