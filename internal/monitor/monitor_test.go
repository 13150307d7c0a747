package monitor

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Paintersrp/kill-orphan/internal/liveness"
	"github.com/Paintersrp/kill-orphan/internal/runtime/process"
)

const testPgid = 4242

type fakeChild struct {
	exited   chan struct{}
	exitOnce sync.Once
	status   process.Status
	reserved bool
	waits    atomic.Int32
}

func newFakeChild() *fakeChild {
	return &fakeChild{exited: make(chan struct{})}
}

func (c *fakeChild) exit(status process.Status) {
	c.exitOnce.Do(func() {
		c.status = status
		close(c.exited)
	})
}

func (c *fakeChild) Pgid() int { return testPgid }
func (c *fakeChild) Exited() <-chan struct{} { return c.exited }
func (c *fakeChild) GroupReserved() bool { return c.reserved }

func (c *fakeChild) Wait() process.Status {
	<-c.exited
	c.waits.Add(1)
	return c.status
}

type sentSignal struct {
	pgid int
	sig  syscall.Signal
}

// recordingSignaler records deliveries and lets the child react to them.
type recordingSignaler struct {
	mu       sync.Mutex
	sent     []sentSignal
	failWith map[syscall.Signal]error
	onSignal func(syscall.Signal)
}

func (s *recordingSignaler) SignalGroup(pgid int, sig syscall.Signal) error {
	s.mu.Lock()
	err := s.failWith[sig]
	if err == nil {
		s.sent = append(s.sent, sentSignal{pgid: pgid, sig: sig})
	}
	onSignal := s.onSignal
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if onSignal != nil {
		onSignal(sig)
	}
	return nil
}

func (s *recordingSignaler) signals() []sentSignal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentSignal(nil), s.sent...)
}

func (s *recordingSignaler) count(sig syscall.Signal) int {
	n := 0
	for _, sent := range s.signals() {
		if sent.sig == sig {
			n++
		}
	}
	return n
}

// triggerWatcher reports parent death when dead is closed.
type triggerWatcher struct {
	dead chan struct{}
	err  error
}

func newTriggerWatcher() *triggerWatcher {
	return &triggerWatcher{dead: make(chan struct{})}
}

func (w *triggerWatcher) Watch(ctx context.Context, _ liveness.Probe) error {
	if w.err != nil {
		return w.err
	}
	select {
	case <-w.dead:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var aliveProbe = liveness.ProbeFunc(func(context.Context) (bool, error) { return true, nil })

func exitOnSignal(child *fakeChild, signals ...syscall.Signal) func(syscall.Signal) {
	return func(sig syscall.Signal) {
		for _, s := range signals {
			if s == sig {
				child.exit(process.Status{Code: -1, Signaled: true, Signal: sig})
				return
			}
		}
	}
}

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	if cfg.Probe == nil {
		cfg.Probe = aliveProbe
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func runWithTimeout(t *testing.T, m *Monitor, ctx context.Context) Outcome {
	t.Helper()
	done := make(chan Outcome, 1)
	go func() { done <- m.Run(ctx) }()
	select {
	case out := <-done:
		return out
	case <-time.After(10 * time.Second):
		t.Fatalf("monitor did not finish")
		return Outcome{}
	}
}

func TestChildExitPropagatesStatusWithoutSignal(t *testing.T) {
	child := newFakeChild()
	signaler := &recordingSignaler{}
	m := newTestMonitor(t, Config{Child: child, Signaler: signaler, Watcher: newTriggerWatcher()})

	child.exit(process.Status{Code: 42})
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateChildExited {
		t.Fatalf("state = %s, want child_exited", out.State)
	}
	if out.ExitCode() != 42 {
		t.Fatalf("exit code = %d, want 42", out.ExitCode())
	}
	if sent := signaler.signals(); len(sent) != 0 {
		t.Fatalf("no signal may be sent after a natural exit, got %v", sent)
	}
	if m.State() != StateDone {
		t.Fatalf("monitor state = %s, want done", m.State())
	}
	if child.waits.Load() != 1 {
		t.Fatalf("child reaped %d times, want 1", child.waits.Load())
	}
}

func TestParentDeathSignalsGroupOnce(t *testing.T) {
	child := newFakeChild()
	signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGTERM)}
	watcher := newTriggerWatcher()
	m := newTestMonitor(t, Config{Child: child, Signaler: signaler, Watcher: watcher, GracePeriod: time.Second})

	close(watcher.dead)
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateParentDead {
		t.Fatalf("state = %s, want parent_dead", out.State)
	}
	if out.ExitCode() != ExitParentDead {
		t.Fatalf("exit code = %d, want %d", out.ExitCode(), ExitParentDead)
	}
	sent := signaler.signals()
	if len(sent) != 1 || sent[0] != (sentSignal{pgid: testPgid, sig: syscall.SIGTERM}) {
		t.Fatalf("expected exactly one SIGTERM to group %d, got %v", testPgid, sent)
	}
	if !out.Status.Signaled || out.Status.Signal != syscall.SIGTERM {
		t.Fatalf("expected child status from SIGTERM, got %v", out.Status)
	}
}

func TestParentDeathEscalatesAfterGracePeriod(t *testing.T) {
	child := newFakeChild()
	signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGKILL)}
	watcher := newTriggerWatcher()
	m := newTestMonitor(t, Config{Child: child, Signaler: signaler, Watcher: watcher, GracePeriod: 20 * time.Millisecond})

	close(watcher.dead)
	start := time.Now()
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateParentDead {
		t.Fatalf("state = %s, want parent_dead", out.State)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("escalated before the grace period elapsed: %s", elapsed)
	}
	if signaler.count(syscall.SIGTERM) != 1 || signaler.count(syscall.SIGKILL) != 1 {
		t.Fatalf("expected SIGTERM then SIGKILL, got %v", signaler.signals())
	}
	if sent := signaler.signals(); sent[0].sig != syscall.SIGTERM {
		t.Fatalf("SIGTERM must come first, got %v", sent)
	}
}

func TestParentDeathKillsStragglersWhileGroupReserved(t *testing.T) {
	for _, reserved := range []bool{true, false} {
		child := newFakeChild()
		child.reserved = reserved
		signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGTERM)}
		watcher := newTriggerWatcher()
		m := newTestMonitor(t, Config{
			Child: child, Signaler: signaler, Watcher: watcher,
			GracePeriod: time.Second, KillStragglers: true,
		})

		close(watcher.dead)
		runWithTimeout(t, m, context.Background())

		wantKills := 0
		if reserved {
			wantKills = 1
		}
		if got := signaler.count(syscall.SIGKILL); got != wantKills {
			t.Fatalf("reserved=%v: SIGKILL sweeps = %d, want %d", reserved, got, wantKills)
		}
		if got := signaler.count(syscall.SIGTERM); got != 1 {
			t.Fatalf("reserved=%v: SIGTERM deliveries = %d, want 1", reserved, got)
		}
	}
}

func TestSignalFailureIsReportedButOutcomeStands(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	child := newFakeChild()
	signaler := &recordingSignaler{
		failWith: map[syscall.Signal]error{syscall.SIGTERM: syscall.EPERM},
		onSignal: exitOnSignal(child, syscall.SIGKILL),
	}
	watcher := newTriggerWatcher()
	m := newTestMonitor(t, Config{
		Child: child, Signaler: signaler, Watcher: watcher,
		GracePeriod: 10 * time.Millisecond, Logger: zap.New(core),
	})

	close(watcher.dead)
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateParentDead || out.ExitCode() != ExitParentDead {
		t.Fatalf("expected parent_dead outcome despite signal failure, got %s (%d)", out.State, out.ExitCode())
	}
	if logs.FilterMessage("failed to signal process group").Len() != 1 {
		t.Fatalf("expected a diagnostic for the failed SIGTERM, got %v", logs.All())
	}
}

func TestInterruptTearsDownGroup(t *testing.T) {
	child := newFakeChild()
	signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGTERM)}
	interrupts := make(chan os.Signal, 1)
	m := newTestMonitor(t, Config{
		Child: child, Signaler: signaler, Watcher: newTriggerWatcher(),
		Interrupts: interrupts, GracePeriod: time.Second,
	})

	interrupts <- syscall.SIGINT
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateInterrupted {
		t.Fatalf("state = %s, want interrupted", out.State)
	}
	if out.ExitCode() != 128+int(syscall.SIGINT) {
		t.Fatalf("exit code = %d, want %d", out.ExitCode(), 128+int(syscall.SIGINT))
	}
	if signaler.count(syscall.SIGTERM) != 1 {
		t.Fatalf("expected one SIGTERM, got %v", signaler.signals())
	}
}

func TestContextCancellationInterrupts(t *testing.T) {
	child := newFakeChild()
	signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGTERM)}
	m := newTestMonitor(t, Config{Child: child, Signaler: signaler, Watcher: newTriggerWatcher(), GracePeriod: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := runWithTimeout(t, m, ctx)

	if out.State != StateInterrupted {
		t.Fatalf("state = %s, want interrupted", out.State)
	}
	if out.Signal != nil {
		t.Fatalf("cancellation carries no signal, got %v", out.Signal)
	}
	if out.ExitCode() != ExitParentDead {
		t.Fatalf("exit code = %d, want %d", out.ExitCode(), ExitParentDead)
	}
}

func TestWatcherFailureFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	child := newFakeChild()
	signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGTERM)}
	broken := &triggerWatcher{err: errors.New("prctl: operation not permitted")}
	fallback := newTriggerWatcher()
	close(fallback.dead)

	m := newTestMonitor(t, Config{
		Child: child, Signaler: signaler, Watcher: broken, Fallback: fallback,
		GracePeriod: time.Second, Logger: zap.New(core),
	})
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateParentDead {
		t.Fatalf("state = %s, want parent_dead", out.State)
	}
	if logs.FilterMessage("parent watcher failed, falling back to polling").Len() != 1 {
		t.Fatalf("expected fallback warning, got %v", logs.All())
	}
}

func TestInconclusiveProbesNeverKill(t *testing.T) {
	child := newFakeChild()
	signaler := &recordingSignaler{}
	probe := liveness.ProbeFunc(func(context.Context) (bool, error) {
		return false, errors.New("transient")
	})
	m := newTestMonitor(t, Config{
		Child: child, Signaler: signaler, Probe: probe,
		Watcher: liveness.NewPollWatcher(time.Millisecond, nil),
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		child.exit(process.Status{Code: 0})
	}()
	out := runWithTimeout(t, m, context.Background())

	if out.State != StateChildExited || out.ExitCode() != 0 {
		t.Fatalf("expected clean child exit, got %s (%d)", out.State, out.ExitCode())
	}
	if sent := signaler.signals(); len(sent) != 0 {
		t.Fatalf("inconclusive probes must not trigger signals, got %v", sent)
	}
}

func TestExitAndParentDeathRace(t *testing.T) {
	const trials = 1000
	for i := 0; i < trials; i++ {
		child := newFakeChild()
		signaler := &recordingSignaler{onSignal: exitOnSignal(child, syscall.SIGTERM)}
		watcher := newTriggerWatcher()
		m := newTestMonitor(t, Config{Child: child, Signaler: signaler, Watcher: watcher, GracePeriod: time.Second})

		start := make(chan struct{})
		go func() {
			<-start
			child.exit(process.Status{Code: 7})
		}()
		go func() {
			<-start
			close(watcher.dead)
		}()
		close(start)

		out := m.Run(context.Background())
		sent := signaler.signals()

		switch out.State {
		case StateChildExited:
			if len(sent) != 0 {
				t.Fatalf("trial %d: signal sent after child_exited: %v", i, sent)
			}
			if out.ExitCode() != 7 {
				t.Fatalf("trial %d: exit code = %d, want 7", i, out.ExitCode())
			}
		case StateParentDead:
			if signaler.count(syscall.SIGTERM) != 1 {
				t.Fatalf("trial %d: expected exactly one SIGTERM, got %v", i, sent)
			}
			if out.ExitCode() != ExitParentDead {
				t.Fatalf("trial %d: parent_dead must not report the child's code, got %d", i, out.ExitCode())
			}
		default:
			t.Fatalf("trial %d: unexpected state %s", i, out.State)
		}
	}
}

func TestRunTwiceReturnsDone(t *testing.T) {
	child := newFakeChild()
	child.exit(process.Status{Code: 3})
	m := newTestMonitor(t, Config{Child: child, Signaler: &recordingSignaler{}, Watcher: newTriggerWatcher()})

	if out := m.Run(context.Background()); out.State != StateChildExited {
		t.Fatalf("first run state = %s", out.State)
	}
	if out := m.Run(context.Background()); out.State != StateDone {
		t.Fatalf("second run state = %s, want done", out.State)
	}
}

func TestConcurrentRunSupervisesOnce(t *testing.T) {
	child := newFakeChild()
	child.exit(process.Status{Code: 3})
	m := newTestMonitor(t, Config{Child: child, Signaler: &recordingSignaler{}, Watcher: newTriggerWatcher()})

	outcomes := make([]Outcome, 8)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = m.Run(context.Background())
		}(i)
	}
	wg.Wait()

	supervised := 0
	for _, out := range outcomes {
		switch out.State {
		case StateChildExited:
			supervised++
		case StateDone:
		default:
			t.Fatalf("unexpected run state %s", out.State)
		}
	}
	if supervised != 1 {
		t.Fatalf("%d runs supervised the child, want exactly 1", supervised)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	valid := Config{Child: newFakeChild(), Signaler: &recordingSignaler{}, Watcher: newTriggerWatcher(), Probe: aliveProbe}
	cases := map[string]func(Config) Config{
		"child":    func(c Config) Config { c.Child = nil; return c },
		"signaler": func(c Config) Config { c.Signaler = nil; return c },
		"watcher":  func(c Config) Config { c.Watcher = nil; return c },
		"probe":    func(c Config) Config { c.Probe = nil; return c },
	}
	for name, mutate := range cases {
		if _, err := New(mutate(valid)); err == nil {
			t.Fatalf("expected error when %s is missing", name)
		}
	}
	if _, err := New(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestOutcomeExitCode(t *testing.T) {
	cases := []struct {
		name    string
		outcome Outcome
		want    int
	}{
		{"clean exit", Outcome{State: StateChildExited, Status: process.Status{Code: 0}}, 0},
		{"failing exit", Outcome{State: StateChildExited, Status: process.Status{Code: 42}}, 42},
		{"signalled child", Outcome{State: StateChildExited, Status: process.Status{Code: -1, Signaled: true, Signal: syscall.SIGKILL}}, 137},
		{"unknown status", Outcome{State: StateChildExited, Status: process.Status{Code: -1}}, 1},
		{"parent dead", Outcome{State: StateParentDead}, 143},
		{"interrupted", Outcome{State: StateInterrupted, Signal: syscall.SIGQUIT}, 131},
	}
	for _, tc := range cases {
		if got := tc.outcome.ExitCode(); got != tc.want {
			t.Fatalf("%s: exit code = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateParentDead.String() != "parent_dead" || StateDone.String() != "done" {
		t.Fatalf("unexpected state names: %s %s", StateParentDead, StateDone)
	}
	if State(99).String() != "state(99)" {
		t.Fatalf("unexpected fallback name %s", State(99))
	}
}
