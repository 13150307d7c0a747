//go:build linux

package liveness

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/kill-orphan/internal/runtime/process"
)

// DefaultNotifySignal is requested with PR_SET_PDEATHSIG.
const DefaultNotifySignal = syscall.SIGUSR2

// NotifyWatcher asks the kernel for a signal when the parent dies
// (prctl(PR_SET_PDEATHSIG)). The kernel also sends it when only the parent
// thread that forked us exits, so every notification is confirmed with the
// probe. A slow fallback re-probe covers a lost notification.
type NotifyWatcher struct {
	Signal   syscall.Signal
	Fallback time.Duration

	logger *zap.Logger
}

// NewNotifyWatcher returns a parent-death notification watcher.
func NewNotifyWatcher(sig syscall.Signal, fallback time.Duration, logger *zap.Logger) (*NotifyWatcher, error) {
	if sig == 0 {
		sig = DefaultNotifySignal
	}
	if sig == syscall.SIGKILL || sig == syscall.SIGSTOP {
		return nil, fmt.Errorf("signal %s cannot be caught", unix.SignalName(sig))
	}
	if process.Reserved(sig) {
		return nil, fmt.Errorf("signal %s is already handled by the supervisor", unix.SignalName(sig))
	}
	if fallback <= 0 {
		fallback = DefaultNotifyFallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyWatcher{Signal: sig, Fallback: fallback, logger: logger}, nil
}

func (w *NotifyWatcher) Watch(ctx context.Context, probe Probe) error {
	notifications := make(chan os.Signal, 1)
	signal.Notify(notifications, w.Signal)
	defer signal.Stop(notifications)

	// The death signal setting belongs to the calling thread; keep it there
	// so it can be cleared on the way out.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(w.Signal), 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_PDEATHSIG): %w", err)
	}
	defer func() {
		_ = unix.Prctl(unix.PR_SET_PDEATHSIG, 0, 0, 0, 0)
	}()
	w.logger.Debug("parent death notification armed",
		zap.String("signal", unix.SignalName(w.Signal)),
		zap.Duration("fallback", w.Fallback))

	ticker := time.NewTicker(w.Fallback)
	defer ticker.Stop()

	// The first probe covers a parent that died before prctl took effect.
	tracker := newProbeTracker(probe, w.logger)
	for {
		if tracker.dead(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notifications:
			w.logger.Debug("parent death notification received")
		case <-ticker.C:
		}
	}
}
