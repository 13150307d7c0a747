package liveness

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Paintersrp/kill-orphan/internal/metrics"
)

const (
	// DefaultPollInterval bounds detection latency for the poll strategy.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultNotifyFallback is how often the notify strategy re-probes in
	// case a notification is lost.
	DefaultNotifyFallback = time.Second
)

// Strategy names a death-detection mechanism.
type Strategy string

const (
	// StrategyAuto uses notifications where the platform has them and
	// polling elsewhere.
	StrategyAuto   Strategy = "auto"
	StrategyPoll   Strategy = "poll"
	StrategyNotify Strategy = "notify"
)

// ErrNotifyUnsupported is returned when the platform has no parent-death
// notification.
var ErrNotifyUnsupported = errors.New("parent death notification not supported on this platform")

// Watcher blocks until probe reports death, returning nil, or until ctx is
// done, returning ctx.Err().
type Watcher interface {
	Watch(ctx context.Context, probe Probe) error
}

// Options configures NewWatcher.
type Options struct {
	PollInterval   time.Duration
	NotifySignal   syscall.Signal
	NotifyFallback time.Duration
	Logger         *zap.Logger
}

// NewWatcher builds the watcher for strategy.
func NewWatcher(strategy Strategy, opts Options) (Watcher, error) {
	switch strategy {
	case StrategyPoll:
		return NewPollWatcher(opts.PollInterval, opts.Logger), nil
	case StrategyNotify:
		return NewNotifyWatcher(opts.NotifySignal, opts.NotifyFallback, opts.Logger)
	case StrategyAuto, "":
		w, err := NewNotifyWatcher(opts.NotifySignal, opts.NotifyFallback, opts.Logger)
		if errors.Is(err, ErrNotifyUnsupported) {
			return NewPollWatcher(opts.PollInterval, opts.Logger), nil
		}
		return w, err
	default:
		return nil, fmt.Errorf("unknown liveness strategy %q", strategy)
	}
}

// PollWatcher probes at a fixed interval. Detection latency is at most one
// interval plus the probe's own duration.
type PollWatcher struct {
	Interval time.Duration

	logger *zap.Logger
}

// NewPollWatcher returns a watcher probing every interval, or every
// DefaultPollInterval when interval is not positive.
func NewPollWatcher(interval time.Duration, logger *zap.Logger) *PollWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollWatcher{Interval: interval, logger: logger}
}

func (w *PollWatcher) Watch(ctx context.Context, probe Probe) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	tracker := newProbeTracker(probe, w.logger)
	for {
		if tracker.dead(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeTracker runs one probe at a time and records the results.
type probeTracker struct {
	probe     Probe
	logger    *zap.Logger
	lastAlive time.Time
}

func newProbeTracker(probe Probe, logger *zap.Logger) *probeTracker {
	return &probeTracker{probe: probe, logger: logger, lastAlive: time.Now()}
}

// dead reports true only on a conclusive "not alive" answer.
func (t *probeTracker) dead(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	alive, err := t.probe.Alive(ctx)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			metrics.ObserveLivenessProbe(metrics.ProbeInconclusive)
			t.logger.Debug("liveness probe inconclusive, retrying", zap.Error(err))
		}
		return false
	case alive:
		metrics.ObserveLivenessProbe(metrics.ProbeAlive)
		t.lastAlive = time.Now()
		return false
	default:
		metrics.ObserveLivenessProbe(metrics.ProbeDead)
		metrics.ObserveDetectionLatency(time.Since(t.lastAlive))
		return true
	}
}
