package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Paintersrp/kill-orphan/internal/liveness"
	"github.com/Paintersrp/kill-orphan/internal/logging"
	"github.com/Paintersrp/kill-orphan/internal/runtime/process"
)

// ErrInvalid marks configuration that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

const (
	minPollInterval = time.Millisecond
	maxPollInterval = 10 * time.Second
	maxGracePeriod  = 5 * time.Minute
)

// Validate enforces ranges and enumerations. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	switch c.Strategy {
	case liveness.StrategyAuto, liveness.StrategyPoll, liveness.StrategyNotify:
	default:
		return invalid(fieldPath("strategy"), "must be one of auto, poll, notify (got %q)", c.Strategy)
	}
	if d := c.PollInterval.Duration; d < minPollInterval || d > maxPollInterval {
		return invalid(fieldPath("poll_interval"), "must be between %s and %s (got %s)", minPollInterval, maxPollInterval, d)
	}
	if d := c.GracePeriod.Duration; d < 0 || d > maxGracePeriod {
		return invalid(fieldPath("grace_period"), "must be between 0s and %s (got %s)", maxGracePeriod, d)
	}
	sig, err := c.Signal()
	if err != nil {
		return invalid(fieldPath("notify_signal"), "%v", err)
	}
	if process.Reserved(sig) {
		return invalid(fieldPath("notify_signal"), "%s is handled by the supervisor and cannot report parent death", process.SignalName(sig))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid(fieldPath("log", "level"), "%v", err)
	}
	switch c.Log.Format {
	case "", logging.FormatAuto, logging.FormatConsole, logging.FormatJSON:
	default:
		return invalid(fieldPath("log", "format"), "must be one of auto, console, json (got %q)", c.Log.Format)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}
