package config

import (
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/Paintersrp/kill-orphan/internal/liveness"
	"github.com/Paintersrp/kill-orphan/internal/logging"
	"github.com/Paintersrp/kill-orphan/internal/runtime/process"
)

// DefaultGracePeriod is how long the child's group gets between SIGTERM and
// SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the supervisor's optional YAML configuration file.
type Config struct {
	Strategy     liveness.Strategy `yaml:"strategy"`
	PollInterval Duration          `yaml:"poll_interval"`
	GracePeriod  Duration          `yaml:"grace_period"`
	// NotifySignal is the parent-death signal armed by the notify strategy.
	NotifySignal string `yaml:"notify_signal"`
	// KillStragglers sweeps the group with SIGKILL once the leader exits
	// after SIGTERM. Nil means the default (true).
	KillStragglers *bool          `yaml:"kill_stragglers"`
	Log            logging.Config `yaml:"log"`
	MetricsFile    string         `yaml:"metrics_file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	c.Strategy = liveness.Strategy(strings.ToLower(strings.TrimSpace(string(c.Strategy))))
	if c.Strategy == "" {
		c.Strategy = liveness.StrategyAuto
	}
	if !c.PollInterval.IsSet() {
		c.PollInterval.Duration = liveness.DefaultPollInterval
	}
	if !c.GracePeriod.IsSet() {
		c.GracePeriod.Duration = DefaultGracePeriod
	}
	if c.KillStragglers == nil {
		stragglers := true
		c.KillStragglers = &stragglers
	}
	defaults := logging.DefaultConfig()
	if c.Log.Level == "" {
		c.Log.Level = defaults.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = defaults.Output
	}
}

// Signal resolves NotifySignal, falling back to the platform default.
func (c *Config) Signal() (syscall.Signal, error) {
	if strings.TrimSpace(c.NotifySignal) == "" {
		return liveness.DefaultNotifySignal, nil
	}
	return process.ParseSignal(c.NotifySignal)
}

// StragglersEnabled reports the effective kill_stragglers setting.
func (c *Config) StragglersEnabled() bool {
	return c.KillStragglers == nil || *c.KillStragglers
}

// WatcherOptions converts the configuration into liveness watcher options.
func (c *Config) WatcherOptions() (liveness.Options, error) {
	sig, err := c.Signal()
	if err != nil {
		return liveness.Options{}, fmt.Errorf("%w: %s: %v", ErrInvalid, fieldPath("notify_signal"), err)
	}
	return liveness.Options{
		PollInterval:   c.PollInterval.Duration,
		NotifySignal:   sig,
		NotifyFallback: liveness.DefaultNotifyFallback,
	}, nil
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
