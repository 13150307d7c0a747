package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/kill-orphan/internal/liveness"
	"github.com/Paintersrp/kill-orphan/internal/logging"
)

// Environment variables read by FromEnv.
const (
	EnvConfig       = "KILL_ORPHAN_CONFIG"
	EnvStrategy     = "KILL_ORPHAN_STRATEGY"
	EnvPollInterval = "KILL_ORPHAN_POLL_INTERVAL"
	EnvGracePeriod  = "KILL_ORPHAN_GRACE_PERIOD"
	EnvLogLevel     = "KILL_ORPHAN_LOG_LEVEL"
	EnvLogFormat    = "KILL_ORPHAN_LOG_FORMAT"
	EnvLogOutput    = "KILL_ORPHAN_LOG_OUTPUT"
	EnvMetricsFile  = "KILL_ORPHAN_METRICS_FILE"
)

// Load reads a configuration file from the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if raw != nil {
		if err := validateAgainstSchema(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// FromEnv resolves the effective configuration: the file named by
// KILL_ORPHAN_CONFIG (or defaults), then the remaining KILL_ORPHAN_*
// overrides. Override values that do not parse are ignored.
func FromEnv() (*Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv(EnvConfig)); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays KILL_ORPHAN_* environment overrides onto c.
func (c *Config) ApplyEnv() {
	if value := strings.ToLower(strings.TrimSpace(os.Getenv(EnvStrategy))); value != "" {
		switch strategy := liveness.Strategy(value); strategy {
		case liveness.StrategyAuto, liveness.StrategyPoll, liveness.StrategyNotify:
			c.Strategy = strategy
		}
	}
	if value := os.Getenv(EnvPollInterval); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d >= minPollInterval && d <= maxPollInterval {
			c.PollInterval = Duration{Duration: d, explicit: true}
		}
	}
	if value := os.Getenv(EnvGracePeriod); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d >= 0 && d <= maxGracePeriod {
			c.GracePeriod = Duration{Duration: d, explicit: true}
		}
	}
	if value := strings.TrimSpace(os.Getenv(EnvLogLevel)); value != "" {
		if _, err := logging.ParseLevel(value); err == nil {
			c.Log.Level = value
		}
	}
	switch value := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogFormat))); value {
	case logging.FormatAuto, logging.FormatConsole, logging.FormatJSON:
		c.Log.Format = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvLogOutput)); value != "" {
		c.Log.Output = value
	}
	if value := strings.TrimSpace(os.Getenv(EnvMetricsFile)); value != "" {
		c.MetricsFile = value
	}
}
