package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. OFFLINEWATCH_PROBE_TIMEOUT_SECONDS.
const EnvPrefix = "OFFLINEWATCH"

var (
	// ErrInvalidProbeURL is returned when a probe URL is not absolute http(s).
	ErrInvalidProbeURL = errors.New("probe url must be an absolute http or https url")
	// ErrInvalidRetry is returned when the retry delays are inconsistent.
	ErrInvalidRetry = errors.New("retry max_delay_seconds must not be below initial_delay_seconds")
)

// Config represents configuration data for the offline watch daemon.
type Config struct {
	ListenAddress string   `yaml:"listen_address" envconfig:"listen_address"`
	DataDirectory string   `yaml:"data_directory" envconfig:"data_directory"`
	HistoryLimit  int      `yaml:"history_limit" envconfig:"history_limit"`
	Probe         Probe    `yaml:"probe" envconfig:"probe"`
	Retry         Retry    `yaml:"retry" envconfig:"retry"`
	Network       Network  `yaml:"network" envconfig:"network"`
	Features      Features `yaml:"features" envconfig:"features"`
	Logging       Logging  `yaml:"logging" envconfig:"logging"`
}

// Probe configures the HTTP connectivity probes.
type Probe struct {
	DefaultURL     string  `yaml:"default_url" envconfig:"default_url"`
	FallbackURL    string  `yaml:"fallback_url" envconfig:"fallback_url"`
	Method         string  `yaml:"method" envconfig:"method"`
	TimeoutSeconds int     `yaml:"timeout_seconds" envconfig:"timeout_seconds"`
	UserAgent      string  `yaml:"user_agent" envconfig:"user_agent"`
	RatePerSecond  float64 `yaml:"rate_per_second" envconfig:"rate_per_second"`
	Burst          int     `yaml:"burst" envconfig:"burst"`
}

// Retry configures the probe backoff.
type Retry struct {
	InitialDelaySeconds int `yaml:"initial_delay_seconds" envconfig:"initial_delay_seconds"`
	MaxDelaySeconds     int `yaml:"max_delay_seconds" envconfig:"max_delay_seconds"`
	// MaxRetries bounds consecutive retries; 0 retries forever.
	MaxRetries      int `yaml:"max_retries" envconfig:"max_retries"`
	FallbackDelayMs int `yaml:"fallback_delay_ms" envconfig:"fallback_delay_ms"`
}

// Network configures the OS-level reachability notifier.
type Network struct {
	Enabled         bool   `yaml:"enabled" envconfig:"enabled"`
	Target          string `yaml:"target" envconfig:"target"`
	IntervalSeconds int    `yaml:"interval_seconds" envconfig:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" envconfig:"timeout_seconds"`
}

// Features holds feature switches.
type Features struct {
	OfflineIndicator         bool `yaml:"offline_indicator" envconfig:"offline_indicator"`
	BottomOfflineIndicator   bool `yaml:"bottom_offline_indicator" envconfig:"bottom_offline_indicator"`
	StableOfflineWaitSeconds int  `yaml:"stable_offline_wait_s" envconfig:"stable_offline_wait_s"`
}

// Logging configures the zap logger.
type Logging struct {
	Level       string `yaml:"level" envconfig:"level"`
	Development bool   `yaml:"development" envconfig:"development"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8080",
		DataDirectory: filepath.Join(".dist", "data"),
		HistoryLimit:  4096,
		Probe: Probe{
			DefaultURL:     "https://www.google.com/generate_204",
			FallbackURL:    "http://connectivitycheck.gstatic.com/generate_204",
			Method:         "GET",
			TimeoutSeconds: 10,
			UserAgent:      "offlinewatch/1.0",
			RatePerSecond:  2,
			Burst:          2,
		},
		Retry: Retry{
			InitialDelaySeconds: 5,
			MaxDelaySeconds:     120,
		},
		Network: Network{
			Enabled:         true,
			Target:          "1.1.1.1:53",
			IntervalSeconds: 15,
			TimeoutSeconds:  3,
		},
		Features: Features{
			OfflineIndicator:         true,
			StableOfflineWaitSeconds: 20,
		},
		Logging: Logging{Level: "info"},
	}
}

// Load reads configuration from a yaml file, then applies environment
// overrides. Missing files fall back to defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	defaults := DefaultConfig()

	if c.DataDirectory == "" {
		c.DataDirectory = defaults.DataDirectory
	}
	if c.ListenAddress == "" {
		c.ListenAddress = defaults.ListenAddress
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaults.HistoryLimit
	}

	for _, raw := range []string{c.Probe.DefaultURL, c.Probe.FallbackURL} {
		if err := validateProbeURL(raw); err != nil {
			return err
		}
	}
	c.Probe.Method = strings.ToUpper(strings.TrimSpace(c.Probe.Method))
	switch c.Probe.Method {
	case "":
		c.Probe.Method = defaults.Probe.Method
	case "GET", "HEAD":
	default:
		return fmt.Errorf("probe method %q is not supported", c.Probe.Method)
	}
	if c.Probe.TimeoutSeconds <= 0 {
		c.Probe.TimeoutSeconds = defaults.Probe.TimeoutSeconds
	}
	if c.Probe.Burst <= 0 {
		c.Probe.Burst = 1
	}

	if c.Retry.InitialDelaySeconds <= 0 {
		c.Retry.InitialDelaySeconds = defaults.Retry.InitialDelaySeconds
	}
	if c.Retry.MaxDelaySeconds <= 0 {
		c.Retry.MaxDelaySeconds = defaults.Retry.MaxDelaySeconds
	}
	if c.Retry.MaxDelaySeconds < c.Retry.InitialDelaySeconds {
		return ErrInvalidRetry
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.FallbackDelayMs < 0 {
		c.Retry.FallbackDelayMs = 0
	}

	if c.Network.Enabled && c.Network.Target == "" {
		return errors.New("network target is required when the notifier is enabled")
	}
	if c.Network.IntervalSeconds <= 0 {
		c.Network.IntervalSeconds = defaults.Network.IntervalSeconds
	}
	if c.Network.TimeoutSeconds <= 0 {
		c.Network.TimeoutSeconds = defaults.Network.TimeoutSeconds
	}

	if c.Features.StableOfflineWaitSeconds < 0 {
		return fmt.Errorf("features stable_offline_wait_s must not be negative, got %d", c.Features.StableOfflineWaitSeconds)
	}
	return nil
}

func validateProbeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidProbeURL, raw)
	}
	return nil
}

// ProbeTimeout returns the per-probe timeout.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// InitialRetryDelay returns the first backoff delay.
func (c Config) InitialRetryDelay() time.Duration {
	return time.Duration(c.Retry.InitialDelaySeconds) * time.Second
}

// MaxRetryDelay returns the backoff cap.
func (c Config) MaxRetryDelay() time.Duration {
	return time.Duration(c.Retry.MaxDelaySeconds) * time.Second
}

// FallbackDelay returns the delay before a fallback probe after a captive
// portal answer on the default URL.
func (c Config) FallbackDelay() time.Duration {
	return time.Duration(c.Retry.FallbackDelayMs) * time.Millisecond
}

// NetworkInterval returns the reachability polling interval.
func (c Config) NetworkInterval() time.Duration {
	return time.Duration(c.Network.IntervalSeconds) * time.Second
}

// NetworkTimeout returns the reachability dial timeout.
func (c Config) NetworkTimeout() time.Duration {
	return time.Duration(c.Network.TimeoutSeconds) * time.Second
}

// StableOfflineWait returns how long the connection must stay online before
// the indicator may reappear.
func (c Config) StableOfflineWait() time.Duration {
	return time.Duration(c.Features.StableOfflineWaitSeconds) * time.Second
}

// DataFile resolves name inside the data directory.
func (c Config) DataFile(name string) string {
	return filepath.Join(c.DataDirectory, name)
}
