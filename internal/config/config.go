// ABOUTME: Configuration loading and defaults for hikmaai-iocfeed
// ABOUTME: Handles YAML or TOML config files, environment fallbacks, and validation

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hikmaai-io/hikmaai-iocfeed/internal/types"
)

// AuthKeyEnv names the environment variable holding the abuse.ch API key.
const AuthKeyEnv = "THREATFOX_AUTH_KEY"

const appName = "hikmaai-iocfeed"

// Config holds the complete configuration for hikmaai-iocfeed.
type Config struct {
	// Feed source configuration.
	Feed FeedConfig `yaml:"feed" toml:"feed"`

	// Output artifact configuration.
	Output OutputConfig `yaml:"output" toml:"output"`

	// Run history configuration.
	History HistoryConfig `yaml:"history" toml:"history"`

	// NATS notification configuration.
	NATS NATSConfig `yaml:"nats" toml:"nats"`

	// Redis publisher configuration.
	Redis RedisConfig `yaml:"redis" toml:"redis"`

	// GCS upload configuration.
	GCS GCSConfig `yaml:"gcs" toml:"gcs"`

	// Logging configuration.
	Log LogConfig `yaml:"log" toml:"log"`

	// Tracing configuration.
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`

	// Metrics export configuration.
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// FeedConfig holds feed fetch settings.
type FeedConfig struct {
	// URL of the CSV export.
	URL string `yaml:"url" toml:"url"`

	// AuthKey is sent as the Auth-Key header. Falls back to THREATFOX_AUTH_KEY.
	AuthKey string `yaml:"auth_key" toml:"auth_key"`

	// Timeout bounds the single fetch attempt.
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// MaxSize caps the download in bytes (0 = unlimited).
	MaxSize int64 `yaml:"max_size" toml:"max_size"`

	// UserAgent for the HTTP request.
	UserAgent string `yaml:"user_agent" toml:"user_agent"`

	// Source is the literal source tag written on ip/port records.
	Source string `yaml:"source" toml:"source"`
}

// OutputConfig holds artifact settings.
type OutputConfig struct {
	// Path of the CSV artifact.
	Path string `yaml:"path" toml:"path"`

	// Shape is "raw" or "ip-port".
	Shape string `yaml:"shape" toml:"shape"`
}

// HistoryConfig holds run history settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`

	// Keep is how many runs survive pruning after each run (0 = keep all).
	Keep int `yaml:"keep" toml:"keep"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	// Disabled when empty.
	URL     string        `yaml:"url" toml:"url"`
	Subject string        `yaml:"subject" toml:"subject"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// RedisConfig holds Redis publisher settings.
type RedisConfig struct {
	// Disabled when empty.
	Addr      string        `yaml:"addr" toml:"addr"`
	Password  string        `yaml:"password" toml:"password"`
	DB        int           `yaml:"db" toml:"db"`
	Prefix    string        `yaml:"prefix" toml:"prefix"`
	Stream    string        `yaml:"stream" toml:"stream"`
	MaxLen    int64         `yaml:"max_len" toml:"max_len"`
	LatestTTL time.Duration `yaml:"latest_ttl" toml:"latest_ttl"`
}

// GCSConfig holds artifact upload settings.
type GCSConfig struct {
	// Bucket disables uploads when empty. gs://bucket/prefix is accepted.
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	ProjectID       string `yaml:"project_id" toml:"project_id"`
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	EmulatorHost    string `yaml:"emulator_host" toml:"emulator_host"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled       bool    `yaml:"enabled" toml:"enabled"`
	Endpoint      string  `yaml:"endpoint" toml:"endpoint"`
	Insecure      bool    `yaml:"insecure" toml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio" toml:"sampling_ratio"`
}

// MetricsConfig holds metrics export settings.
type MetricsConfig struct {
	// Textfile is written in Prometheus text format after each run.
	// Disabled when empty.
	Textfile string `yaml:"textfile" toml:"textfile"`
}

// DefaultConfig returns a Config with default values.
// All external sinks (NATS, Redis, GCS, tracing) are disabled by default
// so a single run needs nothing but network access to the feed.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Feed: FeedConfig{
			URL:       "https://threatfox.abuse.ch/export/csv/ip-port/recent/",
			Timeout:   60 * time.Second,
			MaxSize:   256 * 1024 * 1024,
			UserAgent: appName + "/1.0",
			Source:    "ThreatFox",
		},
		Output: OutputConfig{
			Path:  filepath.Join(dataDir, "threatfox.csv"),
			Shape: "raw",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history"),
			Keep:    500,
		},
		NATS: NATSConfig{
			Subject: "iocfeed.feed.updated",
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Prefix: "iocfeed:",
			Stream: "feed-updates",
			MaxLen: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// Load reads the config file at path over the defaults. A ".toml" file is
// decoded as TOML, anything else as YAML. An empty path loads the default
// config file when it exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults apply.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnv fills secrets that are unset in the file from the environment.
func (c *Config) ApplyEnv() {
	if c.Feed.AuthKey == "" {
		c.Feed.AuthKey = os.Getenv(AuthKeyEnv)
	}
}

// Validate checks the configuration for values no run could use.
func (c *Config) Validate() error {
	var errs []error

	if c.Feed.URL == "" {
		errs = append(errs, errors.New("feed.url is required"))
	}
	if c.Feed.Timeout <= 0 {
		errs = append(errs, errors.New("feed.timeout must be positive"))
	}
	if c.Feed.MaxSize < 0 {
		errs = append(errs, errors.New("feed.max_size must not be negative"))
	}
	if c.Output.Path == "" {
		errs = append(errs, errors.New("output.path is required"))
	}
	if _, err := types.ParseShape(c.Output.Shape); err != nil {
		errs = append(errs, fmt.Errorf("output.shape: %w", err))
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}
	if c.History.Keep < 0 {
		errs = append(errs, errors.New("history.keep must not be negative"))
	}
	if c.Metrics.Textfile != "" && !strings.HasSuffix(c.Metrics.Textfile, ".prom") {
		errs = append(errs, errors.New("metrics.textfile must end in .prom"))
	}
	if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
		errs = append(errs, errors.New("tracing.sampling_ratio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/" + appName
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName, "config.yaml")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/" + appName + "/config.yaml"
	}

	return filepath.Join(home, ".config", appName, "config.yaml")
}
