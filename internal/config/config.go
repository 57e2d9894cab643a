// Package config holds nbcheck settings. Values are layered: defaults, then
// the YAML config file, then NBCHECK_* environment variables, then command
// line flags (applied by the cli package).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nbcheck/internal/discovery"
)

// DefaultFile is the config file read from the working directory when no
// --config flag is given.
const DefaultFile = ".nbcheck.yaml"

// Environment variables that override file settings.
const (
	EnvServerURL = "NBCHECK_SERVER_URL"
	EnvToken     = "NBCHECK_TOKEN"
	EnvLogLevel  = "NBCHECK_LOG_LEVEL"
	EnvLogFormat = "NBCHECK_LOG_FORMAT"
	EnvHistoryDB = "NBCHECK_DB"
)

// Config is the complete nbcheck configuration.
type Config struct {
	// Match is the test notebook pattern (see discovery.DefaultPattern).
	Match string `yaml:"match"`

	// Paths are searched when the run command is given no arguments.
	Paths []string `yaml:"paths"`

	Server  ServerConfig  `yaml:"server"`
	Launch  LaunchConfig  `yaml:"launch"`
	Logging LoggingConfig `yaml:"logging"`
	History HistoryConfig `yaml:"history"`
}

// ServerConfig selects the Jupyter Server that runs kernels. With no URL a
// local server is launched.
type ServerConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// LaunchConfig configures the local server started when no URL is set.
type LaunchConfig struct {
	Command      string   `yaml:"command"`
	Args         []string `yaml:"args"`
	StartTimeout string   `yaml:"start_timeout"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HistoryConfig configures the run history database. With no DB, runs are
// not recorded.
type HistoryConfig struct {
	DB string `yaml:"db"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Match: discovery.DefaultPattern,
		Paths: []string{"."},
		Launch: LaunchConfig{
			Command:      "jupyter",
			StartTimeout: "60s",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file yields the defaults unless
// mustExist is set. Unknown keys are rejected.
func Load(path string, mustExist bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !mustExist:
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(discovery.EnvPattern); v != "" {
		c.Match = v
	}
	if v := os.Getenv(EnvServerURL); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv(EnvHistoryDB); v != "" {
		c.History.DB = v
	}
}

// Validate checks every setting and returns the first problem found.
func (c *Config) Validate() error {
	if c.Match == "" {
		return errors.New("match: pattern must not be empty")
	}
	if _, err := regexp.Compile(c.Match); err != nil {
		return fmt.Errorf("match: %w", err)
	}

	if c.Server.URL != "" {
		u, err := url.Parse(c.Server.URL)
		if err != nil {
			return fmt.Errorf("server.url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.url: %q is not an http(s) URL", c.Server.URL)
		}
	} else if c.Launch.Command == "" {
		return errors.New("launch.command: required when server.url is not set")
	}

	if _, err := c.StartTimeout(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: %q must be text or json", c.Logging.Format)
	}
	return nil
}

// StartTimeout parses launch.start_timeout. Empty means zero (the
// launcher's default).
func (c *Config) StartTimeout() (time.Duration, error) {
	if c.Launch.StartTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Launch.StartTimeout)
	if err != nil {
		return 0, fmt.Errorf("launch.start_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("launch.start_timeout: %s is negative", c.Launch.StartTimeout)
	}
	return d, nil
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning", "":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
}
