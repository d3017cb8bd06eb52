package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const DefaultFilter = "Status, Alarms, Audit, Cycle, Actions"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds service configuration. Values come from defaults, then the
// optional YAML file named by MOLDWATCH_CONFIG_FILE, then the environment.
type Config struct {
	ServerURL      string `yaml:"server_url"`
	HTTPAddr       string `yaml:"http_addr"`
	OrgID          string `yaml:"org_id"`
	Password       string `yaml:"password"`
	CredentialFile string `yaml:"credential_file"`
	Filter         string `yaml:"filter"`
	UsesActions    bool   `yaml:"uses_actions"`
	Language       string `yaml:"language"`
	Version        string `yaml:"version"`

	RefreshInterval      time.Duration `yaml:"refresh_interval"`
	AliveSendInterval    time.Duration `yaml:"alive_send_interval"`
	SyncInterval         time.Duration `yaml:"sync_interval"`
	ServerAliveTimeout   time.Duration `yaml:"server_alive_timeout"`
	ReconnectionInterval time.Duration `yaml:"reconnection_interval"`
	JoinRetryInterval    time.Duration `yaml:"join_retry_interval"`

	TestingMode bool   `yaml:"testing_mode"`
	LogLevel    string `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		ServerURL:            "ws://localhost:5757",
		HTTPAddr:             "0.0.0.0:8080",
		Filter:               DefaultFilter,
		UsesActions:          true,
		Language:             "EN",
		Version:              "1.0.0",
		RefreshInterval:      time.Second,
		AliveSendInterval:    5 * time.Second,
		SyncInterval:         time.Minute,
		ServerAliveTimeout:   30 * time.Second,
		ReconnectionInterval: 15 * time.Second,
		JoinRetryInterval:    time.Second,
		LogLevel:             "info",
	}
}

// Load reads configuration from the optional file and the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("MOLDWATCH_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerURL = getenv("MOLDWATCH_SERVER_URL", c.ServerURL)
	c.HTTPAddr = getenv("MOLDWATCH_HTTP_ADDR", c.HTTPAddr)
	c.OrgID = getenv("MOLDWATCH_ORG_ID", c.OrgID)
	c.Password = getenv("MOLDWATCH_PASSWORD", c.Password)
	c.CredentialFile = getenv("MOLDWATCH_CREDENTIAL_FILE", c.CredentialFile)
	c.Filter = getenv("MOLDWATCH_FILTER", c.Filter)
	c.UsesActions = parseBool(os.Getenv("MOLDWATCH_USES_ACTIONS"), c.UsesActions)
	c.Language = getenv("MOLDWATCH_LANGUAGE", c.Language)
	c.Version = getenv("MOLDWATCH_VERSION", c.Version)

	c.RefreshInterval = parseDuration(os.Getenv("MOLDWATCH_REFRESH_INTERVAL"), c.RefreshInterval)
	c.AliveSendInterval = parseDuration(os.Getenv("MOLDWATCH_ALIVE_SEND_INTERVAL"), c.AliveSendInterval)
	c.SyncInterval = parseDuration(os.Getenv("MOLDWATCH_SYNC_INTERVAL"), c.SyncInterval)
	c.ServerAliveTimeout = parseDuration(os.Getenv("MOLDWATCH_SERVER_ALIVE_TIMEOUT"), c.ServerAliveTimeout)
	c.ReconnectionInterval = parseDuration(os.Getenv("MOLDWATCH_RECONNECTION_INTERVAL"), c.ReconnectionInterval)
	c.JoinRetryInterval = parseDuration(os.Getenv("MOLDWATCH_JOIN_RETRY_INTERVAL"), c.JoinRetryInterval)

	c.TestingMode = parseBool(os.Getenv("MOLDWATCH_TESTING_MODE"), c.TestingMode)
	c.LogLevel = getenv("MOLDWATCH_LOG_LEVEL", c.LogLevel)
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: server url %q must be ws:// or wss://", ErrInvalidConfig, c.ServerURL)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", ErrInvalidConfig)
	}
	if c.ReconnectionInterval <= 0 {
		return fmt.Errorf("%w: reconnection interval must be positive", ErrInvalidConfig)
	}
	for name, d := range map[string]time.Duration{
		"alive send interval":  c.AliveSendInterval,
		"sync interval":        c.SyncInterval,
		"server alive timeout": c.ServerAliveTimeout,
		"join retry interval":  c.JoinRetryInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, name)
		}
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// EffectiveFilter is the Join filter, without Actions when the display never
// shows the current action.
func (c *Config) EffectiveFilter() string {
	if c.UsesActions {
		return c.Filter
	}
	parts := []string{}
	for _, p := range strings.Split(c.Filter, ",") {
		p = strings.TrimSpace(p)
		if p == "" || strings.EqualFold(p, "Actions") {
			continue
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

// Level returns the zerolog level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}
