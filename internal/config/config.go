// ABOUTME: Configuration loading and parsing for supportd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the config file leaves a field unset.
const (
	DefaultMaxConversationsPerAgent = 5
	DefaultHighPriorityLimit        = 3
	DefaultWaitingPickupBatch       = 3
)

// Config represents the complete supportd configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Broker     BrokerConfig     `yaml:"broker"`
	Assignment AssignmentConfig `yaml:"assignment"`
	Presence   PresenceConfig   `yaml:"presence"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BrokerConfig holds the outbound notification broker configuration.
// When disabled, notifications are only fanned out in-process.
type BrokerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// AssignmentConfig holds the capacity limits enforced by the assignment engine
type AssignmentConfig struct {
	MaxConversationsPerAgent int `yaml:"max_conversations_per_agent"`
	HighPriorityLimit        int `yaml:"high_priority_limit"`
	WaitingPickupBatch       int `yaml:"waiting_pickup_batch"`
}

// PresenceConfig holds heartbeat timeout detection configuration
type PresenceConfig struct {
	HeartbeatTimeout time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatTimeoutRaw string `yaml:"heartbeat_timeout"`
	SweepIntervalRaw    string `yaml:"sweep_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with their defaults
func applyDefaults(cfg *Config) {
	if cfg.Assignment.MaxConversationsPerAgent == 0 {
		cfg.Assignment.MaxConversationsPerAgent = DefaultMaxConversationsPerAgent
	}
	if cfg.Assignment.HighPriorityLimit == 0 {
		cfg.Assignment.HighPriorityLimit = DefaultHighPriorityLimit
	}
	if cfg.Assignment.WaitingPickupBatch == 0 {
		cfg.Assignment.WaitingPickupBatch = DefaultWaitingPickupBatch
	}
	if cfg.Presence.HeartbeatTimeout == 0 {
		cfg.Presence.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.Presence.SweepInterval == 0 {
		cfg.Presence.SweepInterval = 30 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Broker.Enabled {
		if c.Broker.URL == "" {
			return fmt.Errorf("broker.url is required when broker is enabled")
		}
		if c.Broker.Exchange == "" {
			return fmt.Errorf("broker.exchange is required when broker is enabled")
		}
	}

	if c.Assignment.MaxConversationsPerAgent < 1 {
		return fmt.Errorf("assignment.max_conversations_per_agent must be at least 1")
	}
	if c.Assignment.HighPriorityLimit < 1 {
		return fmt.Errorf("assignment.high_priority_limit must be at least 1")
	}
	if c.Assignment.HighPriorityLimit > c.Assignment.MaxConversationsPerAgent {
		return fmt.Errorf("assignment.high_priority_limit cannot exceed max_conversations_per_agent")
	}
	if c.Assignment.WaitingPickupBatch < 1 {
		return fmt.Errorf("assignment.waiting_pickup_batch must be at least 1")
	}

	if c.Presence.SweepInterval >= c.Presence.HeartbeatTimeout {
		return fmt.Errorf("presence.sweep_interval must be shorter than heartbeat_timeout")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Presence.HeartbeatTimeoutRaw != "" {
		cfg.Presence.HeartbeatTimeout, err = time.ParseDuration(cfg.Presence.HeartbeatTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_timeout %q: %w", cfg.Presence.HeartbeatTimeoutRaw, err)
		}
	}

	if cfg.Presence.SweepIntervalRaw != "" {
		cfg.Presence.SweepInterval, err = time.ParseDuration(cfg.Presence.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Presence.SweepIntervalRaw, err)
		}
	}

	return nil
}
