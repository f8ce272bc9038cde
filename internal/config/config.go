// Package config loads and validates the Tether configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tetherlabs/tether/internal/logging"
	"github.com/tetherlabs/tether/internal/resilience"
)

// Config represents the main configuration
type Config struct {
	Version    string                  `yaml:"version"`
	Backend    *BackendConfig          `yaml:"backend"`
	Pairing    *PairingConfig          `yaml:"pairing"`
	Chat       *ChatConfig             `yaml:"chat"`
	Executor   *ExecutorConfig         `yaml:"executor"`
	Gateway    *GatewayConfig          `yaml:"gateway"`
	Report     *ReportConfig           `yaml:"report"`
	Store      *StoreConfig            `yaml:"store"`
	Retry      *resilience.RetryConfig `yaml:"retry"`
	Logging    *logging.Config         `yaml:"logging"`
	DeviceName string                  `yaml:"device_name"`
	DeviceType string                  `yaml:"device_type"`
}

// BackendConfig holds pairing/command channel settings
type BackendConfig struct {
	BaseURL           string        `yaml:"base_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	CommandInterval   time.Duration `yaml:"command_interval"`
	CommandLimit      int           `yaml:"command_limit"`
	ProbeInterval     time.Duration `yaml:"probe_interval"`
}

// PairingConfig holds QR pairing poll settings
type PairingConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// ChatConfig holds agent-to-agent messaging settings
type ChatConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MessageInterval   time.Duration `yaml:"message_interval"`
	MessageLimit      int           `yaml:"message_limit"`
}

// ExecutorConfig holds AI executor settings
type ExecutorConfig struct {
	Backend string        `yaml:"backend"`
	Binary  string        `yaml:"binary"`
	Timeout time.Duration `yaml:"timeout"`
}

// GatewayConfig holds local status server settings
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ReportConfig holds work-context report settings
type ReportConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Time     string        `yaml:"time"`
	Timezone string        `yaml:"timezone"`
}

// StoreConfig holds local state settings
type StoreConfig struct {
	Dir string `yaml:"dir"`
}

// MinMessageInterval is the floor for the chat message poll cadence.
const MinMessageInterval = 10 * time.Second

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "tether-agent"
	}
	return &Config{
		Version: "1.0",
		Backend: &BackendConfig{
			BaseURL:           "https://api.tether.dev/connector",
			HeartbeatInterval: 30 * time.Second,
			CommandInterval:   5 * time.Second,
			CommandLimit:      10,
			ProbeInterval:     resilience.DefaultProbeInterval,
		},
		Pairing: &PairingConfig{
			PollInterval: 5 * time.Second,
			MaxAttempts:  60,
			TokenTTL:     5 * time.Minute,
		},
		Chat: &ChatConfig{
			Endpoint:          "https://chat.tether.dev",
			HeartbeatInterval: 60 * time.Second,
			MessageInterval:   15 * time.Second,
			MessageLimit:      20,
		},
		Executor: &ExecutorConfig{
			Backend: "claude-code",
			Binary:  "claude",
			Timeout: 300 * time.Second,
		},
		Gateway: &GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9191,
		},
		Report: &ReportConfig{
			Enabled:  true,
			Interval: 24 * time.Hour,
			Time:     "09:00",
			Timezone: "Local",
		},
		Store: &StoreConfig{
			Dir: filepath.Join(homeDir, ".tether"),
		},
		Retry:      resilience.DefaultRetryConfig(),
		Logging:    logging.DefaultConfig(),
		DeviceName: hostname,
		DeviceType: "desktop",
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil // Return defaults if no config file
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Expand paths
	if config.Store != nil {
		config.Store.Dir = expandPath(config.Store.Dir)
	}
	if config.Logging != nil {
		config.Logging.Output = expandPath(config.Logging.Output)
	}

	// Enforce the backend's minimum message poll cadence.
	if config.Chat != nil && config.Chat.MessageInterval < MinMessageInterval {
		config.Chat.MessageInterval = MinMessageInterval
	}

	return config, nil
}

// Save saves configuration to a file
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default configuration path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tether", "config.yaml")
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend == nil {
		return fmt.Errorf("backend configuration is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend base_url is required")
	}
	if c.Pairing != nil && c.Pairing.MaxAttempts < 1 {
		return fmt.Errorf("pairing max_attempts must be at least 1")
	}
	if c.Gateway != nil && c.Gateway.Enabled {
		if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
			return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
		}
	}
	if c.Executor != nil && c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor timeout must be positive")
	}
	if c.Report != nil && c.Report.Time != "" {
		parts := strings.Split(c.Report.Time, ":")
		if len(parts) != 2 {
			return fmt.Errorf("invalid report time format: %s (expected HH:MM)", c.Report.Time)
		}
	}
	return nil
}
