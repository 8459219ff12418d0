package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/neteye/internal/errors"
)

const (
	configDirPerm  = 0755
	configFilePerm = 0644
	maxPort        = 65535
)

// Config represents the complete scanner configuration
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Metrics exposition
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanningConfig holds the defaults for a scan job
type ScanningConfig struct {
	// Target host name or IP address
	Target string `yaml:"target" json:"target"`

	// Inclusive port bounds
	StartPort int `yaml:"start_port" json:"start_port"`
	EndPort   int `yaml:"end_port" json:"end_port"`

	// Protocol selection. Neither set means TCP.
	TCP bool `yaml:"tcp" json:"tcp"`
	UDP bool `yaml:"udp" json:"udp"`

	// Maximum number of probes in flight
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Per-probe timeout in milliseconds
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms"`

	// Probe dispatches per second, 0 for unlimited
	RateLimit int `yaml:"rate_limit" json:"rate_limit"`

	// Post-discovery hooks
	Inspect bool `yaml:"inspect" json:"inspect"`
	Deep    bool `yaml:"deep" json:"deep"`

	// Output file path, empty for console only
	Output string `yaml:"output" json:"output"`

	// Check host reachability before scanning
	PingCheck bool `yaml:"ping_check" json:"ping_check"`

	// Cron expression for recurring scans
	Schedule string `yaml:"schedule" json:"schedule"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, discard, file path)
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig holds Prometheus exposition settings
type MetricsConfig struct {
	// Listen address for /metrics, empty disables the endpoint
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			Target:      "127.0.0.1",
			StartPort:   1,
			EndPort:     maxPort,
			TCP:         false,
			UDP:         false,
			Concurrency: runtime.NumCPU(),
			TimeoutMS:   3000,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so both parse the same way.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return errors.WrapSinkError(errors.CodeDirectoryCreate, "failed to create config directory", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.WrapSinkError(errors.CodeFilePermission, "failed to write config file", path, err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	s := c.Scanning

	if s.Target == "" {
		return errors.ErrConfigMissing("scanning.target")
	}
	if s.StartPort < 0 || s.StartPort > maxPort {
		return errors.ErrConfigInvalid("scanning.start_port", s.StartPort)
	}
	if s.EndPort < 0 || s.EndPort > maxPort {
		return errors.ErrConfigInvalid("scanning.end_port", s.EndPort)
	}
	if s.StartPort > s.EndPort {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"start port must not exceed end port", "scanning.start_port", s.StartPort)
	}
	if s.Concurrency <= 0 {
		return errors.ErrConfigInvalid("scanning.concurrency", s.Concurrency)
	}
	if s.TimeoutMS <= 0 {
		return errors.ErrConfigInvalid("scanning.timeout_ms", s.TimeoutMS)
	}
	if s.RateLimit < 0 {
		return errors.ErrConfigInvalid("scanning.rate_limit", s.RateLimit)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// Timeout returns the per-probe timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Scanning.TimeoutMS) * time.Millisecond
}

// MetricsEnabled returns true if the metrics endpoint should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.ListenAddr != ""
}
