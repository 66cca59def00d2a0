package utils

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/79B0Y/android-tv-box/internal/constants"
	"github.com/79B0Y/android-tv-box/pkg/file"
)

// Duration decodes yaml durations written either as Go duration strings
// ("30s", "500ms") or as bare integer seconds.
type Duration time.Duration

// UnmarshalYAML implements custom unmarshaling to support both forms.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the structure of the configuration file.
type Config struct {
	Device struct {
		Name    string `yaml:"name"`     // Display name for the device
		Host    string `yaml:"host"`     // Device IP address
		Port    int    `yaml:"port"`     // ADB TCP port
		ADBPath string `yaml:"adb_path"` // Path to the adb binary; empty uses PATH
	} `yaml:"device"`

	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate; empty for plain TCP
		TopicPrefix   string `yaml:"topic_prefix"`   // Prefix for state/heartbeat topics
		QOS           int    `yaml:"qos"`            // MQTT QoS level
	} `yaml:"mqtt"`

	Executor struct {
		MaxConcurrent  int      `yaml:"max_concurrent"`   // Commands in flight against the channel
		CommandTimeout Duration `yaml:"command_timeout"`  // Per-command deadline
		MaxRetries     int      `yaml:"max_retries"`      // Immediate retries on connection failure
		RetryBaseDelay Duration `yaml:"retry_base_delay"` // Initial backoff delay between retries
		CacheTTL       Duration `yaml:"cache_ttl"`        // Result cache time-to-live
		CacheSize      int      `yaml:"cache_size"`       // Result cache capacity
	} `yaml:"executor"`

	Polling struct {
		FastInterval         Duration `yaml:"fast_interval"`          // Power, volume, media
		MediumInterval       Duration `yaml:"medium_interval"`        // App, brightness, CPU, memory
		SlowInterval         Duration `yaml:"slow_interval"`          // Network, device info, app list
		LivenessInterval     Duration `yaml:"liveness_interval"`      // Probe cadence while offline
		OfflineSkipThreshold Duration `yaml:"offline_skip_threshold"` // Staleness marker threshold
	} `yaml:"polling"`

	Health struct {
		Enabled            bool     `yaml:"enabled"`              // Enable/disable health monitoring
		Package            string   `yaml:"package"`              // Monitored app package name
		MainActivity       string   `yaml:"main_activity"`        // Activity started on (re)start
		AutoRestart        bool     `yaml:"auto_restart"`         // Enable rate-limited auto restart
		MemoryThreshold    float64  `yaml:"memory_threshold"`     // Unhealthy above this memory %
		CPUThreshold       float64  `yaml:"cpu_threshold"`        // Unhealthy above this CPU %
		CheckInterval      Duration `yaml:"check_interval"`       // Health poll cadence
		MinRestartInterval Duration `yaml:"min_restart_interval"` // Auto-restart cooldown
	} `yaml:"health"`

	Heartbeat struct {
		Enabled  bool     `yaml:"enabled"`  // Enable/disable heartbeat publishing
		Interval Duration `yaml:"interval"` // Interval between heartbeats
	} `yaml:"heartbeat"`

	Apps map[string]string `yaml:"apps"` // Friendly name -> package
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates it. Invalid configuration fails at startup.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Port == 0 {
		c.Device.Port = 5555
	}
	if c.Executor.MaxConcurrent == 0 {
		c.Executor.MaxConcurrent = constants.DefaultMaxConcurrentCommands
	}
	if c.Executor.CommandTimeout == 0 {
		c.Executor.CommandTimeout = Duration(constants.DefaultCommandTimeout)
	}
	if c.Executor.MaxRetries == 0 {
		c.Executor.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Executor.RetryBaseDelay == 0 {
		c.Executor.RetryBaseDelay = Duration(constants.DefaultRetryBaseDelay)
	}
	if c.Executor.CacheTTL == 0 {
		c.Executor.CacheTTL = Duration(constants.DefaultCacheTTL)
	}
	if c.Executor.CacheSize == 0 {
		c.Executor.CacheSize = constants.DefaultCacheSize
	}
	if c.Polling.FastInterval == 0 {
		c.Polling.FastInterval = Duration(constants.DefaultFastInterval)
	}
	if c.Polling.MediumInterval == 0 {
		c.Polling.MediumInterval = Duration(constants.DefaultMediumInterval)
	}
	if c.Polling.SlowInterval == 0 {
		c.Polling.SlowInterval = Duration(constants.DefaultSlowInterval)
	}
	if c.Polling.LivenessInterval == 0 {
		c.Polling.LivenessInterval = Duration(constants.DefaultLivenessInterval)
	}
	if c.Polling.OfflineSkipThreshold == 0 {
		c.Polling.OfflineSkipThreshold = Duration(constants.DefaultOfflineSkipThreshold)
	}
	if c.Health.MemoryThreshold == 0 {
		c.Health.MemoryThreshold = constants.DefaultMemoryThreshold
	}
	if c.Health.CPUThreshold == 0 {
		c.Health.CPUThreshold = constants.DefaultCPUThreshold
	}
	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = Duration(constants.DefaultHealthCheckInterval)
	}
	if c.Health.MinRestartInterval == 0 {
		c.Health.MinRestartInterval = Duration(constants.DefaultMinRestartInterval)
	}
	if c.Health.MainActivity == "" && c.Health.Package != "" {
		c.Health.MainActivity = c.Health.Package + "/.MainActivity"
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = Duration(60 * time.Second)
	}
}

// Validate checks the configuration and returns an error on the first
// invalid value found.
func (c *Config) Validate() error {
	if c.Device.Host == "" {
		return errors.New("device.host is required")
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("device.port %d is out of range", c.Device.Port)
	}
	if c.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("executor.max_concurrent must be at least 1, got %d", c.Executor.MaxConcurrent)
	}
	if c.Executor.CommandTimeout <= 0 {
		return errors.New("executor.command_timeout must be positive")
	}
	if c.Executor.CacheTTL <= 0 {
		return errors.New("executor.cache_ttl must be positive")
	}
	if c.Executor.CacheSize < 1 {
		return fmt.Errorf("executor.cache_size must be at least 1, got %d", c.Executor.CacheSize)
	}
	for name, interval := range map[string]Duration{
		"polling.fast_interval":   c.Polling.FastInterval,
		"polling.medium_interval": c.Polling.MediumInterval,
		"polling.slow_interval":   c.Polling.SlowInterval,
	} {
		if interval <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Health.Enabled {
		if c.Health.Package == "" {
			return errors.New("health.package is required when health monitoring is enabled")
		}
		if c.Health.MemoryThreshold <= 0 || c.Health.MemoryThreshold > 100 {
			return fmt.Errorf("health.memory_threshold %.1f is out of range (0,100]", c.Health.MemoryThreshold)
		}
		if c.Health.CPUThreshold <= 0 || c.Health.CPUThreshold > 100 {
			return fmt.Errorf("health.cpu_threshold %.1f is out of range (0,100]", c.Health.CPUThreshold)
		}
		if c.Health.MinRestartInterval <= 0 {
			return errors.New("health.min_restart_interval must be positive")
		}
	}
	return nil
}
