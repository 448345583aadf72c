package process

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate and LoadConfig.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config configures a Manager.
type Config struct {
	// TimeSlice is the round-robin quantum.
	TimeSlice time.Duration `yaml:"time_slice"`
	// TickInterval is the timer period used by Run.
	TickInterval time.Duration `yaml:"tick_interval"`
	// MaxProcesses bounds the process table, idle included.
	MaxProcesses int `yaml:"max_processes"`
	// OrphanReapAge is how long an unwaited zombie survives CleanupOrphans.
	OrphanReapAge time.Duration `yaml:"orphan_reap_age"`
	// CleanupInterval is the CleanupOrphans period used by Run.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// DetectDeadlocks turns on lock-order and lock-timeout detection. It is
	// process-wide and fixed by the first Manager created.
	DetectDeadlocks bool `yaml:"detect_deadlocks"`
	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level"`
	// EventBuffer is the queue size of the asynchronous event sink.
	EventBuffer int `yaml:"event_buffer"`
	// Limits are the defaults for processes created without their own.
	Limits LimitsConfig `yaml:"limits"`
}

// LimitsConfig is the YAML form of ResourceLimits. MaxMemory is a
// human-readable size such as "512 MiB"; an empty string means unlimited.
type LimitsConfig struct {
	MaxMemory      string        `yaml:"max_memory"`
	MaxOpenHandles int           `yaml:"max_open_handles"`
	MaxCPUTime     time.Duration `yaml:"max_cpu_time"`
	MaxChildren    int           `yaml:"max_children"`
}

// ResourceLimits converts the YAML form.
func (c LimitsConfig) ResourceLimits() (ResourceLimits, error) {
	var maxMemory uint64
	if c.MaxMemory != "" {
		n, err := humanize.ParseBytes(c.MaxMemory)
		if err != nil {
			return ResourceLimits{}, fmt.Errorf("%w: max_memory %q: %v", ErrInvalidConfig, c.MaxMemory, err)
		}
		maxMemory = n
	}
	if c.MaxOpenHandles < 0 || c.MaxChildren < 0 || c.MaxCPUTime < 0 {
		return ResourceLimits{}, fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return ResourceLimits{
		MaxMemory:      maxMemory,
		MaxOpenHandles: c.MaxOpenHandles,
		MaxCPUTime:     c.MaxCPUTime,
		MaxChildren:    c.MaxChildren,
	}, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TimeSlice:       DefaultTimeSlice,
		TickInterval:    time.Millisecond,
		MaxProcesses:    4096,
		OrphanReapAge:   time.Second,
		CleanupInterval: time.Second,
		LogLevel:        "info",
		EventBuffer:     1024,
		Limits: LimitsConfig{
			MaxMemory:      "512 MiB",
			MaxOpenHandles: 1024,
			MaxCPUTime:     time.Hour,
			MaxChildren:    64,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.TimeSlice <= 0:
		return fmt.Errorf("%w: time_slice must be positive", ErrInvalidConfig)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	case c.MaxProcesses < 2:
		return fmt.Errorf("%w: max_processes must be at least 2", ErrInvalidConfig)
	case c.OrphanReapAge < 0:
		return fmt.Errorf("%w: orphan_reap_age is negative", ErrInvalidConfig)
	case c.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanup_interval must be positive", ErrInvalidConfig)
	case c.EventBuffer < 0:
		return fmt.Errorf("%w: event_buffer is negative", ErrInvalidConfig)
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
		}
	}
	_, err := c.Limits.ResourceLimits()
	return err
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
