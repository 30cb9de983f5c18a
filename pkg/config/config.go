package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittomover configuration.
//
// This structure captures all configurable aspects of the mover including:
//   - Logging configuration
//   - Server-wide settings (shutdown, state directory, metrics)
//   - The incoming, buffer and outgoing stages
//   - Copier, target and queue backend selection (type-specific)
//   - Garbage collection of stale partial copies
//   - Maintenance tasks
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOMOVER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Backend Configuration Pattern:
// Each target and queue backend defines its own options. The Config struct
// contains type-specific sections (e.g., target.filesystem, target.s3) and only
// the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Mover configures the stages an item passes through
	Mover MoverConfig `mapstructure:"mover" yaml:"mover"`

	// Copier selects how items are copied between local directories
	Copier CopierConfig `mapstructure:"copier" yaml:"copier"`

	// Target specifies where finished items are delivered
	Target TargetConfig `mapstructure:"target" yaml:"target"`

	// Queue specifies how the outgoing queue is persisted
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// GC configures removal of stale partial copies
	GC GCConfig `mapstructure:"gc" yaml:"gc"`

	// Tasks lists maintenance tasks as property maps
	Tasks []TaskConfig `mapstructure:"tasks" yaml:"tasks" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// StateDir holds run-schedule files and the default queue location
	StateDir string `mapstructure:"state_dir" yaml:"state_dir" validate:"required"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port the metrics server listens on
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,gt=0,lte=65535"`
}

// DirConfig is a directory with an optional free-space high water mark.
type DirConfig struct {
	// Path of the directory
	Path string `mapstructure:"path" yaml:"path"`

	// HighwaterMarkKb is the free space (kB) below which the feeding stage
	// pauses (0 disables the check)
	HighwaterMarkKb int64 `mapstructure:"highwater_mark_kb" yaml:"highwater_mark_kb" validate:"gte=0"`
}

// MoverConfig configures the stages an item passes through.
type MoverConfig struct {
	// Incoming is scanned for new items
	Incoming DirConfig `mapstructure:"incoming" yaml:"incoming"`

	// Buffer holds items between incoming and outgoing
	Buffer DirConfig `mapstructure:"buffer" yaml:"buffer"`

	// Outgoing is watched for free space (path may be empty for remote targets)
	Outgoing DirConfig `mapstructure:"outgoing" yaml:"outgoing"`

	// ManualInterventionDir receives items that need an operator
	ManualInterventionDir string `mapstructure:"manual_intervention_dir" yaml:"manual_intervention_dir"`

	// ExtraCopyDir receives an immutable copy of every item
	ExtraCopyDir string `mapstructure:"extra_copy_dir" yaml:"extra_copy_dir"`

	// CheckInterval between scans of the incoming directory
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval" validate:"gt=0"`

	// CheckIntervalInternal between scans of the buffer
	CheckIntervalInternal time.Duration `mapstructure:"check_interval_internal" yaml:"check_interval_internal" validate:"gt=0"`

	// QuietPeriod an incoming item must stay unchanged
	QuietPeriod time.Duration `mapstructure:"quiet_period" yaml:"quiet_period" validate:"gte=0"`

	// InactivityPeriod aborts a native copy that moves no data for this long
	InactivityPeriod time.Duration `mapstructure:"inactivity_period" yaml:"inactivity_period" validate:"gte=0"`

	// FailureInterval is the wait between two transfer attempts
	FailureInterval time.Duration `mapstructure:"failure_interval" yaml:"failure_interval" validate:"gt=0"`

	// MaxRetries bounds the retries of a retriable failure
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`

	// IgnoredErrorsBeforeNotification silences flaky directory listings
	IgnoredErrorsBeforeNotification int `mapstructure:"ignored_errors_before_notification" yaml:"ignored_errors_before_notification" validate:"gte=0"`

	// CleansingRegex selects files removed from buffered items
	CleansingRegex string `mapstructure:"cleansing_regex" yaml:"cleansing_regex"`

	// ManualInterventionRegex selects items sent to ManualInterventionDir
	ManualInterventionRegex string `mapstructure:"manual_intervention_regex" yaml:"manual_intervention_regex"`

	// PrefixForIncoming is prepended to item names (${timestamp}, ${host})
	PrefixForIncoming string `mapstructure:"prefix_for_incoming" yaml:"prefix_for_incoming"`

	// DataCompletedScript runs with the item path once it is buffered
	DataCompletedScript string `mapstructure:"data_completed_script" yaml:"data_completed_script"`

	// DataCompletedScriptTimeout bounds the script
	DataCompletedScriptTimeout time.Duration `mapstructure:"data_completed_script_timeout" yaml:"data_completed_script_timeout" validate:"gt=0"`

	// TransferRateBytes limits native copies and uploads (0 for no limit)
	TransferRateBytes uint `mapstructure:"transfer_rate_bytes" yaml:"transfer_rate_bytes"`

	// TransferBurstBytes is the burst allowed above the rate
	TransferBurstBytes uint `mapstructure:"transfer_burst_bytes" yaml:"transfer_burst_bytes"`

	// WatchEvents triggers scans on directory events
	WatchEvents bool `mapstructure:"watch_events" yaml:"watch_events"`
}

// CopierConfig selects how items are copied between local directories.
type CopierConfig struct {
	// Type specifies which copier to use
	// Valid values: native, hardlink, rsync
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=native hardlink rsync"`

	// RsyncExecutable is the rsync binary (rsync only)
	RsyncExecutable string `mapstructure:"rsync_executable" yaml:"rsync_executable"`

	// SSHExecutable is used for remote rsync destinations
	SSHExecutable string `mapstructure:"ssh_executable" yaml:"ssh_executable"`

	// HardLinkExecutable replaces in-process linking (hardlink only)
	HardLinkExecutable string `mapstructure:"hard_link_executable" yaml:"hard_link_executable"`

	// RsyncOverwrite transfers whole files instead of appending
	RsyncOverwrite bool `mapstructure:"rsync_overwrite" yaml:"rsync_overwrite"`

	// UseRsyncForExtraCopies makes extra copies with rsync when it is available
	UseRsyncForExtraCopies bool `mapstructure:"use_rsync_for_extra_copies" yaml:"use_rsync_for_extra_copies"`

	// Timeout bounds a single external copy run (0 for none)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gte=0"`
}

// TargetConfig specifies where finished items are delivered.
//
// The Type field determines which target implementation is used.
// Only the corresponding type-specific configuration section is used.
type TargetConfig struct {
	// Type specifies which target implementation to use
	// Valid values: filesystem, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=filesystem s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// QueueConfig specifies how the outgoing queue is persisted.
type QueueConfig struct {
	// Type specifies which persister to use
	// Valid values: memory, file, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory file badger"`

	// File contains file persister configuration
	// Only used when Type = "file"
	File map[string]any `mapstructure:"file" yaml:"file"`

	// Badger contains BadgerDB persister configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// GCConfig configures removal of stale partial copies.
type GCConfig struct {
	// Enabled starts the background collector
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Interval between collection runs
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// MaxAge a partial copy must reach before it is removed
	MaxAge time.Duration `mapstructure:"max_age" yaml:"max_age" validate:"gt=0"`

	// DryRun logs what would be removed without removing it
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// TaskConfig is a maintenance task.
type TaskConfig struct {
	// Name identifies the task in logs and run-schedule files
	Name string `mapstructure:"name" yaml:"name" validate:"required"`

	// Properties are the task parameters (class, interval, run-schedule, ...)
	Properties map[string]any `mapstructure:"properties" yaml:"properties"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMOVER_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOMOVER_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOMOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file means defaults only
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomover")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomover")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
