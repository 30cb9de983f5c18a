package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittomover/pkg/gc"
	"github.com/marmos91/dittomover/pkg/mover"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans are left alone, except where GetDefaultConfig sets them
//   - Backend-specific options are decoded and checked by the factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyMoverDefaults(&cfg.Mover)
	applyCopierDefaults(&cfg.Copier)
	applyTargetDefaults(&cfg.Target)
	applyQueueDefaults(&cfg.Queue, cfg.Server.StateDir)
	applyGCDefaults(&cfg.GC)
	applyTaskDefaults(cfg.Tasks)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "/tmp/dittomover/state"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyMoverDefaults sets the stage timings. A zero quiet period or retry
// count is a valid explicit setting and therefore only defaulted by
// GetDefaultConfig.
func applyMoverDefaults(cfg *MoverConfig) {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = mover.DefaultCheckInterval
	}
	if cfg.CheckIntervalInternal == 0 {
		cfg.CheckIntervalInternal = mover.DefaultCheckIntervalInternal
	}
	if cfg.InactivityPeriod == 0 {
		cfg.InactivityPeriod = 600 * time.Second
	}
	if cfg.FailureInterval == 0 {
		cfg.FailureInterval = mover.DefaultFailureInterval
	}
	if cfg.DataCompletedScriptTimeout == 0 {
		cfg.DataCompletedScriptTimeout = mover.DefaultScriptTimeout
	}
}

// applyCopierDefaults sets copier defaults.
func applyCopierDefaults(cfg *CopierConfig) {
	if cfg.Type == "" {
		cfg.Type = "native"
	}
	if cfg.RsyncExecutable == "" {
		cfg.RsyncExecutable = "rsync"
	}
}

// applyTargetDefaults sets target defaults.
func applyTargetDefaults(cfg *TargetConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Defaults for all target types (for config file generation)
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/tmp/dittomover/outgoing"
	}
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
}

// applyQueueDefaults sets queue defaults. Persistent queues live in the state
// directory unless configured otherwise.
func applyQueueDefaults(cfg *QueueConfig, stateDir string) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = filepath.Join(stateDir, "outgoing.queue")
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(stateDir, "queue")
	}
}

// applyGCDefaults sets collector defaults.
func applyGCDefaults(cfg *GCConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = gc.DefaultInterval
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = gc.DefaultMaxAge
	}
}

// applyTaskDefaults makes sure every task has a property map.
func applyTaskDefaults(tasks []TaskConfig) {
	for i := range tasks {
		if tasks[i].Properties == nil {
			tasks[i].Properties = make(map[string]any)
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Mover: MoverConfig{
			Incoming:              DirConfig{Path: "/tmp/dittomover/incoming"},
			Buffer:                DirConfig{Path: "/tmp/dittomover/buffer"},
			ManualInterventionDir: "/tmp/dittomover/manual-intervention",
			QuietPeriod:           mover.DefaultQuietPeriod,
			MaxRetries:            mover.DefaultMaxRetries,
		},
		Copier: CopierConfig{
			UseRsyncForExtraCopies: true,
		},
		GC: GCConfig{
			Enabled: true,
		},
		Tasks: []TaskConfig{},
	}

	ApplyDefaults(cfg)
	return cfg
}
