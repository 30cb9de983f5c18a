package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/internal/ratelimiter"
	"github.com/marmos91/dittomover/pkg/copier"
	"github.com/marmos91/dittomover/pkg/gc"
	"github.com/marmos91/dittomover/pkg/metrics"
	"github.com/marmos91/dittomover/pkg/mover"
	"github.com/marmos91/dittomover/pkg/process"
	"github.com/marmos91/dittomover/pkg/queue"
	"github.com/marmos91/dittomover/pkg/target"
	targetFs "github.com/marmos91/dittomover/pkg/target/fs"
	targetS3 "github.com/marmos91/dittomover/pkg/target/s3"
)

// decode decodes a type-specific options map into out, accepting duration
// strings such as "30s".
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateLimiter returns the transfer rate limiter shared by native copies and
// uploads, or nil when no rate is configured.
func CreateLimiter(cfg *MoverConfig) *ratelimiter.RateLimiter {
	if cfg.TransferRateBytes == 0 {
		return nil
	}
	return ratelimiter.New(cfg.TransferRateBytes, cfg.TransferBurstBytes)
}

// CreateCopier creates the copier used for local copies based on configuration.
//
// Supported types:
//   - "native": in-process copies through afero, throttled by limiter
//   - "hardlink": hard links (same device only), optionally via an executable
//   - "rsync": the rsync binary
//
// Parameters:
//   - cfg: Copier configuration
//   - moverCfg: Mover configuration (inactivity period)
//   - limiter: Transfer rate limiter, may be nil
//   - runner: Process runner for external copiers, nil for the default
//
// Returns:
//   - copier.Copier: The configured copier
//   - error: Unknown copier type
func CreateCopier(cfg *CopierConfig, moverCfg *MoverConfig, limiter *ratelimiter.RateLimiter, runner process.Runner) (copier.Copier, error) {
	switch cfg.Type {
	case "native":
		return copier.NewNativeCopier(afero.NewOsFs(), copier.NativeConfig{
			Limiter:          limiter,
			InactivityPeriod: moverCfg.InactivityPeriod,
		}), nil
	case "hardlink":
		return copier.NewHardLinkCopier(copier.HardLinkConfig{
			Executable: cfg.HardLinkExecutable,
			Timeout:    cfg.Timeout,
		}, runner), nil
	case "rsync":
		return newRsyncCopier(cfg, runner), nil
	default:
		return nil, fmt.Errorf("unknown copier type: %q (supported: native, hardlink, rsync)", cfg.Type)
	}
}

func newRsyncCopier(cfg *CopierConfig, runner process.Runner) *copier.RsyncCopier {
	return copier.NewRsyncCopier(copier.RsyncConfig{
		Executable:    cfg.RsyncExecutable,
		SSHExecutable: cfg.SSHExecutable,
		Overwrite:     cfg.RsyncOverwrite,
		Timeout:       cfg.Timeout,
	}, runner)
}

// CreateExtraCopier returns the copier for extra copies. With
// use_rsync_for_extra_copies an rsync copier is used when rsync passes its
// check; otherwise (or without the option) main is returned.
func CreateExtraCopier(ctx context.Context, cfg *CopierConfig, main copier.Copier, runner process.Runner) copier.Copier {
	if !cfg.UseRsyncForExtraCopies || cfg.Type == "rsync" {
		return main
	}

	rsync := newRsyncCopier(cfg, runner)
	if err := rsync.Check(ctx); err != nil {
		logger.Warn("rsync is not usable for extra copies, falling back to %s copier: %v", cfg.Type, err)
		return main
	}
	return rsync
}

// CreateTarget creates a target based on configuration.
//
// This factory function uses the Type field to determine which target
// implementation to create, then decodes the type-specific configuration from
// the corresponding map and passes it to the target's constructor.
//
// Supported types:
//   - "filesystem": Uses pkg/target/fs (a local or mounted directory)
//   - "s3": Uses pkg/target/s3 (Amazon S3 or compatible storage)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Target configuration
//   - cp: Copier used by filesystem targets
//   - limiter: Upload rate limiter for S3, may be nil
//
// Returns:
//   - target.Target: Initialized target
//   - error: Configuration or initialization error
func CreateTarget(ctx context.Context, cfg *TargetConfig, cp copier.Copier, limiter *ratelimiter.RateLimiter) (target.Target, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemTarget(ctx, cfg.Filesystem, cp)
	case "s3":
		return createS3Target(ctx, cfg.S3, limiter)
	default:
		return nil, fmt.Errorf("unknown target type: %q (supported: filesystem, s3)", cfg.Type)
	}
}

// FilesystemTargetPath returns the configured directory of a filesystem
// target, or "" for other target types.
func FilesystemTargetPath(cfg *TargetConfig) string {
	if cfg.Type != "filesystem" {
		return ""
	}
	path, _ := cfg.Filesystem["path"].(string)
	return path
}

// createFilesystemTarget creates a directory target.
func createFilesystemTarget(ctx context.Context, options map[string]any, cp copier.Copier) (target.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type FilesystemTargetConfig struct {
		Path string `mapstructure:"path"`
	}

	var targetCfg FilesystemTargetConfig
	if err := decode(options, &targetCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem target config: %w", err)
	}

	if targetCfg.Path == "" {
		return nil, fmt.Errorf("filesystem target: path is required")
	}

	t, err := targetFs.NewTarget(afero.NewOsFs(), targetCfg.Path, cp)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem target: %w", err)
	}

	return t, nil
}

// createS3Target creates an S3-based target.
func createS3Target(ctx context.Context, options map[string]any, limiter *ratelimiter.RateLimiter) (target.Target, error) {
	type S3TargetConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		PartSize        int64  `mapstructure:"part_size"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var targetCfg S3TargetConfig
	if err := decode(options, &targetCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 target config: %w", err)
	}

	if targetCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 target: bucket is required")
	}

	if targetCfg.Region == "" {
		return nil, fmt.Errorf("S3 target: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(targetCfg.Region))

	// Custom endpoint for MinIO, Localstack, etc.
	if targetCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               targetCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if given, otherwise the default credential chain
	if targetCfg.AccessKeyID != "" && targetCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			targetCfg.AccessKeyID,
			targetCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := targetCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack
		if targetCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Target
	// ========================================================================

	t, err := targetS3.NewTarget(ctx, targetS3.Config{
		Client:    client,
		Bucket:    targetCfg.Bucket,
		KeyPrefix: targetCfg.KeyPrefix,
		PartSize:  targetCfg.PartSize,
		Limiter:   limiter,
		Metrics:   metrics.NewS3Metrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 target: %w", err)
	}

	logger.Info("S3 target initialized: bucket=%s, region=%s, prefix=%s",
		targetCfg.Bucket, targetCfg.Region, targetCfg.KeyPrefix)

	return t, nil
}

// CreateQueuePersister creates the persister of a queue based on configuration.
//
// Supported types:
//   - "memory": No durability, queued items are lost on restart
//   - "file": Uses queue.FilePersister (single append-only file)
//   - "badger": Uses queue.BadgerPersister (BadgerDB, one key per item)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Queue configuration
//   - name: Queue name, used as the badger key space
//
// Returns:
//   - queue.Persister[string]: Opened persister, closed by the queue's owner
//   - error: Configuration or open error
func CreateQueuePersister(ctx context.Context, cfg *QueueConfig, name string) (queue.Persister[string], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return queue.NewMemoryPersister[string](), nil
	case "file":
		return createFilePersister(cfg.File)
	case "badger":
		return createBadgerPersister(cfg.Badger, name)
	default:
		return nil, fmt.Errorf("unknown queue type: %q (supported: memory, file, badger)", cfg.Type)
	}
}

func createFilePersister(options map[string]any) (queue.Persister[string], error) {
	type FilePersisterOptions struct {
		Path       string        `mapstructure:"path"`
		AutoSync   bool          `mapstructure:"auto_sync"`
		Retries    int           `mapstructure:"retries"`
		RetryDelay time.Duration `mapstructure:"retry_delay"`
	}

	var opts FilePersisterOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode file queue options: %w", err)
	}

	if opts.Path == "" {
		return nil, fmt.Errorf("file queue: path is required")
	}

	p, err := queue.OpenFilePersister[string](afero.NewOsFs(), opts.Path, queue.FileOptions{
		AutoSync:   opts.AutoSync,
		Retries:    opts.Retries,
		RetryDelay: opts.RetryDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open file queue: %w", err)
	}
	return p, nil
}

func createBadgerPersister(options map[string]any, name string) (queue.Persister[string], error) {
	type BadgerPersisterOptions struct {
		DBPath string `mapstructure:"db_path"`
	}

	var opts BadgerPersisterOptions
	if err := decode(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger queue options: %w", err)
	}

	if opts.DBPath == "" {
		return nil, fmt.Errorf("badger queue: db_path is required")
	}

	p, err := queue.OpenBadgerPersister[string](opts.DBPath, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger queue: %w", err)
	}
	return p, nil
}

// NewMoverConfig converts the mover section into a mover.Config.
func NewMoverConfig(cfg *MoverConfig) mover.Config {
	return mover.Config{
		Incoming:                        mover.Dir{Path: cfg.Incoming.Path, HighwaterMarkKb: cfg.Incoming.HighwaterMarkKb},
		Buffer:                          mover.Dir{Path: cfg.Buffer.Path, HighwaterMarkKb: cfg.Buffer.HighwaterMarkKb},
		Outgoing:                        mover.Dir{Path: cfg.Outgoing.Path, HighwaterMarkKb: cfg.Outgoing.HighwaterMarkKb},
		ManualInterventionDir:           cfg.ManualInterventionDir,
		ExtraCopyDir:                    cfg.ExtraCopyDir,
		CheckInterval:                   cfg.CheckInterval,
		CheckIntervalInternal:           cfg.CheckIntervalInternal,
		QuietPeriod:                     cfg.QuietPeriod,
		FailureInterval:                 cfg.FailureInterval,
		MaxRetries:                      cfg.MaxRetries,
		IgnoredErrorsBeforeNotification: cfg.IgnoredErrorsBeforeNotification,
		CleansingRegex:                  cfg.CleansingRegex,
		ManualInterventionRegex:         cfg.ManualInterventionRegex,
		PrefixForIncoming:               cfg.PrefixForIncoming,
		DataCompletedScript:             cfg.DataCompletedScript,
		DataCompletedScriptTimeout:      cfg.DataCompletedScriptTimeout,
		WatchEvents:                     cfg.WatchEvents,
	}
}

// GCLocations lists the directories copiers leave temporary copies in: the
// copy-in-progress stage of the buffer, the extra copy directory and a
// filesystem target.
func GCLocations(cfg *Config, fsys afero.Fs) []gc.Location {
	locations := []gc.Location{
		{Fs: fsys, Dir: filepath.Join(cfg.Mover.Buffer.Path, mover.CopyInProgressDir)},
	}
	if cfg.Mover.ExtraCopyDir != "" {
		locations = append(locations, gc.Location{Fs: fsys, Dir: cfg.Mover.ExtraCopyDir})
	}
	if path := FilesystemTargetPath(&cfg.Target); path != "" {
		locations = append(locations, gc.Location{Fs: fsys, Dir: path})
	}
	return locations
}

// CreateCollector creates a stopped garbage collector over GCLocations.
func CreateCollector(cfg *Config, fsys afero.Fs, m metrics.MoverMetrics) (*gc.Collector, error) {
	return gc.NewCollector(GCLocations(cfg, fsys), gc.Config{
		Enabled:  cfg.GC.Enabled,
		Interval: cfg.GC.Interval,
		MaxAge:   cfg.GC.MaxAge,
		DryRun:   cfg.GC.DryRun,
	}, m)
}
