package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/config"
	"github.com/marmos91/dittomover/pkg/maintenance"
	"github.com/marmos91/dittomover/pkg/mover"
	"github.com/marmos91/dittomover/pkg/process"
	"github.com/marmos91/dittomover/pkg/server"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the data mover daemon",
		Long: `Run the mover, the garbage collector, the configured maintenance tasks and
(if enabled) the metrics endpoint until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = runDaemon(ctx, cfg, afero.NewOsFs(), process.DefaultRunner)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// runDaemon wires the configured components and serves them until ctx is
// cancelled.
func runDaemon(ctx context.Context, cfg *config.Config, fsys afero.Fs, runner process.Runner) error {
	// ========================================================================
	// Step 1: Logging and metrics
	// ========================================================================

	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("dittomover %s (%s) starting", Version, Commit)

	metricsResult := config.InitializeMetrics(cfg)

	// ========================================================================
	// Step 2: Transfer stack
	// ========================================================================

	limiter := config.CreateLimiter(&cfg.Mover)

	cp, err := config.CreateCopier(&cfg.Copier, &cfg.Mover, limiter, runner)
	if err != nil {
		return fmt.Errorf("failed to create copier: %w", err)
	}
	extra := config.CreateExtraCopier(ctx, &cfg.Copier, cp, runner)

	tgt, err := config.CreateTarget(ctx, &cfg.Target, cp, limiter)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}

	persister, err := config.CreateQueuePersister(ctx, &cfg.Queue, mover.OutgoingQueueName)
	if err != nil {
		_ = tgt.Close()
		return fmt.Errorf("failed to create queue persister: %w", err)
	}

	// ========================================================================
	// Step 3: Mover
	// ========================================================================

	m, err := mover.New(config.NewMoverConfig(&cfg.Mover), mover.Dependencies{
		Fs:          fsys,
		Copier:      cp,
		ExtraCopier: extra,
		Target:      tgt,
		Persister:   persister,
		Runner:      runner,
		Metrics:     metricsResult.Mover,
	})
	if err != nil {
		_ = persister.Close()
		_ = tgt.Close()
		return fmt.Errorf("failed to create mover: %w", err)
	}

	// abort releases the target and the queue held by the unstarted mover
	abort := func(err error) error {
		_ = m.Stop(context.Background())
		return err
	}

	// ========================================================================
	// Step 4: Garbage collection and maintenance tasks
	// ========================================================================

	collector, err := config.CreateCollector(cfg, fsys, metricsResult.Mover)
	if err != nil {
		return abort(fmt.Errorf("failed to create garbage collector: %w", err))
	}

	runners, err := config.CreateTaskRunners(cfg, maintenance.Factories(collector, runner), fsys, time.Now())
	if err != nil {
		return abort(fmt.Errorf("failed to create maintenance tasks: %w", err))
	}

	// ========================================================================
	// Step 5: Serve
	// ========================================================================

	srv := server.New(cfg.Server.ShutdownTimeout)

	services := []server.Service{
		server.Blocking("mover", func(ctx context.Context) error {
			return m.Serve(ctx, cfg.Server.ShutdownTimeout)
		}, m.Stop),
		server.Background("gc", func(context.Context) { collector.Start() }, collector.Stop),
	}
	for _, r := range runners {
		services = append(services, server.Background("task "+r.Parameters().PluginName, r.Start, r.Stop))
	}
	if metricsResult.Server != nil {
		services = append(services, server.Blocking("metrics", metricsResult.Server.Start, metricsResult.Server.Stop))
	}

	for _, svc := range services {
		if err := srv.AddService(svc); err != nil {
			return abort(err)
		}
	}

	return srv.Serve(ctx)
}
