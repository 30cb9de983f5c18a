// Package mover moves items from an incoming directory to a target.
//
// An item is a file or directory tree. It passes through three stages:
//
//  1. The incoming scanner waits until an item has been quiet for the quiet
//     period, copies it into buffer/copy-in-progress, removes the original
//     and moves the copy to buffer/copy-complete under its prefixed name.
//     The data-completed script then runs on it.
//  2. The buffer scanner cleanses the item, diverts it to the manual
//     intervention directory when its name asks for that, makes the extra
//     copy and moves it to buffer/ready-to-move, where it is queued.
//  3. The outgoing queue transfers it to the target, writes the finished
//     marker and deletes the buffered copy.
//
// Each stage only removes its input once its output is complete, so an
// interrupted mover resumes where it stopped (see Start).
package mover

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/copier"
	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/metrics"
	"github.com/marmos91/dittomover/pkg/process"
	"github.com/marmos91/dittomover/pkg/queue"
	"github.com/marmos91/dittomover/pkg/scanner"
	"github.com/marmos91/dittomover/pkg/target"
)

// OutgoingQueueName names the outgoing queue in logs and metrics.
const OutgoingQueueName = "outgoing"

// Dependencies are the components a Mover composes.
type Dependencies struct {
	// Fs holds the incoming, buffer and manual intervention directories
	Fs afero.Fs

	// Copier moves items from incoming into the buffer
	Copier copier.Copier

	// ExtraCopier makes the extra copy; defaults to Copier
	ExtraCopier copier.Copier

	// Target receives the items
	Target target.Target

	// Persister backs the outgoing queue; defaults to memory only
	Persister queue.Persister[string]

	// Runner runs the data-completed script; defaults to process.DefaultRunner
	Runner process.Runner

	// Metrics may be nil
	Metrics metrics.MoverMetrics
}

// Status is a snapshot of the mover.
type Status struct {
	Running        bool
	QueueDepth     int
	Queued         []string
	IncomingFaulty int
	BufferFaulty   int
	IncomingPaused bool
	BufferPaused   bool
}

// Mover runs the three stages.
//
// Thread safety: Start, Stop and Status are safe for concurrent use.
type Mover struct {
	config   Config
	compiled *compiled

	fs          afero.Fs
	copier      copier.Copier
	extraCopier copier.Copier
	target      target.Target
	runner      process.Runner
	metrics     metrics.MoverMetrics
	log         *zap.SugaredLogger
	now         func() time.Time

	incomingStore *scanner.DirectoryStore
	bufferStore   *scanner.DirectoryStore
	incoming      *scanner.Scanner
	buffer        *scanner.Scanner
	outgoing      *queue.PathHandler[string]

	bufferWatcher   *filesystem.HighwaterWatcher
	outgoingWatcher *filesystem.HighwaterWatcher

	// pending holds copy-complete names still owned by the incoming stage
	pending sync.Map

	mu      sync.Mutex
	started bool
	stopped bool
}

// New validates config, prepares the buffer directories and wires the
// stages. The returned Mover is stopped.
func New(config Config, deps Dependencies) (*Mover, error) {
	if deps.Fs == nil || deps.Copier == nil || deps.Target == nil {
		return nil, fmt.Errorf("filesystem, copier and target are required")
	}
	config.applyDefaults()
	c, err := config.compile()
	if err != nil {
		return nil, err
	}

	m := &Mover{
		config:          config,
		compiled:        c,
		fs:              deps.Fs,
		copier:          deps.Copier,
		extraCopier:     deps.ExtraCopier,
		target:          deps.Target,
		runner:          deps.Runner,
		metrics:         metrics.OrNoop(deps.Metrics),
		log:             logger.With("component", "mover"),
		now:             time.Now,
		bufferWatcher:   filesystem.NewHighwaterWatcher(config.Buffer.Path, config.Buffer.HighwaterMarkKb),
		outgoingWatcher: filesystem.NewHighwaterWatcher(config.Outgoing.Path, config.Outgoing.HighwaterMarkKb),
	}
	if m.extraCopier == nil {
		m.extraCopier = m.copier
	}
	if m.runner == nil {
		m.runner = process.DefaultRunner
	}

	// ========================================================================
	// Step 1: Directories
	// ========================================================================

	if err := filesystem.CheckDirectoryFullyAccessible(m.fs, config.Incoming.Path, "incoming"); err != nil {
		return nil, err
	}
	dirs := []string{config.inProgressDir(), config.completeDir(), config.readyDir()}
	if config.ManualInterventionDir != "" {
		dirs = append(dirs, config.ManualInterventionDir)
	}
	if config.ExtraCopyDir != "" {
		dirs = append(dirs, config.ExtraCopyDir)
	}
	for _, dir := range dirs {
		if err := m.fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		if err := filesystem.CheckDirectoryFullyAccessible(m.fs, dir, "buffer"); err != nil {
			return nil, err
		}
	}

	// ========================================================================
	// Step 2: Stages
	// ========================================================================

	persister := deps.Persister
	if persister == nil {
		persister = queue.NewMemoryPersister[string]()
	}
	m.outgoing = queue.NewPathHandler[string](OutgoingQueueName,
		queue.HandlerFunc[string](m.transfer), persister, m.metrics)

	m.incomingStore = scanner.NewDirectoryStore(m.fs, config.Incoming.Path, nil)
	incomingFaulty, err := scanner.NewFaultyPaths(m.fs, config.Incoming.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load faulty paths of incoming: %w", err)
	}
	m.incoming = scanner.New(scanner.Config{
		Name:                            "incoming",
		Interval:                        config.CheckInterval,
		IgnoredErrorsBeforeNotification: config.IgnoredErrorsBeforeNotification,
		Watch:                           config.WatchEvents,
		Paused:                          m.bufferWatcher.IsBelow,
	}, m.incomingStore, &incomingHandler{m: m}, incomingFaulty, m.metrics)

	m.bufferStore = scanner.NewDirectoryStore(m.fs, config.completeDir(), nil)
	bufferFaulty, err := scanner.NewFaultyPaths(m.fs, config.completeDir())
	if err != nil {
		return nil, fmt.Errorf("failed to load faulty paths of buffer: %w", err)
	}
	m.buffer = scanner.New(scanner.Config{
		Name:                            "buffer",
		Interval:                        config.CheckIntervalInternal,
		IgnoredErrorsBeforeNotification: config.IgnoredErrorsBeforeNotification,
		Watch:                           config.WatchEvents,
		Paused:                          m.outgoingWatcher.IsBelow,
	}, m.bufferStore, &bufferHandler{m: m}, bufferFaulty, m.metrics)

	return m, nil
}

// Start checks the copiers and the target, resumes interrupted work and
// launches the stages. Items found in copy-in-progress are either completed
// (the original is gone) or discarded (the original is still incoming).
// Items in ready-to-move that the queue does not know are queued again.
func (m *Mover) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if m.stopped {
		return fmt.Errorf("mover has been stopped")
	}

	// ========================================================================
	// Step 1: Check the components
	// ========================================================================

	if err := m.copier.Check(ctx); err != nil {
		return fmt.Errorf("copier check failed: %w", err)
	}
	if m.config.ExtraCopyDir != "" && m.extraCopier != m.copier {
		if err := m.extraCopier.Check(ctx); err != nil {
			return fmt.Errorf("extra copier check failed: %w", err)
		}
	}
	if err := m.target.Check(ctx); err != nil {
		return fmt.Errorf("target check failed: %w", err)
	}

	// ========================================================================
	// Step 2: Resume interrupted work
	// ========================================================================

	if err := m.recoverInProgress(); err != nil {
		return err
	}
	if err := m.recoverReady(ctx); err != nil {
		return err
	}

	// ========================================================================
	// Step 3: Launch
	// ========================================================================

	m.outgoing.Start()
	m.buffer.Start(ctx)
	m.incoming.Start(ctx)
	m.started = true

	m.log.Infof("Mover started: incoming=%s buffer=%s quiet-period=%s",
		m.config.Incoming.Path, m.config.Buffer.Path, m.config.QuietPeriod)
	return nil
}

func (m *Mover) recoverInProgress() error {
	entries, err := afero.ReadDir(m.fs, m.config.inProgressDir())
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", m.config.inProgressDir(), err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(m.config.inProgressDir(), name)
		if filesystem.Exists(m.fs, filepath.Join(m.config.Incoming.Path, name)) {
			m.log.Infof("Discarding incomplete copy of '%s'", name)
			if err := m.fs.RemoveAll(path); err != nil {
				return fmt.Errorf("failed to remove incomplete copy %s: %w", path, err)
			}
			continue
		}
		m.log.Infof("Completing interrupted copy of '%s'", name)
		if _, err := m.complete(path, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mover) recoverReady(ctx context.Context) error {
	entries, err := afero.ReadDir(m.fs, m.config.readyDir())
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", m.config.readyDir(), err)
	}
	queued := make(map[string]bool)
	for _, name := range m.outgoing.Items() {
		queued[name] = true
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || queued[name] {
			continue
		}
		m.log.Infof("Queueing '%s' found in %s", name, ReadyToMoveDir)
		if err := m.outgoing.Handle(ctx, name); err != nil {
			return fmt.Errorf("failed to queue '%s': %w", name, err)
		}
	}
	return nil
}

// Stop stops the scanners, then the outgoing queue, and closes the target.
// The item in transfer is interrupted when ctx expires; it stays queued.
func (m *Mover) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.started = false
	m.mu.Unlock()

	var errs []error
	if err := m.incoming.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("incoming scanner: %w", err))
	}
	if err := m.buffer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("buffer scanner: %w", err))
	}
	if err := m.outgoing.Terminate(ctx); err != nil {
		errs = append(errs, fmt.Errorf("outgoing queue: %w", err))
	}
	if err := m.target.Close(); err != nil {
		errs = append(errs, fmt.Errorf("target: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.log.Infof("Mover stopped")
	return nil
}

// Serve starts the mover and blocks until ctx is cancelled, then stops it
// within shutdownTimeout.
//
// Returns:
//   - the Start error if the mover could not start
//   - the Stop error, or ctx.Err() after a clean shutdown
func (m *Mover) Serve(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	m.log.Infof("Shutdown signal received, stopping mover (timeout %s)", shutdownTimeout)
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// Status returns a snapshot.
func (m *Mover) Status() Status {
	m.mu.Lock()
	running := m.started
	m.mu.Unlock()

	return Status{
		Running:        running,
		QueueDepth:     m.outgoing.Len(),
		Queued:         m.outgoing.Items(),
		IncomingFaulty: m.incoming.Faulty().Len(),
		BufferFaulty:   m.buffer.Faulty().Len(),
		IncomingPaused: m.bufferWatcher.IsBelow(),
		BufferPaused:   m.outgoingWatcher.IsBelow(),
	}
}

// TriggerScan requests an immediate pass of both scanners.
func (m *Mover) TriggerScan() {
	m.incoming.Trigger()
	m.buffer.Trigger()
}

// toManualIntervention moves path out of the pipeline. Without a manual
// intervention directory the item is left where it is.
func (m *Mover) toManualIntervention(path, reason string) error {
	if m.config.ManualInterventionDir == "" {
		m.log.Errorf("'%s' needs manual intervention (%s), leaving it in place", path, reason)
		return nil
	}
	dst, err := filesystem.MoveTo(m.fs, path, m.config.ManualInterventionDir)
	if err != nil {
		return fmt.Errorf("failed to move '%s' to manual intervention: %w", path, err)
	}
	m.log.Warnf("Moved '%s' to manual intervention (%s)", dst, reason)
	return nil
}

// treeSize sums the sizes of the regular files below path.
func treeSize(fsys afero.Fs, path string) int64 {
	var size int64
	_ = afero.Walk(fsys, path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return size
}
