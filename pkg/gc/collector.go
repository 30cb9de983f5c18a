// Package gc removes stale partial transfers.
//
// Copiers write every item under a temporary name (see copier.IsTempName)
// and rename it once complete. A crash or a killed transfer leaves the
// temporary copy behind. The collector periodically deletes those that are
// older than a maximum age from the buffer and from filesystem targets.
package gc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/copier"
	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/metrics"
)

// Location is a directory that copiers write temporary copies into.
type Location struct {
	Fs  afero.Fs
	Dir string
}

func (l Location) String() string {
	return l.Dir
}

// Collector performs periodic collection over a set of locations.
//
// Thread Safety: Safe for concurrent use.
type Collector struct {
	locations []Location
	config    Config
	metrics   metrics.MoverMetrics
	now       func() time.Time

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	mu        sync.Mutex
}

// Defaults for zero values in Config.
const (
	DefaultInterval  = time.Hour
	DefaultMaxAge    = 24 * time.Hour
	DefaultBatchSize = 100
)

// Config contains configuration for the garbage collector.
type Config struct {
	// Enabled controls whether garbage collection is active (default: true)
	Enabled bool

	// Interval is how often to run garbage collection (default: 1h)
	Interval time.Duration

	// MaxAge is the age after which a temporary copy counts as stale
	// (default: 24h). It must exceed the longest expected transfer.
	MaxAge time.Duration

	// BatchSize is how many stale copies are deleted between two
	// cancellation checks (default: 100)
	BatchSize int

	// DryRun mode logs what would be deleted without actually deleting (default: false)
	DryRun bool
}

// NewCollector creates a new garbage collector.
//
// The collector will be initialized but not started. Call Start() to begin
// background garbage collection.
//
// Parameters:
//   - locations: Directories searched for temporary copies (top level only)
//   - config: Garbage collection configuration
//   - m: Metrics sink, may be nil
//
// Returns:
//   - *Collector: Initialized collector (not started)
//   - error: Returns error if a location is incomplete
func NewCollector(locations []Location, config Config, m metrics.MoverMetrics) (*Collector, error) {
	for _, l := range locations {
		if l.Fs == nil || l.Dir == "" {
			return nil, fmt.Errorf("gc location needs a filesystem and a directory")
		}
	}

	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.MaxAge == 0 {
		config.MaxAge = DefaultMaxAge
	}
	if config.BatchSize == 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Collector{
		locations: locations,
		config:    config,
		metrics:   metrics.OrNoop(m),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins background garbage collection.
//
// Safe to call multiple times (subsequent calls are no-ops).
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("Garbage collection disabled")
		return
	}

	c.startOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()

		logger.Info("Starting garbage collector: interval=%s max_age=%s locations=%v dry_run=%v",
			c.config.Interval, c.config.MaxAge, c.locations, c.config.DryRun)
		go c.worker()
	})
}

// Stop stops the garbage collector and waits for it to finish.
//
// Safe to call multiple times, and before Start.
//
// Parameters:
//   - ctx: Context for timeout
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stopCh) })
	if !started {
		return nil
	}

	select {
	case <-c.doneCh:
		logger.Info("Garbage collector stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Garbage collector shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate garbage collection run and blocks until it
// completes or ctx is cancelled.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	logger.Info("Running garbage collection (manual trigger)...")
	return c.collect(ctx)
}

// worker is the background goroutine that runs periodic garbage collection.
func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			stats, err := c.collect(ctx)
			if err != nil {
				logger.Error("Garbage collection failed: %v", err)
			} else {
				logger.Info("Garbage collection completed: %s", stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

type candidate struct {
	location Location
	path     string
	size     int64
}

// collect performs a single garbage collection run:
//  1. List the temporary copies of every location
//  2. Keep those older than MaxAge
//  3. Delete them in batches
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: c.now()}
	cutoff := stats.StartTime.Add(-c.config.MaxAge)

	// Phase 1 and 2: find stale temporary copies
	var stale []candidate
	for _, l := range c.locations {
		entries, err := afero.ReadDir(l.Fs, l.Dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return stats, fmt.Errorf("failed to list %s: %w", l.Dir, err)
		}
		for _, e := range entries {
			if !copier.IsTempName(e.Name()) {
				continue
			}
			stats.TempCount++
			if e.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(l.Dir, e.Name())
			stale = append(stale, candidate{location: l, path: path, size: sizeOf(l.Fs, path)})
		}
	}
	stats.StaleCount = uint64(len(stale))

	if len(stale) == 0 {
		logger.Debug("GC: No stale temporary copies found")
		stats.EndTime = c.now()
		return stats, nil
	}

	if c.config.DryRun {
		logger.Info("GC: DRY RUN - Would delete %d items:", stats.StaleCount)
		for i, s := range stale {
			if i < 10 {
				logger.Info("  - %s (%s)", s.path, units.HumanSize(float64(s.size)))
			}
		}
		if len(stale) > 10 {
			logger.Info("  ... and %d more", len(stale)-10)
		}
		stats.EndTime = c.now()
		return stats, nil
	}

	// Phase 3: delete
	for i := 0; i < len(stale); i += c.config.BatchSize {
		if err := ctx.Err(); err != nil {
			stats.EndTime = c.now()
			return stats, err
		}

		end := min(i+c.config.BatchSize, len(stale))
		deleted := 0
		for _, s := range stale[i:end] {
			if err := s.location.Fs.RemoveAll(s.path); err != nil {
				logger.Debug("GC: Failed to delete %s: %v", s.path, err)
				stats.FailedCount++
				continue
			}
			deleted++
			stats.DeletedCount++
			stats.FreedBytes += s.size
		}
		c.metrics.RecordCollected(deleted)
	}

	stats.EndTime = c.now()
	logger.Info("GC: Completed - deleted %d items (%s), %d failed, duration=%s",
		stats.DeletedCount, units.HumanSize(float64(stats.FreedBytes)), stats.FailedCount, stats.Duration())
	return stats, nil
}

func sizeOf(fsys afero.Fs, path string) int64 {
	n, _ := filesystem.Size(fsys, path)
	return n
}

// Stats contains statistics from a garbage collection run.
type Stats struct {
	StartTime    time.Time // When collection started
	EndTime      time.Time // When collection ended
	TempCount    uint64    // Number of temporary copies found
	StaleCount   uint64    // Number of those older than the maximum age
	DeletedCount uint64    // Number of stale copies successfully deleted
	FailedCount  uint64    // Number of stale copies that failed to delete
	FreedBytes   int64     // Bytes held by the deleted copies
}

// Duration returns the total collection duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the collection.
func (s *Stats) Summary() string {
	return fmt.Sprintf("temp=%d stale=%d deleted=%d failed=%d freed=%s duration=%s",
		s.TempCount, s.StaleCount, s.DeletedCount, s.FailedCount,
		units.HumanSize(float64(s.FreedBytes)), s.Duration())
}
