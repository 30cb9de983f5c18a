// Package scanner polls a Store and dispatches its items to a Handler.
//
// Each pass lists the store oldest item first and hands every item that is
// not known to be faulty to the handler. An item that is still present after
// its handler returned is considered faulty and recorded in the store's
// faulty paths file, so it is skipped until an operator removes the entry.
// Listing failures are counted and only reported after a configurable number
// of consecutive errors, which keeps flaky network mounts from flooding the
// log. Items left behind are retried on the next pass.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/metrics"
)

// Handler processes one item. A successful handler removes the item from
// the store (moves or deletes it).
type Handler interface {
	Handle(ctx context.Context, item StoreItem) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item StoreItem) error

func (f HandlerFunc) Handle(ctx context.Context, item StoreItem) error {
	return f(ctx, item)
}

// ReadinessChecker is implemented by handlers that need items to settle
// before they are handled (quiet period). Items that are not ready are left
// alone for this pass and are not marked faulty.
type ReadinessChecker interface {
	MayHandle(ctx context.Context, item StoreItem) bool
}

// Config configures a Scanner.
type Config struct {
	// Name tags log lines and metrics
	Name string

	// Interval between passes (default: 60s)
	Interval time.Duration

	// IgnoredErrorsBeforeNotification is how many consecutive listing
	// failures are logged at DEBUG before they are reported at ERROR
	IgnoredErrorsBeforeNotification int

	// Watch triggers an extra pass on directory events
	Watch bool

	// Paused, when set and true, skips the pass (for example while the
	// directory is below its high water mark)
	Paused func() bool
}

// Scanner runs passes over a Store.
//
// Thread safety: RunOnce may be called concurrently with the background
// loop; passes are serialized.
type Scanner struct {
	config  Config
	store   Store
	handler Handler
	faulty  *FaultyPaths
	metrics metrics.MoverMetrics
	log     *zap.SugaredLogger

	passMu     sync.Mutex
	errorCount int
	reported   bool

	stopped   atomic.Bool
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// New creates a stopped scanner. faulty may be nil to disable faulty path
// tracking; m may be nil.
func New(config Config, store Store, handler Handler, faulty *FaultyPaths, m metrics.MoverMetrics) *Scanner {
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Name == "" {
		config.Name = store.Location()
	}
	return &Scanner{
		config:    config,
		store:     store,
		handler:   handler,
		faulty:    faulty,
		metrics:   metrics.OrNoop(m),
		log:       logger.With("component", config.Name),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Faulty returns the faulty path tracker, or nil.
func (s *Scanner) Faulty() *FaultyPaths {
	return s.faulty
}

// RunOnce performs one pass and returns the number of items handed to the
// handler. The error is the listing error, if any; handler failures are
// logged and recorded as faulty paths instead.
func (s *Scanner) RunOnce(ctx context.Context) (int, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	if s.config.Paused != nil && s.config.Paused() {
		s.log.Debugf("Skipping scan of '%s': paused", s.store.Location())
		return 0, nil
	}

	start := time.Now()

	// ========================================================================
	// Step 1: List the store
	// ========================================================================

	items, err := s.store.Items(ctx)
	if err != nil {
		s.errorCount++
		if s.errorCount > s.config.IgnoredErrorsBeforeNotification {
			s.log.Errorf("Failed to list '%s' (%d consecutive failures): %v",
				s.store.Location(), s.errorCount, err)
			s.reported = true
		} else {
			s.log.Debugf("Failed to list '%s' (failure %d ignored): %v",
				s.store.Location(), s.errorCount, err)
		}
		return 0, err
	}
	if s.reported {
		s.log.Infof("directory '%s' is available again", s.store.Location())
	}
	s.errorCount = 0
	s.reported = false

	// ========================================================================
	// Step 2: Dispatch
	// ========================================================================

	handled := 0
	for _, item := range items {
		if ctx.Err() != nil || s.stopped.Load() {
			break
		}
		if s.faulty != nil && s.faulty.Contains(item.Name) {
			continue
		}
		if rc, ok := s.handler.(ReadinessChecker); ok && !rc.MayHandle(ctx, item) {
			continue
		}

		handled++
		herr := s.handle(ctx, item)
		if herr != nil {
			s.log.Warnf("Handling '%s' failed: %v", item.Name, herr)
		}

		// an interrupted handler is retried on the next pass
		if errors.Is(herr, context.Canceled) || errors.Is(herr, context.DeadlineExceeded) {
			continue
		}
		if s.store.Exists(item) {
			s.markFaulty(item)
		}
	}

	s.metrics.ObserveScan(s.config.Name, len(items), time.Since(start))
	return handled, nil
}

func (s *Scanner) handle(ctx context.Context, item StoreItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.handler.Handle(ctx, item)
}

func (s *Scanner) markFaulty(item StoreItem) {
	s.metrics.RecordFaulty(s.config.Name)
	if s.faulty == nil {
		s.log.Errorf("processing of '%s' failed", item.Name)
		return
	}
	if err := s.faulty.Add(item.Name); err != nil {
		s.log.Errorf("processing of '%s' failed, cannot add it to faulty paths: %v", item.Name, err)
		return
	}
	s.log.Errorf("processing of '%s' failed, added to faulty paths", item.Name)
}

// Trigger requests a pass as soon as the running one (if any) finishes.
func (s *Scanner) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Start launches the background loop: an immediate pass, then one per
// interval or trigger. Subsequent calls are no-ops.
func (s *Scanner) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.started.Store(true)
		var watcher *fsnotify.Watcher
		if s.config.Watch {
			w, err := s.watch()
			if err != nil {
				s.log.Warnf("Cannot watch '%s', falling back to polling: %v", s.store.Location(), err)
			} else {
				watcher = w
			}
		}
		s.log.Infof("Starting scanner on '%s': interval=%s watch=%v",
			s.store.Location(), s.config.Interval, watcher != nil)
		go s.loop(ctx, watcher)
	})
}

func (s *Scanner) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(s.doneCh)
	if watcher != nil {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		_, _ = s.RunOnce(ctx)

		select {
		case <-ticker.C:
		case <-s.triggerCh:
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scanner) watch() (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(s.store.Location()); err != nil {
		w.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Write) {
					s.Trigger()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Debugf("Watch error on '%s': %v", s.store.Location(), err)
			}
		}
	}()
	return w, nil
}

// Stop ends the loop after the running item and waits for it, bounded by
// ctx. Safe to call multiple times, and before Start.
func (s *Scanner) Stop(ctx context.Context) error {
	s.stopped.Store(true)
	s.stopOnce.Do(func() { close(s.stopCh) })
	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.doneCh:
		s.log.Infof("Scanner on '%s' stopped", s.store.Location())
		return nil
	case <-ctx.Done():
		s.log.Warnf("Scanner on '%s' shutdown timeout", s.store.Location())
		return ctx.Err()
	}
}
