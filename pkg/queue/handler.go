// Package queue hands items from a single producer to a single worker.
//
// A PathHandler accepts items through Handle, persists them, and feeds them
// in FIFO order to a delegate running on one worker goroutine. The worker
// also executes out-of-band commands submitted through Exec between two
// items, which lets the owner act on special conditions (pausing a target,
// flushing state) without racing the delegate.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/metrics"
)

var (
	// ErrQueueClosed is returned by Handle and Exec after Terminate.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrPersisterClosed is returned by a closed MemoryPersister.
	ErrPersisterClosed = errors.New("persister is closed")
)

// Handler processes one queued item.
type Handler[T any] interface {
	Handle(ctx context.Context, item T) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, item T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, item T) error {
	return f(ctx, item)
}

type execRequest struct {
	fn   func(ctx context.Context) error
	done chan error
}

// PathHandler is a persistent single-consumer queue in front of a Handler.
//
// Items that fail in the delegate are dropped from the queue (the delegate
// owns retries). Items interrupted by Terminate stay persisted and are
// delivered again by the next PathHandler opened on the same persister.
//
// Thread safety: Handle, Exec and the accessors are safe for concurrent use.
type PathHandler[T any] struct {
	name      string
	delegate  Handler[T]
	persister Persister[T]
	metrics   metrics.MoverMetrics
	log       *zap.SugaredLogger

	mu    sync.Mutex
	queue []T

	wake   chan struct{}
	execCh chan execRequest
	stopCh chan struct{}
	doneCh chan struct{}

	workerCtx    context.Context
	workerCancel context.CancelFunc

	stopped   atomic.Bool
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPathHandler creates a stopped queue named name. Items already held by
// persister are queued first. m may be nil.
func NewPathHandler[T any](name string, delegate Handler[T], persister Persister[T], m metrics.MoverMetrics) *PathHandler[T] {
	ctx, cancel := context.WithCancel(context.Background())
	p := &PathHandler[T]{
		name:         name,
		delegate:     delegate,
		persister:    persister,
		metrics:      metrics.OrNoop(m),
		log:          logger.With("component", "queue", "queue", name),
		queue:        persister.Items(),
		wake:         make(chan struct{}, 1),
		execCh:       make(chan execRequest),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		workerCtx:    ctx,
		workerCancel: cancel,
	}
	if n := len(p.queue); n > 0 {
		p.log.Infof("Queue '%s' resumes with %d persisted items", name, n)
	}
	p.metrics.SetQueueDepth(name, len(p.queue))
	return p
}

// Handle appends item. It is persisted before it becomes visible to the
// worker.
func (p *PathHandler[T]) Handle(ctx context.Context, item T) error {
	if p.stopped.Load() {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.persister.AddToTail(item); err != nil {
		return fmt.Errorf("failed to persist queue item: %w", err)
	}

	p.mu.Lock()
	p.queue = append(p.queue, item)
	n := len(p.queue)
	p.mu.Unlock()

	p.metrics.SetQueueDepth(p.name, n)
	p.signal()
	return nil
}

// Exec runs fn on the worker goroutine between two items and returns its
// error. It blocks until fn has run, ctx is done, or the queue terminates.
func (p *PathHandler[T]) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.stopped.Load() {
		return ErrQueueClosed
	}
	req := execRequest{fn: fn, done: make(chan error, 1)}

	select {
	case p.execCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrQueueClosed
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued items, including the one in progress.
func (p *PathHandler[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Items returns a snapshot of the queue, head first.
func (p *PathHandler[T]) Items() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]T(nil), p.queue...)
}

// IsStopped reports whether Terminate has been called.
func (p *PathHandler[T]) IsStopped() bool {
	return p.stopped.Load()
}

// Start launches the worker. Subsequent calls are no-ops.
func (p *PathHandler[T]) Start() {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.worker()
	})
}

// terminateGrace bounds the wait for a delegate that was interrupted through
// its context.
var terminateGrace = 5 * time.Second

// Terminate stops the worker after the item in progress. Queued items are
// not drained; they stay persisted. When ctx expires first, the item in
// progress is interrupted through its context and ctx.Err() is returned.
// The persister is closed once the worker has exited; a delegate that
// ignores its context past terminateGrace leaves the persister open.
func (p *PathHandler[T]) Terminate(ctx context.Context) error {
	p.stopped.Store(true)
	p.stopOnce.Do(func() { close(p.stopCh) })

	var interrupted error
	if p.started.Load() {
		select {
		case <-p.doneCh:
		case <-ctx.Done():
			p.log.Warnf("Queue '%s' did not stop in time, interrupting the current item", p.name)
			p.workerCancel()
			interrupted = ctx.Err()

			grace := time.NewTimer(terminateGrace)
			defer grace.Stop()
			select {
			case <-p.doneCh:
			case <-grace.C:
				p.log.Errorf("Queue '%s' worker ignored the interruption, abandoning it", p.name)
				return fmt.Errorf("worker of queue %s did not exit: %w", p.name, interrupted)
			}
		}
	}
	p.workerCancel()

	if err := p.persister.Close(); err != nil {
		return fmt.Errorf("failed to close persister of queue %s: %w", p.name, err)
	}
	return interrupted
}

func (p *PathHandler[T]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *PathHandler[T]) peek() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		var zero T
		return zero, false
	}
	return p.queue[0], true
}

func (p *PathHandler[T]) worker() {
	defer close(p.doneCh)

	for {
		// commands take precedence over items
		select {
		case req := <-p.execCh:
			p.runExec(req)
			continue
		case <-p.stopCh:
			return
		default:
		}

		item, ok := p.peek()
		if !ok {
			select {
			case <-p.wake:
			case req := <-p.execCh:
				p.runExec(req)
			case <-p.stopCh:
				return
			}
			continue
		}

		err := p.handle(item)
		if err != nil && p.workerCtx.Err() != nil {
			// interrupted by Terminate; keep it for the next run
			p.log.Infof("Processing of '%v' interrupted, it stays queued", item)
			return
		}
		if err != nil {
			p.log.Errorf("Processing of '%v' failed: %v", item, err)
		}

		if err := p.persister.RemoveFromHead(item); err != nil {
			p.log.Errorf("Failed to remove '%v' from persisted queue: %v", item, err)
		}
		p.mu.Lock()
		if len(p.queue) > 0 {
			p.queue = p.queue[1:]
		}
		n := len(p.queue)
		p.mu.Unlock()
		p.metrics.SetQueueDepth(p.name, n)
	}
}

func (p *PathHandler[T]) handle(item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return p.delegate.Handle(p.workerCtx, item)
}

func (p *PathHandler[T]) runExec(req execRequest) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("command panicked: %v", r)
			}
		}()
		err = req.fn(p.workerCtx)
	}()
	req.done <- err
}
