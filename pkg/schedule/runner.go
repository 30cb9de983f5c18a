package schedule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/filesystem"
)

// nextDateLayout is the format of the run-schedule file.
const nextDateLayout = "2006-01-02 15:04:05"

// Task is a maintenance task.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// TaskFactory builds the task of a class from its parameters.
type TaskFactory func(params *Parameters) (Task, error)

// Runner executes a Task according to its Parameters.
//
// Thread safety: Start and Stop may be called from different goroutines;
// RunOnce is not meant to run concurrently with the background worker.
type Runner struct {
	params *Parameters
	task   Task
	fs     afero.Fs
	log    *zap.SugaredLogger
	now    func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewRunner creates a stopped runner. fsys holds the run-schedule file.
func NewRunner(params *Parameters, task Task, fsys afero.Fs) *Runner {
	return &Runner{
		params: params,
		task:   task,
		fs:     fsys,
		log:    logger.With("component", "schedule", "task", params.PluginName),
		now:    time.Now,
	}
}

// Parameters returns the runner's parameters.
func (r *Runner) Parameters() *Parameters {
	return r.params
}

// Start launches the background worker.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.worker(ctx, r.stopCh, r.doneCh)
	r.log.Infof("Maintenance task '%s' (%s) scheduled, first run at %s",
		r.params.PluginName, r.params.ClassName, r.firstRun().Format(nextDateLayout))
}

// Stop signals the worker and waits for it or for ctx.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.mu.Unlock()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("maintenance task %s did not stop: %w", r.params.PluginName, ctx.Err())
	}
}

// RunOnce executes the task, retrying after each retry interval while it
// fails. It returns the error of the last attempt.
func (r *Runner) RunOnce(ctx context.Context) error {
	err := r.execute(ctx)
	for _, wait := range r.params.RetryIntervals {
		if err == nil || ctx.Err() != nil {
			break
		}
		r.log.Warnf("Maintenance task '%s' failed, retrying in %s: %v", r.params.PluginName, wait, err)
		if !sleep(ctx, nil, wait) {
			break
		}
		err = r.execute(ctx)
	}
	if err != nil {
		r.log.Errorf("Maintenance task '%s' failed: %v", r.params.PluginName, err)
	}
	return err
}

func (r *Runner) execute(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	start := r.now()
	err = r.task.Execute(ctx)
	r.log.Debugf("Maintenance task '%s' finished in %s", r.params.PluginName, time.Since(start))
	return err
}

// NextRun returns the run following last, or the first run when last is
// zero.
func (r *Runner) NextRun(last time.Time) time.Time {
	if last.IsZero() {
		return r.firstRun()
	}
	now := r.now()
	if r.params.Schedule != nil {
		return r.params.Schedule.Next(now)
	}
	next := last.Add(r.params.Interval)
	for !next.After(now) {
		next = next.Add(r.params.Interval)
	}
	return next
}

// firstRun honours a persisted next date, so that a run missed while the
// process was down happens right after a restart.
func (r *Runner) firstRun() time.Time {
	if r.params.Schedule == nil {
		return r.params.StartDate
	}
	if t, err := ReadNextDate(r.fs, r.params.NextDateFile); err == nil {
		return t
	} else if !errors.Is(err, os.ErrNotExist) {
		r.log.Warnf("Ignoring run schedule file %s: %v", r.params.NextDateFile, err)
	}
	return r.params.Schedule.Next(r.now())
}

func (r *Runner) worker(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	next := r.firstRun()
	for {
		if next.IsZero() {
			r.log.Errorf("Maintenance task '%s' has no next run, stopping its schedule", r.params.PluginName)
			return
		}
		if r.params.Schedule != nil {
			if err := WriteNextDate(r.fs, r.params.NextDateFile, next); err != nil {
				r.log.Warnf("Failed to persist next run: %v", err)
			}
		}

		if !sleep(ctx, stopCh, next.Sub(r.now())) {
			return
		}

		_ = r.RunOnce(ctx)
		if r.params.ExecuteOnlyOnce {
			r.log.Infof("Maintenance task '%s' executed once, not rescheduling", r.params.PluginName)
			return
		}
		next = r.NextRun(next)
	}
}

// sleep waits for d. It returns false when ctx is done or stopCh closes.
func sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-stopCh:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	}
}

// ReadNextDate reads a run-schedule file.
func ReadNextDate(fsys afero.Fs, path string) (time.Time, error) {
	text, err := filesystem.LoadToString(fsys, path)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(nextDateLayout, strings.TrimSpace(text), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid next date in %s: %w", path, err)
	}
	return t, nil
}

// WriteNextDate stores next in a run-schedule file.
func WriteNextDate(fsys afero.Fs, path string, next time.Time) error {
	return filesystem.WriteAtomically(fsys, path, []byte(next.Local().Format(nextDateLayout)+"\n"))
}
