// Package process runs OS processes with timeouts and captured output.
//
// Every run gets a process number (P1, P2, ...) that prefixes its log lines.
// A run ends in one of four states: it completes on its own, times out and
// is killed together with its process group, is interrupted through context
// cancellation or Handle.Terminate, or fails to start.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittomover/internal/logger"
)

// minOutputGrace is the lower bound for reading output after the process ends.
const minOutputGrace = 250 * time.Millisecond

// ErrEmptyCommand is returned when no command is given.
var ErrEmptyCommand = errors.New("empty command line")

var processCounter atomic.Int64

// Options controls a process run.
type Options struct {
	// Env holds additional environment variables
	Env map[string]string

	// ReplaceEnvironment drops the inherited environment and uses Env only
	ReplaceEnvironment bool

	// Dir is the working directory (empty for the current one)
	Dir string

	// Stdin is fed to the process when set
	Stdin []byte

	// MergeStderr captures stderr into Output
	MergeStderr bool

	// BinaryOutput keeps stdout as raw bytes in Result.Binary
	BinaryOutput bool

	// DiscardStdout and DiscardStderr drop the respective stream
	DiscardStdout bool
	DiscardStderr bool

	// Timeout kills the process after this duration (0 for no timeout)
	Timeout time.Duration

	// IOHandler takes over the process streams. When set, no output is
	// captured into the Result.
	IOHandler func(stdin io.WriteCloser, stdout, stderr io.Reader) error
}

// outputGrace returns how long output may still be read after exit:
// 10% of the timeout, at least 250ms.
func (o Options) outputGrace() time.Duration {
	grace := o.Timeout / 10
	if grace < minOutputGrace {
		grace = minOutputGrace
	}
	return grace
}

// Runner runs commands. Components that spawn processes accept a Runner so
// that tests can substitute canned results.
type Runner interface {
	Run(ctx context.Context, command []string, opts Options) (*Result, error)
}

// DefaultRunner runs real OS processes.
var DefaultRunner Runner = execRunner{}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, command []string, opts Options) (*Result, error) {
	return Run(ctx, command, opts)
}

// Handle controls a process started with Start.
type Handle struct {
	number    int64
	cancel    context.CancelFunc
	done      chan struct{}
	result    *Result
	terminate sync.Once
}

// Number returns the process number.
func (h *Handle) Number() int64 {
	return h.number
}

// Terminate kills the process. The result reports StatusInterrupted unless the
// process had already finished. Safe to call multiple times.
func (h *Handle) Terminate() {
	h.terminate.Do(h.cancel)
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result waits for the process to end or ctx to be done.
func (h *Handle) Result(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run runs command and waits for it.
//
// The returned error is non-nil only if the process could not be started; the
// Result is still returned in that case with StatusException. Non-zero exit
// values and timeouts are reported through the Result.
func Run(ctx context.Context, command []string, opts Options) (*Result, error) {
	h, err := Start(ctx, command, opts)
	if err != nil {
		return h.result, err
	}
	<-h.done
	return h.result, nil
}

// RunAndLog runs command, logging it at DEBUG and any failure at WARN together
// with the captured output.
func RunAndLog(ctx context.Context, command []string, opts Options) (*Result, error) {
	res, err := Run(ctx, command, opts)
	if res == nil {
		return nil, err
	}

	logger.Debug("[P%d] '%s' finished: status=%s exit=%d duration=%s",
		res.Number, res.CommandLine(), res.Status, res.ExitValue, res.Duration)

	if !res.OK() {
		logger.Warn("[P%d] '%s' failed: %s", res.Number, res.CommandLine(), res.Error())
		for _, line := range res.Output {
			logger.Warn("[P%d] stdout: %s", res.Number, line)
		}
		for _, line := range res.ErrorOutput {
			logger.Warn("[P%d] stderr: %s", res.Number, line)
		}
	}

	return res, err
}

// Start spawns command and returns immediately.
func Start(ctx context.Context, command []string, opts Options) (*Handle, error) {
	number := processCounter.Add(1)
	h := &Handle{
		number: number,
		cancel: func() {},
		done:   make(chan struct{}),
	}

	if len(command) == 0 {
		h.result = &Result{Number: number, ExitValue: NoExitValue, Status: StatusException, Err: ErrEmptyCommand}
		close(h.done)
		return h, ErrEmptyCommand
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	// ========================================================================
	// Step 1: Build the command
	// ========================================================================

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = buildEnv(opts)
	cmd.WaitDelay = opts.outputGrace()
	prepareProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	var stdinPipe io.WriteCloser
	var stdoutPipe, stderrPipe io.ReadCloser

	if opts.IOHandler != nil {
		var err error
		if stdinPipe, err = cmd.StdinPipe(); err == nil {
			if stdoutPipe, err = cmd.StdoutPipe(); err == nil {
				stderrPipe, err = cmd.StderrPipe()
			}
		}
		if err != nil {
			cancel()
			return h.fail(command, fmt.Errorf("failed to create pipes: %w", err))
		}
	} else {
		if opts.Stdin != nil {
			cmd.Stdin = bytes.NewReader(opts.Stdin)
		}
		switch {
		case opts.DiscardStdout:
			cmd.Stdout = io.Discard
		default:
			cmd.Stdout = &stdout
		}
		switch {
		case opts.MergeStderr && !opts.DiscardStdout:
			cmd.Stderr = &stdout
		case opts.DiscardStderr:
			cmd.Stderr = io.Discard
		default:
			cmd.Stderr = &stderr
		}
	}

	// ========================================================================
	// Step 2: Start it
	// ========================================================================

	start := time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		return h.fail(command, fmt.Errorf("failed to start process: %w", err))
	}

	logger.Debug("[P%d] started '%s' (pid %d)", number, joinCommand(command), cmd.Process.Pid)

	var ioErr chan error
	if opts.IOHandler != nil {
		ioErr = make(chan error, 1)
		go func() {
			ioErr <- opts.IOHandler(stdinPipe, stdoutPipe, stderrPipe)
		}()
	}

	waitCh := make(chan error, 1)
	go func() {
		if ioErr != nil {
			// pipes must be drained before Wait closes them
			if err := <-ioErr; err != nil {
				logger.Warn("[P%d] IO handler failed: %v", number, err)
			}
		}
		waitCh <- cmd.Wait()
	}()

	// ========================================================================
	// Step 3: Supervise it
	// ========================================================================

	go func() {
		defer close(h.done)
		defer cancel()

		var timeout <-chan time.Time
		if opts.Timeout > 0 {
			timer := time.NewTimer(opts.Timeout)
			defer timer.Stop()
			timeout = timer.C
		}

		res := &Result{Command: command, Number: number, ExitValue: NoExitValue}

		select {
		case err := <-waitCh:
			res.Status = StatusComplete
			if cmd.ProcessState != nil {
				res.ExitValue = cmd.ProcessState.ExitCode()
			}
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
				res.Status = StatusException
				res.Err = err
			}

		case <-timeout:
			killProcessGroup(cmd)
			<-waitCh
			res.Status = StatusTimedOut

		case <-runCtx.Done():
			killProcessGroup(cmd)
			<-waitCh
			res.Status = StatusInterrupted
			res.Err = runCtx.Err()
		}

		res.Duration = time.Since(start)

		if opts.IOHandler == nil {
			if opts.BinaryOutput {
				res.Binary = stdout.Bytes()
			} else {
				res.Output = splitLines(stdout.String())
			}
			res.ErrorOutput = splitLines(stderr.String())
		}

		h.result = res
	}()

	return h, nil
}

func (h *Handle) fail(command []string, err error) (*Handle, error) {
	h.result = &Result{
		Command:   command,
		Number:    h.number,
		ExitValue: NoExitValue,
		Status:    StatusException,
		Err:       err,
	}
	close(h.done)
	return h, err
}

func buildEnv(opts Options) []string {
	if len(opts.Env) == 0 && !opts.ReplaceEnvironment {
		return nil
	}

	var env []string
	if !opts.ReplaceEnvironment {
		env = os.Environ()
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+opts.Env[k])
	}
	if env == nil {
		// an empty non-nil slice means "no environment" to os/exec
		env = []string{}
	}
	return env
}

func joinCommand(command []string) string {
	return (&Result{Command: command}).CommandLine()
}
