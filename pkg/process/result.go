package process

import (
	"fmt"
	"strings"
	"time"
)

// NoExitValue is reported when the process did not terminate on its own.
const NoExitValue = -1

// Status describes how a process run ended.
type Status int

const (
	// StatusComplete means the process exited by itself (with any exit value).
	StatusComplete Status = iota

	// StatusTimedOut means the process was killed after exceeding its timeout.
	StatusTimedOut

	// StatusInterrupted means the run was cancelled or terminated by the caller.
	StatusInterrupted

	// StatusException means the process could not be started or waited for.
	StatusException
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "COMPLETE"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusInterrupted:
		return "INTERRUPTED"
	case StatusException:
		return "EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of one process run.
type Result struct {
	// Command is the command line that was run
	Command []string

	// Number is a process-wide sequence number, used to correlate log lines
	Number int64

	// ExitValue is the exit code, or NoExitValue if the process was killed
	ExitValue int

	// Status tells whether the run completed, timed out, was interrupted or failed
	Status Status

	// Err holds the start/wait error for StatusException
	Err error

	// Output holds stdout lines (stdout and stderr when merged)
	Output []string

	// ErrorOutput holds stderr lines when not merged
	ErrorOutput []string

	// Binary holds raw stdout when binary output was requested
	Binary []byte

	// Duration is the wall time of the run
	Duration time.Duration
}

// OK reports a complete run with exit value zero.
func (r *Result) OK() bool {
	return r.Status == StatusComplete && r.ExitValue == 0
}

// TimedOut reports whether the run was killed on timeout.
func (r *Result) TimedOut() bool {
	return r.Status == StatusTimedOut
}

// CommandLine renders the command separated by spaces.
func (r *Result) CommandLine() string {
	return strings.Join(r.Command, " ")
}

// Error implements error so that a failed Result can be returned as-is.
func (r *Result) Error() string {
	switch r.Status {
	case StatusTimedOut:
		return fmt.Sprintf("P%d: '%s' timed out after %s", r.Number, r.CommandLine(), r.Duration)
	case StatusInterrupted:
		return fmt.Sprintf("P%d: '%s' was interrupted", r.Number, r.CommandLine())
	case StatusException:
		return fmt.Sprintf("P%d: '%s' failed: %v", r.Number, r.CommandLine(), r.Err)
	default:
		return fmt.Sprintf("P%d: '%s' exited with %d", r.Number, r.CommandLine(), r.ExitValue)
	}
}

// Unwrap exposes the underlying start/wait error.
func (r *Result) Unwrap() error {
	return r.Err
}

// AsError returns nil for successful runs and the Result otherwise.
func (r *Result) AsError() error {
	if r.OK() {
		return nil
	}
	return r
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
