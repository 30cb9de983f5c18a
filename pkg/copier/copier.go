// Package copier implements the strategies used to move item trees between
// stages: a native copy over afero, hard links, and rsync.
package copier

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// TempPrefix and TempSuffix frame the name of an in-flight copy.
	TempPrefix = ".dittomover-"
	TempSuffix = ".tmp"
)

// IsTempName reports whether name is an in-flight copy left by a copier.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, TempPrefix) && strings.HasSuffix(name, TempSuffix)
}

// Copier copies item trees into a destination directory.
type Copier interface {
	// Copy copies src into dstDir under its own name.
	Copy(ctx context.Context, src, dstDir string) error

	// CopyContent copies every entry of srcDir into dstDir.
	CopyContent(ctx context.Context, srcDir, dstDir string) error

	// CopyImmutably creates dstDir/newName (or the base name of src when
	// newName is empty) as a copy that shares no mutable state with src.
	// Strategies that can do so use hard links.
	CopyImmutably(ctx context.Context, src, dstDir, newName string) error

	// Check verifies that the strategy can be used.
	Check(ctx context.Context) error
}

// Status is the error returned by a failed copy.
type Status struct {
	Op        string
	Path      string
	Message   string
	Err       error
	retriable bool
}

// NewStatus creates a failure status.
func NewStatus(op, path string, retriable bool, format string, args ...any) *Status {
	return &Status{Op: op, Path: path, Message: fmt.Sprintf(format, args...), retriable: retriable}
}

func wrapStatus(op, path string, retriable bool, err error) *Status {
	return &Status{Op: op, Path: path, Message: err.Error(), Err: err, retriable: retriable}
}

func (s *Status) Error() string {
	kind := "error"
	if s.retriable {
		kind = "retriable error"
	}
	return fmt.Sprintf("%s of '%s' failed (%s): %s", s.Op, s.Path, kind, s.Message)
}

func (s *Status) Unwrap() error {
	return s.Err
}

// Retriable reports whether trying again may succeed.
func (s *Status) Retriable() bool {
	return s.retriable
}

// IsRetriable reports whether err is a retriable *Status. Context errors are
// never retriable.
func IsRetriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *Status
	return errors.As(err, &status) && status.Retriable()
}
