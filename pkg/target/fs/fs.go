// Package fs implements a target on a (possibly remote-mounted) directory.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/copier"
	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/target"
)

// Target copies items into a directory with a copier.Copier.
type Target struct {
	fs     afero.Fs
	dir    string
	copier copier.Copier
}

// NewTarget creates a target on dir. The directory must exist and be
// writable.
//
// Parameters:
//   - fsys: filesystem used for listing, markers and removal
//   - dir: destination directory
//   - cp: strategy used by Put
func NewTarget(fsys afero.Fs, dir string, cp copier.Copier) (*Target, error) {
	if dir == "" {
		return nil, fmt.Errorf("filesystem target: path is required")
	}
	if cp == nil {
		return nil, fmt.Errorf("filesystem target: copier is required")
	}
	if err := filesystem.CheckDirectoryFullyAccessible(fsys, dir, "outgoing"); err != nil {
		return nil, err
	}
	return &Target{fs: fsys, dir: dir, copier: cp}, nil
}

// Dir returns the destination directory.
func (t *Target) Dir() string {
	return t.dir
}

func (t *Target) path(item string) string {
	return filepath.Join(t.dir, item)
}

func (t *Target) Put(ctx context.Context, localPath, itemName string) error {
	if filepath.Base(localPath) == itemName {
		return t.copier.Copy(ctx, localPath, t.dir)
	}
	return t.copier.CopyImmutably(ctx, localPath, t.dir, itemName)
}

func (t *Target) Exists(ctx context.Context, itemName string) (bool, error) {
	_, err := t.fs.Stat(t.path(itemName))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", itemName, err)
	}
}

func (t *Target) Remove(ctx context.Context, itemName string) error {
	if !filesystem.Exists(t.fs, t.path(itemName)) {
		return fmt.Errorf("%s: %w", itemName, target.ErrNotFound)
	}
	if err := t.fs.RemoveAll(t.path(itemName)); err != nil {
		return fmt.Errorf("failed to remove %s: %w", itemName, err)
	}
	if err := t.fs.Remove(t.path(target.MarkerName(itemName))); err != nil && filesystem.Exists(t.fs, t.path(target.MarkerName(itemName))) {
		return fmt.Errorf("failed to remove marker of %s: %w", itemName, err)
	}
	return nil
}

func (t *Target) List(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(t.fs, t.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.dir, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (t *Target) MarkFinished(ctx context.Context, itemName string) error {
	marker := t.path(target.MarkerName(itemName))
	if err := filesystem.Touch(t.fs, marker); err != nil {
		return fmt.Errorf("failed to write marker %s: %w", marker, err)
	}
	logger.Debug("Marked '%s' as finished", itemName)
	return nil
}

func (t *Target) Check(ctx context.Context) error {
	if err := filesystem.CheckDirectoryFullyAccessible(t.fs, t.dir, "outgoing"); err != nil {
		return err
	}
	return t.copier.Check(ctx)
}

func (t *Target) Close() error {
	return nil
}
