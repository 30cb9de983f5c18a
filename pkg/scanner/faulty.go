package scanner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/pkg/filesystem"
)

// FaultyPathsFile is the name of the faulty paths file inside a scanned
// directory.
const FaultyPathsFile = ".faulty_paths"

// FaultyPaths tracks items that survived a handling attempt. The set is
// mirrored to a flat file (one item name per line, '#' for comments) that
// operators may edit; the file is re-read whenever its size or modification
// time changes.
//
// Thread safety: safe for concurrent use.
type FaultyPaths struct {
	fs   afero.Fs
	dir  string
	path string

	mu      sync.Mutex
	items   map[string]bool
	modTime time.Time
	size    int64
}

// NewFaultyPaths loads (or starts) the faulty paths of dir.
func NewFaultyPaths(fs afero.Fs, dir string) (*FaultyPaths, error) {
	f := &FaultyPaths{
		fs:    fs,
		dir:   dir,
		path:  filepath.Join(dir, FaultyPathsFile),
		items: make(map[string]bool),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.reloadLocked(true); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the location of the backing file.
func (f *FaultyPaths) Path() string {
	return f.path
}

// Contains reports whether name is marked faulty.
func (f *FaultyPaths) Contains(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.reloadLocked(false)
	return f.items[name]
}

// Add marks name as faulty and rewrites the file.
func (f *FaultyPaths) Add(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.reloadLocked(false)
	if f.items[name] {
		return nil
	}
	f.items[name] = true
	return f.saveLocked()
}

// Remove clears name.
func (f *FaultyPaths) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.reloadLocked(false)
	if !f.items[name] {
		return nil
	}
	delete(f.items, name)
	return f.saveLocked()
}

// Clear removes every entry.
func (f *FaultyPaths) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = make(map[string]bool)
	return f.saveLocked()
}

// List returns the entries sorted by name.
func (f *FaultyPaths) List() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.reloadLocked(false)
	out := make([]string, 0, len(f.items))
	for name := range f.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of entries.
func (f *FaultyPaths) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.reloadLocked(false)
	return len(f.items)
}

// reloadLocked re-reads the file when it changed since the last read, or
// always with force. A missing file means an empty set.
func (f *FaultyPaths) reloadLocked(force bool) error {
	info, err := f.fs.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			if !f.modTime.IsZero() || force {
				f.items = make(map[string]bool)
				f.modTime, f.size = time.Time{}, 0
			}
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", f.path, err)
	}
	if !force && info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return nil
	}

	lines, err := filesystem.LoadToLines(f.fs, f.path, true)
	if err != nil {
		return err
	}
	items := make(map[string]bool, len(lines))
	for _, l := range lines {
		items[strings.TrimSpace(l)] = true
	}
	f.items = items
	f.modTime, f.size = info.ModTime(), info.Size()
	return nil
}

func (f *FaultyPaths) saveLocked() error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Faulty paths of '%s'. Remove a line to have the item processed again.\n", f.dir)
	names := make([]string, 0, len(f.items))
	for name := range f.items {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf.WriteString(name)
		buf.WriteByte('\n')
	}

	if err := filesystem.WriteAtomically(f.fs, f.path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write faulty paths: %w", err)
	}
	if info, err := f.fs.Stat(f.path); err == nil {
		f.modTime, f.size = info.ModTime(), info.Size()
	}
	return nil
}
