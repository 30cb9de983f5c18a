package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/pkg/filesystem"
)

// StoreItem is a named entry of a Store. It carries no state of its own; a
// handler resolves it through the store that produced it.
type StoreItem struct {
	Name string
}

func (i StoreItem) String() string {
	return i.Name
}

// Store is a listable collection of items.
type Store interface {
	// Location describes the store in log messages
	Location() string

	// Items lists the current items, oldest modification first
	Items(ctx context.Context) ([]StoreItem, error)

	// Exists reports whether item is still present
	Exists(item StoreItem) bool

	// Path returns the filesystem path of item
	Path(item StoreItem) string

	// LastChanged returns the newest modification time in item's tree. A
	// non-zero stopWhenYounger ends the walk at the first entry newer than it.
	LastChanged(item StoreItem, stopWhenYounger time.Time) (time.Time, error)
}

// DirectoryStore lists the entries of one directory.
//
// Entries whose name starts with a dot are never listed: the faulty paths
// file, markers and in-flight temp copies all live there.
type DirectoryStore struct {
	fs     afero.Fs
	dir    string
	filter func(name string) bool
}

// NewDirectoryStore creates a store over dir. filter may be nil.
func NewDirectoryStore(fs afero.Fs, dir string, filter func(name string) bool) *DirectoryStore {
	return &DirectoryStore{fs: fs, dir: dir, filter: filter}
}

func (s *DirectoryStore) Location() string {
	return s.dir
}

// Fs returns the filesystem the store reads from.
func (s *DirectoryStore) Fs() afero.Fs {
	return s.fs
}

func (s *DirectoryStore) Items(ctx context.Context) ([]StoreItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory '%s': %w", s.dir, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].ModTime(), entries[j].ModTime()
		if ti.Equal(tj) {
			return entries[i].Name() < entries[j].Name()
		}
		return ti.Before(tj)
	})

	items := make([]StoreItem, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if s.filter != nil && !s.filter(name) {
			continue
		}
		items = append(items, StoreItem{Name: name})
	}
	return items, nil
}

func (s *DirectoryStore) Exists(item StoreItem) bool {
	_, err := s.fs.Stat(s.Path(item))
	return err == nil
}

func (s *DirectoryStore) Path(item StoreItem) string {
	return filepath.Join(s.dir, item.Name)
}

func (s *DirectoryStore) LastChanged(item StoreItem, stopWhenYounger time.Time) (time.Time, error) {
	return filesystem.LastChanged(s.fs, s.Path(item), false, stopWhenYounger)
}
