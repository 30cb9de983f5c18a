package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Filter selects entries for DeleteRecursively.
type Filter func(path string, info os.FileInfo) bool

// DeleteRecursively removes path. With a non-nil filter only the entries below
// path that match are removed (a matching directory goes with its whole
// subtree) and path itself is kept. Returns the number of removed entries.
func DeleteRecursively(ctx context.Context, fsys afero.Fs, path string, filter Filter) (int, error) {
	if filter == nil {
		if err := fsys.RemoveAll(path); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", path, err)
		}
		return 1, nil
	}

	entries, err := afero.ReadDir(fsys, path)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", path, err)
	}

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		child := filepath.Join(path, e.Name())
		if filter(child, e) {
			if err := fsys.RemoveAll(child); err != nil {
				return removed, fmt.Errorf("failed to delete %s: %w", child, err)
			}
			removed++
			continue
		}
		if e.IsDir() {
			n, err := DeleteRecursively(ctx, fsys, child, filter)
			removed += n
			if err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// LastChanged returns the newest modification time of path and everything
// below it.
//
// With subDirsOnly only directories below path are considered (a directory's
// mtime changes whenever one of its entries changes). A non-zero
// stopWhenYounger ends the walk as soon as an entry newer than it is found;
// use it when only "young enough" matters.
func LastChanged(fsys afero.Fs, path string, subDirsOnly bool, stopWhenYounger time.Time) (time.Time, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to determine last change of %s: %w", path, err)
	}

	w := &lastChangedWalker{fsys: fsys, subDirsOnly: subDirsOnly, stop: stopWhenYounger}
	w.update(info)
	if !w.done && info.IsDir() {
		if err := w.walk(path); err != nil {
			return time.Time{}, err
		}
	}
	return w.newest, nil
}

// LastChangedRelative is LastChanged with the stop condition expressed as an
// age relative to now. A zero age disables the early stop.
func LastChangedRelative(fsys afero.Fs, path string, subDirsOnly bool, stopWhenYoungerThan time.Duration) (time.Time, error) {
	var stop time.Time
	if stopWhenYoungerThan > 0 {
		stop = time.Now().Add(-stopWhenYoungerThan)
	}
	return LastChanged(fsys, path, subDirsOnly, stop)
}

type lastChangedWalker struct {
	fsys        afero.Fs
	subDirsOnly bool
	stop        time.Time
	newest      time.Time
	done        bool
}

func (w *lastChangedWalker) update(info os.FileInfo) {
	if info.ModTime().After(w.newest) {
		w.newest = info.ModTime()
	}
	if !w.stop.IsZero() && w.newest.After(w.stop) {
		w.done = true
	}
}

func (w *lastChangedWalker) walk(dir string) error {
	entries, err := afero.ReadDir(w.fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if w.subDirsOnly && !e.IsDir() {
			continue
		}
		w.update(e)
		if w.done {
			return nil
		}
		if e.IsDir() {
			if err := w.walk(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
			if w.done {
				return nil
			}
		}
	}
	return nil
}

// RelativeFile returns file relative to root, or false if file is not below
// root.
func RelativeFile(root, file string) (string, bool) {
	root, errR := filepath.Abs(root)
	file, errF := filepath.Abs(file)
	if errR != nil || errF != nil {
		return "", false
	}
	prefix := root + string(filepath.Separator)
	if !strings.HasPrefix(file, prefix) {
		return "", false
	}
	return file[len(prefix):], true
}

// ListFiles returns the regular files in dir whose extension (without the dot,
// case-insensitive) is in exts. An empty exts matches every file.
func ListFiles(fsys afero.Fs, dir string, exts []string, recursive bool) ([]string, error) {
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	var files []string
	err := afero.Walk(fsys, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if len(want) == 0 || want[ext] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", dir, err)
	}
	return files, nil
}

// SortByLastModified sorts paths oldest first. Paths that cannot be stat'ed
// sort last, by name.
func SortByLastModified(fsys afero.Fs, paths []string) {
	mtimes := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		if info, err := fsys.Stat(p); err == nil {
			mtimes[p] = info.ModTime()
		}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		ti, okI := mtimes[paths[i]]
		tj, okJ := mtimes[paths[j]]
		switch {
		case okI && okJ:
			if ti.Equal(tj) {
				return paths[i] < paths[j]
			}
			return ti.Before(tj)
		case okI != okJ:
			return okI
		default:
			return paths[i] < paths[j]
		}
	})
}

// Size returns the total size of the regular files at or below path.
// Unreadable entries below path are skipped.
func Size(fsys afero.Fs, path string) (int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	_ = afero.Walk(fsys, path, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, nil
}
