package filesystem

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/docker/go-units"

	"github.com/marmos91/dittomover/internal/logger"
)

// HighwaterWatcher reports whether the free space on a directory's
// filesystem has dropped below a mark. Transitions are logged once each way.
//
// Thread safety: safe for concurrent use.
type HighwaterWatcher struct {
	path   string
	markKb int64

	// freeSpace is replaceable in tests
	freeSpace func(path string) (int64, error)

	mu    sync.Mutex
	below bool
}

// NewHighwaterWatcher watches path. A markKb <= 0 disables the watcher.
func NewHighwaterWatcher(path string, markKb int64) *HighwaterWatcher {
	return &HighwaterWatcher{path: path, markKb: markKb, freeSpace: FreeSpaceKb}
}

// Path returns the watched directory.
func (w *HighwaterWatcher) Path() string {
	return w.path
}

// MarkKb returns the configured mark.
func (w *HighwaterWatcher) MarkKb() int64 {
	return w.markKb
}

// IsBelow reports whether free space is below the mark. A failing free-space
// query counts as "not below" and is logged.
func (w *HighwaterWatcher) IsBelow() bool {
	if w == nil || w.markKb <= 0 {
		return false
	}

	free, err := w.freeSpace(w.path)
	if err != nil {
		logger.Warn("Cannot determine free space of '%s': %v", w.path, err)
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	below := free < w.markKb
	if below != w.below {
		if below {
			logger.Error("The amount of available space on '%s' is lower than the specified high water mark (%s < %s).",
				w.path, units.HumanSize(float64(free*1024)), units.HumanSize(float64(w.markKb*1024)))
		} else {
			logger.Info("The amount of available space on '%s' is again sufficient (%s >= %s).",
				w.path, units.HumanSize(float64(free*1024)), units.HumanSize(float64(w.markKb*1024)))
		}
		w.below = below
	}
	return below
}

// ParseDirWithHighwater splits the "dir>markKb" syntax. A missing mark yields
// 0 (disabled).
func ParseDirWithHighwater(value string) (string, int64, error) {
	dir, mark, found := strings.Cut(value, ">")
	dir = strings.TrimSpace(dir)
	if !found {
		return dir, 0, nil
	}
	kb, err := strconv.ParseInt(strings.TrimSpace(mark), 10, 64)
	if err != nil || kb < 0 {
		return "", 0, fmt.Errorf("invalid high water mark in '%s'", value)
	}
	return dir, kb, nil
}
