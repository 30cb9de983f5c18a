//go:build windows

package filesystem

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// FreeSpaceKb returns the space available to the caller on the volume holding
// path, in kilobytes.
func FreeSpaceKb(path string) (int64, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return 0, fmt.Errorf("failed to query free space of %s: %w", path, err)
	}
	return int64(avail / 1024), nil
}
