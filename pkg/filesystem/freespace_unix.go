//go:build !windows

package filesystem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpaceKb returns the space available to unprivileged users on the
// filesystem holding path, in kilobytes.
func FreeSpaceKb(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem of %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize) / 1024, nil
}
