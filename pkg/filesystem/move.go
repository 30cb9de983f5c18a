package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// MoveTo moves src into dstDir keeping its name and returns the new path.
func MoveTo(fsys afero.Fs, src, dstDir string) (string, error) {
	dst := filepath.Join(dstDir, filepath.Base(src))
	if err := Move(fsys, src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Move renames src to dst. When the rename fails (typically across devices)
// the tree is copied and the source removed afterwards. An existing dst is
// an error.
func Move(fsys afero.Fs, src, dst string) error {
	if Exists(fsys, dst) {
		return fmt.Errorf("failed to move %s: destination %s already exists", src, dst)
	}
	if err := fsys.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyTree(fsys, src, dst); err != nil {
		_ = fsys.RemoveAll(dst)
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	if err := fsys.RemoveAll(src); err != nil {
		return fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}
	return nil
}

// CopyFile copies a regular file, preserving mode and modification time.
func CopyFile(fsys afero.Fs, src, dst string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	return copyFile(fsys, src, dst, info)
}

func copyFile(fsys afero.Fs, src, dst string, info os.FileInfo) error {
	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return fsys.Chtimes(dst, info.ModTime(), info.ModTime())
}

// CopyTree copies src (file or directory) to dst.
func CopyTree(fsys afero.Fs, src, dst string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return copyFile(fsys, src, dst, info)
	}

	if err := fsys.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	entries, err := afero.ReadDir(fsys, src)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", src, err)
	}
	for _, e := range entries {
		if err := CopyTree(fsys, filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return fsys.Chtimes(dst, info.ModTime(), info.ModTime())
}
