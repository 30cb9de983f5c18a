//go:build !windows

package copier

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittomover/pkg/process"
)

func inode(t *testing.T, path string) uint64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Sys().(*syscall.Stat_t).Ino
}

func TestHardLinkCopier_LinksFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "item")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "data"), []byte("x"), 0644))
	require.NoError(t, os.Symlink("sub/data", filepath.Join(src, "link")))
	dstDir := filepath.Join(root, "extra")
	require.NoError(t, os.Mkdir(dstDir, 0755))

	c := NewHardLinkCopier(HardLinkConfig{}, nil)
	require.NoError(t, c.Check(context.Background()))
	require.NoError(t, c.CopyImmutably(context.Background(), src, dstDir, "copy"))

	assert.Equal(t, inode(t, filepath.Join(src, "sub", "data")), inode(t, filepath.Join(dstDir, "copy", "sub", "data")))
	target, err := os.Readlink(filepath.Join(dstDir, "copy", "link"))
	require.NoError(t, err)
	assert.Equal(t, "sub/data", target)

	err = c.CopyImmutably(context.Background(), src, dstDir, "copy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestHardLinkCopier_CopyContent(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	require.NoError(t, os.Mkdir(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b"), []byte("b"), 0644))
	dst := filepath.Join(root, "dst")
	require.NoError(t, os.Mkdir(dst, 0755))

	require.NoError(t, NewHardLinkCopier(HardLinkConfig{}, nil).CopyContent(context.Background(), src, dst))
	assert.FileExists(t, filepath.Join(dst, "a"))
	assert.FileExists(t, filepath.Join(dst, "b"))
}

func TestHardLinkCopier_Executable(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "item")
	require.NoError(t, os.Mkdir(src, 0755))

	runner := &mockRunner{}
	runner.On("Run", []string{"cp", "-al", src, filepath.Join(root, "item2")}).
		Return(&process.Result{Status: process.StatusComplete}, nil).Once()
	runner.On("Run", []string{"cp", "-al", src, filepath.Join(root, "item3")}).
		Return(&process.Result{Status: process.StatusComplete, ExitValue: 1}, nil).Once()

	c := NewHardLinkCopier(HardLinkConfig{Executable: "cp", Args: []string{"-al"}}, runner)
	require.NoError(t, c.CopyImmutably(context.Background(), src, root, "item2"))

	err := c.CopyImmutably(context.Background(), src, root, "item3")
	require.Error(t, err)
	assert.False(t, IsRetriable(err))
	runner.AssertExpectations(t)
}
