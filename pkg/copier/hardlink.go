package copier

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/marmos91/dittomover/pkg/process"
)

// HardLinkConfig configures a HardLinkCopier.
type HardLinkConfig struct {
	// Executable, when set, is run as "<Executable> <Args...> <src> <dst>"
	// instead of linking in-process (for example "cp" with Args ["-al"])
	Executable string
	Args       []string

	// Timeout bounds one executable run (0 for none)
	Timeout time.Duration
}

// HardLinkCopier recreates directories and hard-links files. Source and
// destination must be on the same device.
type HardLinkCopier struct {
	config HardLinkConfig
	runner process.Runner
}

// NewHardLinkCopier creates a hard-link copier. A nil runner uses
// process.DefaultRunner.
func NewHardLinkCopier(config HardLinkConfig, runner process.Runner) *HardLinkCopier {
	if runner == nil {
		runner = process.DefaultRunner
	}
	return &HardLinkCopier{config: config, runner: runner}
}

func (c *HardLinkCopier) Copy(ctx context.Context, src, dstDir string) error {
	return c.CopyImmutably(ctx, src, dstDir, "")
}

func (c *HardLinkCopier) CopyContent(ctx context.Context, srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return wrapStatus("hard link", srcDir, false, err)
	}
	for _, e := range entries {
		if err := c.CopyImmutably(ctx, filepath.Join(srcDir, e.Name()), dstDir, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *HardLinkCopier) CopyImmutably(ctx context.Context, src, dstDir, newName string) error {
	if newName == "" {
		newName = filepath.Base(src)
	}
	dst := filepath.Join(dstDir, newName)

	if _, err := os.Lstat(src); err != nil {
		return NewStatus("hard link", src, false, "source does not exist")
	}
	if _, err := os.Lstat(dst); err == nil {
		return NewStatus("hard link", src, false, "destination '%s' already exists", dst)
	}

	if c.config.Executable != "" {
		return c.runExecutable(ctx, src, dst)
	}

	if err := linkTree(ctx, src, dst); err != nil {
		_ = os.RemoveAll(dst)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return wrapStatus("hard link", src, false, err)
	}
	return nil
}

func (c *HardLinkCopier) Check(ctx context.Context) error {
	if c.config.Executable == "" {
		return nil
	}
	if _, err := exec.LookPath(c.config.Executable); err != nil {
		return fmt.Errorf("hard link executable '%s' not usable: %w", c.config.Executable, err)
	}
	return nil
}

func (c *HardLinkCopier) runExecutable(ctx context.Context, src, dst string) error {
	command := append([]string{c.config.Executable}, c.config.Args...)
	command = append(command, src, dst)

	res, err := c.runner.Run(ctx, command, process.Options{Timeout: c.config.Timeout, MergeStderr: true})
	if err != nil {
		return wrapStatus("hard link", src, false, err)
	}
	switch {
	case res.OK():
		return nil
	case res.Status == process.StatusInterrupted:
		return ctx.Err()
	case res.TimedOut():
		_ = os.RemoveAll(dst)
		return NewStatus("hard link", src, true, "%s", res.Error())
	default:
		_ = os.RemoveAll(dst)
		return NewStatus("hard link", src, false, "%s", res.Error())
	}
}

// linkTree mirrors src at dst: directories are created, symlinks copied and
// regular files linked.
func linkTree(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", src, err)
		}
		return os.Symlink(target, dst)

	case info.IsDir():
		if err := os.Mkdir(dst, info.Mode().Perm()|0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dst, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", src, err)
		}
		for _, e := range entries {
			if err := linkTree(ctx, filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set mode of %s: %w", dst, err)
		}
		return os.Chtimes(dst, info.ModTime(), info.ModTime())

	default:
		if err := os.Link(src, dst); err != nil {
			return fmt.Errorf("failed to link %s: %w", src, err)
		}
		return nil
	}
}
