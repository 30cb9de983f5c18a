package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/internal/ratelimiter"
	"github.com/marmos91/dittomover/pkg/filesystem"
)

// ErrInactive is the cancellation cause when a copy stalls for longer than
// the inactivity period.
var ErrInactive = errors.New("no progress within the inactivity period")

// NativeConfig configures a NativeCopier.
type NativeConfig struct {
	// Limiter throttles the bytes read from the source (nil for no limit)
	Limiter *ratelimiter.RateLimiter

	// InactivityPeriod aborts a copy that moves no data for this long (0 disables)
	InactivityPeriod time.Duration

	// Overwrite replaces an existing destination instead of failing
	Overwrite bool
}

// NativeCopier copies trees with plain reads and writes.
//
// Every copy is written under a temporary name in the destination directory
// and renamed once complete, so a crash never leaves a partial item under
// its final name. Modes and modification times are preserved.
type NativeCopier struct {
	fs     afero.Fs
	config NativeConfig
}

// NewNativeCopier creates a copier on fsys.
func NewNativeCopier(fsys afero.Fs, config NativeConfig) *NativeCopier {
	return &NativeCopier{fs: fsys, config: config}
}

func (c *NativeCopier) Copy(ctx context.Context, src, dstDir string) error {
	return c.copyAs(ctx, "copy", src, dstDir, filepath.Base(src))
}

func (c *NativeCopier) CopyContent(ctx context.Context, srcDir, dstDir string) error {
	entries, err := afero.ReadDir(c.fs, srcDir)
	if err != nil {
		return wrapStatus("copy", srcDir, false, err)
	}
	for _, e := range entries {
		if err := c.copyAs(ctx, "copy", filepath.Join(srcDir, e.Name()), dstDir, e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (c *NativeCopier) CopyImmutably(ctx context.Context, src, dstDir, newName string) error {
	if newName == "" {
		newName = filepath.Base(src)
	}
	return c.copyAs(ctx, "immutable copy", src, dstDir, newName)
}

func (c *NativeCopier) Check(ctx context.Context) error {
	return nil
}

func (c *NativeCopier) copyAs(ctx context.Context, op, src, dstDir, name string) error {
	if !filesystem.Exists(c.fs, src) {
		return NewStatus(op, src, false, "source does not exist")
	}

	final := filepath.Join(dstDir, name)
	if filesystem.Exists(c.fs, final) {
		if !c.config.Overwrite {
			return NewStatus(op, src, false, "destination '%s' already exists", final)
		}
		if err := c.fs.RemoveAll(final); err != nil {
			return wrapStatus(op, src, true, fmt.Errorf("failed to remove existing %s: %w", final, err))
		}
	}

	tmp := filepath.Join(dstDir, TempPrefix+uuid.NewString()+TempSuffix)

	copyCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var moved atomic.Int64
	go watchInactivity(copyCtx, c.config.InactivityPeriod, &moved, cancel)

	start := time.Now()
	if err := c.copyTree(copyCtx, &moved, src, tmp); err != nil {
		_ = c.fs.RemoveAll(tmp)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cause := context.Cause(copyCtx); errors.Is(cause, ErrInactive) {
			return wrapStatus(op, src, true, cause)
		}
		return wrapStatus(op, src, true, err)
	}

	if err := c.fs.Rename(tmp, final); err != nil {
		_ = c.fs.RemoveAll(tmp)
		return wrapStatus(op, src, true, fmt.Errorf("failed to rename %s: %w", tmp, err))
	}

	logger.Debug("Copied '%s' to '%s' in %s", src, final, time.Since(start))
	return nil
}

func (c *NativeCopier) copyTree(ctx context.Context, moved *atomic.Int64, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := c.fs.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	moved.Add(1)

	if !info.IsDir() {
		return c.copyFile(ctx, moved, src, dst, info)
	}

	if err := c.fs.MkdirAll(dst, info.Mode().Perm()|0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	entries, err := afero.ReadDir(c.fs, src)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", src, err)
	}
	for _, e := range entries {
		if err := c.copyTree(ctx, moved, filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}

	if err := c.fs.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set mode of %s: %w", dst, err)
	}
	return c.fs.Chtimes(dst, info.ModTime(), info.ModTime())
}

func (c *NativeCopier) copyFile(ctx context.Context, moved *atomic.Int64, src, dst string, info os.FileInfo) error {
	in, err := c.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := c.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	reader := c.config.Limiter.Reader(ctx, &progressReader{ctx: ctx, src: in, moved: moved})
	if _, err := io.Copy(out, reader); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return c.fs.Chtimes(dst, info.ModTime(), info.ModTime())
}

// progressReader counts bytes and stops reading once ctx is done.
type progressReader struct {
	ctx   context.Context
	src   io.Reader
	moved *atomic.Int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.src.Read(p)
	r.moved.Add(int64(n))
	return n, err
}

// watchInactivity cancels with ErrInactive when moved does not change for a
// whole period.
func watchInactivity(ctx context.Context, period time.Duration, moved *atomic.Int64, cancel context.CancelCauseFunc) {
	if period <= 0 {
		return
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := moved.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := moved.Load()
			if n == last {
				logger.Warn("Copy made no progress for %s, aborting", period)
				cancel(ErrInactive)
				return
			}
			last = n
		}
	}
}
