package mover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/metrics"
	"github.com/marmos91/dittomover/pkg/scanner"
)

// bufferHandler prepares completed items and hands them to the outgoing
// queue.
type bufferHandler struct {
	m *Mover
}

// MayHandle skips items the incoming stage is still completing.
func (h *bufferHandler) MayHandle(ctx context.Context, item scanner.StoreItem) bool {
	_, busy := h.m.pending.Load(item.Name)
	return !busy
}

func (h *bufferHandler) Handle(ctx context.Context, item scanner.StoreItem) error {
	m := h.m
	path := m.bufferStore.Path(item)

	// ========================================================================
	// Step 1: Cleansing
	// ========================================================================

	if re := m.compiled.cleansing; re != nil {
		info, err := m.fs.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat '%s': %w", path, err)
		}
		if !info.IsDir() {
			if re.MatchString(item.Name) {
				m.log.Infof("Cleansing '%s'", item.Name)
				return m.fs.RemoveAll(path)
			}
		} else {
			n, err := filesystem.DeleteRecursively(ctx, m.fs, path, func(_ string, info os.FileInfo) bool {
				return re.MatchString(info.Name())
			})
			if n > 0 {
				m.log.Infof("Cleansed %d entries from '%s'", n, item.Name)
			}
			if err != nil {
				return fmt.Errorf("failed to cleanse '%s': %w", item.Name, err)
			}
		}
	}

	// ========================================================================
	// Step 2: Manual intervention
	// ========================================================================

	if re := m.compiled.manualIntervention; re != nil && re.MatchString(item.Name) {
		return m.toManualIntervention(path, "name matches the manual intervention regex")
	}

	// ========================================================================
	// Step 3: Extra copy
	// ========================================================================

	if m.config.ExtraCopyDir != "" {
		if err := m.extraCopy(ctx, path, item.Name); err != nil {
			return err
		}
	}

	// ========================================================================
	// Step 4: Hand over to the outgoing queue
	// ========================================================================

	ready := filepath.Join(m.config.readyDir(), item.Name)
	if err := filesystem.Move(m.fs, path, ready); err != nil {
		return fmt.Errorf("failed to move '%s' to %s: %w", item.Name, ReadyToMoveDir, err)
	}
	if err := m.outgoing.Handle(ctx, item.Name); err != nil {
		// picked up again by Start
		m.log.Warnf("Cannot queue '%s' for now, it stays in %s: %v", item.Name, ReadyToMoveDir, err)
		return nil
	}
	m.log.Debugf("Queued '%s' for transfer", item.Name)
	return nil
}

func (m *Mover) extraCopy(ctx context.Context, path, name string) error {
	start := m.now()
	dst := filepath.Join(m.config.ExtraCopyDir, name)
	if filesystem.Exists(m.fs, dst) {
		m.log.Infof("Replacing existing extra copy of '%s'", name)
		if err := m.fs.RemoveAll(dst); err != nil {
			return fmt.Errorf("failed to remove old extra copy %s: %w", dst, err)
		}
	}

	err := withRetries(ctx, m.config.MaxRetries, m.config.FailureInterval,
		func() error { return m.extraCopier.CopyImmutably(ctx, path, m.config.ExtraCopyDir, "") },
		func(attempt int, err error) {
			m.metrics.RecordTransfer(metrics.StageExtra, metrics.StatusRetry, 0, m.now().Sub(start))
			m.log.Warnf("Extra copy of '%s' failed (attempt %d): %v", name, attempt, err)
			_ = m.fs.RemoveAll(dst)
		})
	if err != nil {
		m.metrics.RecordTransfer(metrics.StageExtra, metrics.StatusFailure, 0, m.now().Sub(start))
		return fmt.Errorf("failed to make extra copy of '%s': %w", name, err)
	}
	m.metrics.RecordTransfer(metrics.StageExtra, metrics.StatusSuccess, treeSize(m.fs, dst), m.now().Sub(start))
	return nil
}
