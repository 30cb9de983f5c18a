package mover

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/docker/go-units"

	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/metrics"
)

// transfer is the outgoing queue's delegate: it puts one ready-to-move item
// to the target, marks it finished and deletes the buffered copy.
func (m *Mover) transfer(ctx context.Context, name string) error {
	path := filepath.Join(m.config.readyDir(), name)
	if !filesystem.Exists(m.fs, path) {
		m.log.Warnf("Queued item '%s' is gone from %s, skipping", name, ReadyToMoveDir)
		return nil
	}
	start := m.now()
	size := treeSize(m.fs, path)

	// ========================================================================
	// Step 1: Drop leftovers of an interrupted transfer
	// ========================================================================

	if exists, err := m.target.Exists(ctx, name); err != nil {
		m.log.Debugf("Cannot check target for '%s': %v", name, err)
	} else if exists {
		m.log.Infof("Removing incomplete '%s' from the target", name)
		if err := m.target.Remove(ctx, name); err != nil {
			m.log.Warnf("Failed to remove incomplete '%s' from the target: %v", name, err)
		}
	}

	// ========================================================================
	// Step 2: Put and mark
	// ========================================================================

	onRetry := func(attempt int, err error) {
		m.metrics.RecordTransfer(metrics.StageOutgoing, metrics.StatusRetry, 0, m.now().Sub(start))
		m.log.Warnf("Transfer of '%s' failed (attempt %d), retrying in %s: %v",
			name, attempt, m.config.FailureInterval, err)
	}
	err := withRetries(ctx, m.config.MaxRetries, m.config.FailureInterval,
		func() error { return m.target.Put(ctx, path, name) }, onRetry)
	if err == nil {
		err = withRetries(ctx, m.config.MaxRetries, m.config.FailureInterval,
			func() error { return m.target.MarkFinished(ctx, name) }, onRetry)
	}
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		m.metrics.RecordTransfer(metrics.StageOutgoing, metrics.StatusFailure, 0, m.now().Sub(start))
		if merr := m.toManualIntervention(path, "transfer failed"); merr != nil {
			m.log.Errorf("%v", merr)
		}
		return fmt.Errorf("failed to transfer '%s': %w", name, err)
	}

	// ========================================================================
	// Step 3: Release the buffered copy
	// ========================================================================

	if err := m.fs.RemoveAll(path); err != nil {
		m.log.Errorf("Transferred '%s' but failed to remove it from the buffer: %v", name, err)
	}
	m.metrics.RecordTransfer(metrics.StageOutgoing, metrics.StatusSuccess, size, m.now().Sub(start))
	m.log.Infof("Transferred '%s' (%s) in %s", name, units.HumanSize(float64(size)), m.now().Sub(start))
	return nil
}
