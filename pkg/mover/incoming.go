package mover

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittomover/pkg/filesystem"
	"github.com/marmos91/dittomover/pkg/metrics"
	"github.com/marmos91/dittomover/pkg/process"
	"github.com/marmos91/dittomover/pkg/scanner"
)

// incomingHandler moves quiet items from the incoming directory into the
// buffer.
type incomingHandler struct {
	m *Mover
}

// MayHandle reports whether item has been quiet for the quiet period.
func (h *incomingHandler) MayHandle(ctx context.Context, item scanner.StoreItem) bool {
	m := h.m
	if m.config.QuietPeriod <= 0 {
		return true
	}
	threshold := m.now().Add(-m.config.QuietPeriod)
	last, err := m.incomingStore.LastChanged(item, threshold)
	if err != nil {
		m.log.Debugf("Cannot determine last change of '%s': %v", item.Name, err)
		return false
	}
	if last.After(threshold) {
		m.log.Debugf("'%s' changed at %s, still within the quiet period", item.Name, last.Format(time.RFC3339))
		return false
	}
	return true
}

func (h *incomingHandler) Handle(ctx context.Context, item scanner.StoreItem) error {
	m := h.m
	start := m.now()
	src := m.incomingStore.Path(item)
	inProgress := filepath.Join(m.config.inProgressDir(), item.Name)

	// ========================================================================
	// Step 1: Copy into copy-in-progress
	// ========================================================================

	if filesystem.Exists(m.fs, inProgress) {
		m.log.Infof("Removing stale copy of '%s' from %s", item.Name, CopyInProgressDir)
		if err := m.fs.RemoveAll(inProgress); err != nil {
			return fmt.Errorf("failed to remove stale copy %s: %w", inProgress, err)
		}
	}

	err := withRetries(ctx, m.config.MaxRetries, m.config.FailureInterval,
		func() error { return m.copier.Copy(ctx, src, m.config.inProgressDir()) },
		func(attempt int, err error) {
			m.metrics.RecordTransfer(metrics.StageIncoming, metrics.StatusRetry, 0, m.now().Sub(start))
			m.log.Warnf("Copying '%s' failed (attempt %d), retrying in %s: %v",
				item.Name, attempt, m.config.FailureInterval, err)
			_ = m.fs.RemoveAll(inProgress)
		})
	if err != nil {
		m.metrics.RecordTransfer(metrics.StageIncoming, metrics.StatusFailure, 0, m.now().Sub(start))
		_ = m.fs.RemoveAll(inProgress)
		return fmt.Errorf("failed to copy '%s' to the buffer: %w", item.Name, err)
	}
	size := treeSize(m.fs, inProgress)

	// ========================================================================
	// Step 2: Remove the original
	// ========================================================================

	if err := m.fs.RemoveAll(src); err != nil {
		return fmt.Errorf("failed to remove '%s' from incoming: %w", src, err)
	}

	// ========================================================================
	// Step 3: Complete and run the data-completed script
	// ========================================================================

	completed, err := m.complete(inProgress, item.Name)
	if err != nil {
		return err
	}
	m.metrics.RecordTransfer(metrics.StageIncoming, metrics.StatusSuccess, size, m.now().Sub(start))
	m.log.Infof("Moved '%s' to the buffer as '%s'", item.Name, filepath.Base(completed))
	return nil
}

// complete moves an item from copy-in-progress to copy-complete under its
// prefixed name and runs the data-completed script. The buffer stage leaves
// the item alone until this returns.
func (m *Mover) complete(inProgress, name string) (string, error) {
	prefix, err := m.compiled.prefixFor(m.now())
	if err != nil {
		return "", fmt.Errorf("failed to render prefix for '%s': %w", name, err)
	}
	finalName := prefix + name
	dst := filepath.Join(m.config.completeDir(), finalName)

	m.pending.Store(finalName, struct{}{})
	defer m.pending.Delete(finalName)

	if err := filesystem.Move(m.fs, inProgress, dst); err != nil {
		return "", fmt.Errorf("failed to move '%s' to %s: %w", name, CopyCompleteDir, err)
	}

	if m.config.DataCompletedScript != "" {
		if reason := m.runDataCompletedScript(dst); reason != "" {
			if err := m.toManualIntervention(dst, reason); err != nil {
				return dst, err
			}
		}
	}
	return dst, nil
}

// runDataCompletedScript runs the script with path as last argument and
// returns a failure description, or "" on success.
func (m *Mover) runDataCompletedScript(path string) string {
	command := append(strings.Fields(m.config.DataCompletedScript), path)
	res, err := m.runner.Run(context.Background(), command, process.Options{
		Timeout:     m.config.DataCompletedScriptTimeout,
		MergeStderr: true,
	})
	if err != nil {
		m.metrics.RecordScriptRun(metrics.StatusFailure)
		return fmt.Sprintf("data completed script could not be started: %v", err)
	}
	if !res.OK() {
		m.metrics.RecordScriptRun(metrics.StatusFailure)
		for _, line := range res.Output {
			m.log.Warnf("[P%d] %s", res.Number, line)
		}
		return fmt.Sprintf("data completed script failed: %s", res.Error())
	}
	m.metrics.RecordScriptRun(metrics.StatusSuccess)
	m.log.Debugf("Data completed script succeeded for '%s' in %s", filepath.Base(path), res.Duration)
	return ""
}
