package mover

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/dittomover/pkg/copier"
)

// retriable reports whether a failed transfer should be tried again. Copier
// statuses decide for themselves; other errors (from remote targets) are
// assumed to be transient.
func retriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *copier.Status
	if errors.As(err, &status) {
		return status.Retriable()
	}
	return true
}

// withRetries runs fn until it succeeds, fails with a non-retriable error,
// or maxRetries retries are used up, waiting interval between attempts.
// onRetry is called before each wait.
//
// The waits run on the caller's goroutine. In the incoming and buffer stages
// that is the scanner pass, so one item that keeps failing holds back the
// rest of its pass for up to maxRetries*interval. Stopping the scanner
// cancels ctx and ends the wait.
func withRetries(ctx context.Context, maxRetries int, interval time.Duration, fn func() error, onRetry func(attempt int, err error)) error {
	err := fn()
	for attempt := 1; err != nil && attempt <= maxRetries && retriable(err); attempt++ {
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		err = fn()
	}
	return err
}
