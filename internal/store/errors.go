package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// isBusy reports whether err is one of SQLite's lock contention errors,
// SQLITE_BUSY or "database is locked".
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn up to busyRetries times while it fails with a lock
// error, backing off 100ms, 200ms between attempts.
func withBusyRetry(ctx context.Context, op string, fn func() error) error {
	backoff := retry.WithMaxRetries(busyRetries-1, retry.NewExponential(busyBaseDelay))
	attempt := 0

	err := retry.Do(ctx, backoff, func(context.Context) error {
		attempt++
		err := fn()
		if !isBusy(err) {
			return err
		}
		if attempt < busyRetries {
			slog.Debug("SQLite busy, retrying", "op", op, "attempt", attempt)
		}
		return retry.RetryableError(err)
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case isBusy(err):
		return fmt.Errorf("%s after %d attempts: %w", op, attempt, err)
	}
	return err
}
