package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries is how many times a transient failure is retried.
	DefaultMaxRetries = 2
	// DefaultRetryDelay is the pause between retries.
	DefaultRetryDelay = 2 * time.Second
)

// transientMarkers are driver error fragments that indicate a dropped or
// busy connection rather than a bad query.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
	"database is locked",
	"server closed the connection",
	"too many connections",
	"i/o timeout",
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// runWithRetry runs fn, retrying transient failures a bounded number of
// times. The pool in database/sql replaces broken connections, so a retry
// runs on a fresh one. Non-transient errors are returned immediately.
func runWithRetry(ctx context.Context, cfg Opts, op string, fn func(ctx context.Context) error) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(cfg.RetryDelay)
	b = backoff.WithMaxRetries(b, cfg.MaxRetries)
	b = backoff.WithContext(b, ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("store query failed, retrying", "op", op, "attempt", attempt, "error", err)
		return err
	}, b)
}
