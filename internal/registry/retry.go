package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// retryTransient retries op with exponential backoff for transient
// transport errors. Non-transient errors abort immediately; parse and
// validation failures never reach this path.
func retryTransient(ctx context.Context, maxRetries int, delay time.Duration, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		default:
		}

		if attempt > 0 {
			backoff := delay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTransient(err) {
			break
		}
	}

	return lastErr
}

// isTransient reports whether an error is worth retrying: network errors,
// timeouts, and 5xx-class registry responses.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503")
}
