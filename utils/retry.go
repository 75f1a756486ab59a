package utils

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Connect calls dial until it succeeds or attempts run out, waiting delay
// between tries.
func Connect[T any](ctx context.Context, name string, attempts uint64, delay time.Duration, dial func() (T, error)) (T, error) {
	var conn T
	if attempts == 0 {
		attempts = 1
	}

	attempt := 0
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := dial()
		if err != nil {
			slog.Warn("dependency connection failed", "dependency", name, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}
