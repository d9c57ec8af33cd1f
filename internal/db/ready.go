package db

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitForReady pings p with exponential backoff until it responds or timeout expires.
func WaitForReady(ctx context.Context, p Pinger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // bounded by ctx

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = p.Ping(ctx)
		return lastErr
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return fmt.Errorf("timeout waiting for index backend: %w", lastErr)
	}
	return nil
}
