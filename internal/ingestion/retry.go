package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/statline-dev/liveline/internal/models"
)

// WithRetry runs fn with exponential backoff plus jitter. Breaker and
// rate-limit rejections are not retried here: the breaker already
// gates recovery timing, and a drained token bucket needs the caller
// to back off past its refill window.
func WithRetry(ctx context.Context, maxRetries int, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.RandomizationFactor = 0.5

	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var circuitOpen *models.CircuitOpenError
		var rateLimited *models.RateLimitedError
		if errors.As(err, &circuitOpen) || errors.As(err, &rateLimited) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries)), ctx)
	return backoff.Retry(wrapped, policy)
}
