package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-dev/liveline/internal/models"
)

func TestWithRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 5, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhaustsRetries(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 2, func() error {
		attempts++
		return errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial call plus two retries
}

func TestWithRetryCircuitOpenIsPermanent(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 5, func() error {
		attempts++
		return &models.CircuitOpenError{Source: "scores", RetryAt: time.Now().Add(time.Minute)}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var circuitErr *models.CircuitOpenError
	assert.ErrorAs(t, err, &circuitErr)
}

func TestWithRetryRateLimitedIsPermanent(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 5, func() error {
		attempts++
		return &models.RateLimitedError{Source: "odds"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, 5, func() error {
		return errors.New("transient")
	})
	assert.Error(t, err)
}
