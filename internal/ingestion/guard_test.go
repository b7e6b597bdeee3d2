package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

func newTestGuard(threshold int, recovery time.Duration, perMin int) *Guard {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewGuard([]config.SourceConfig{
		{Name: "scores", RequestsPerMin: perMin},
	}, threshold, recovery, log)
}

func TestGuardPassesThrough(t *testing.T) {
	g := newTestGuard(3, time.Minute, 600)

	result, err := g.Execute(context.Background(), "scores", func() (interface{}, error) {
		return "payload", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.Equal(t, gobreaker.StateClosed, g.State("scores"))
}

func TestGuardOpensAfterConsecutiveFailures(t *testing.T) {
	g := newTestGuard(3, time.Minute, 600)
	ctx := context.Background()
	boom := errors.New("upstream down")

	for i := 0; i < 3; i++ {
		_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
			return nil, boom
		})
		var upstream *models.UpstreamError
		require.ErrorAs(t, err, &upstream)
	}

	require.Equal(t, gobreaker.StateOpen, g.State("scores"))

	// While open the call is rejected before fn runs
	called := false
	_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
		called = true
		return nil, nil
	})
	var circuitErr *models.CircuitOpenError
	require.ErrorAs(t, err, &circuitErr)
	assert.False(t, called)
	assert.Equal(t, "scores", circuitErr.Source)
	assert.False(t, circuitErr.RetryAt.IsZero())
}

func TestGuardHalfOpenProbeRecovers(t *testing.T) {
	g := newTestGuard(2, 50*time.Millisecond, 600)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		g.Execute(ctx, "scores", func() (interface{}, error) {
			return nil, errors.New("fail")
		})
	}
	require.Equal(t, gobreaker.StateOpen, g.State("scores"))

	time.Sleep(60 * time.Millisecond)

	// Recovery timeout elapsed, a single probe is let through
	result, err := g.Execute(ctx, "scores", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, gobreaker.StateClosed, g.State("scores"))
}

func TestGuardHalfOpenProbeFailureReopens(t *testing.T) {
	g := newTestGuard(2, 50*time.Millisecond, 600)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		g.Execute(ctx, "scores", func() (interface{}, error) {
			return nil, errors.New("fail")
		})
	}
	time.Sleep(60 * time.Millisecond)

	_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
		return nil, errors.New("still down")
	})
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, g.State("scores"))
}

func TestGuardRateLimitExhaustion(t *testing.T) {
	// Burst of 2 tokens per minute
	g := newTestGuard(10, time.Minute, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}

	called := false
	_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
		called = true
		return nil, nil
	})
	var rateErr *models.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.False(t, called)
	// Rate-limit rejections never count against the breaker
	assert.Equal(t, gobreaker.StateClosed, g.State("scores"))
}

func TestGuardUnknownSourceUnprotected(t *testing.T) {
	g := newTestGuard(3, time.Minute, 600)

	result, err := g.Execute(context.Background(), "unknown", func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestGuardDailyQuotaExhaustion(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	g := NewGuard([]config.SourceConfig{
		{Name: "scores", RequestsPerMin: 600, RequestsPerDay: 2},
	}, 3, time.Minute, log)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
			return "payload", nil
		})
		require.NoError(t, err)
	}

	called := false
	_, err := g.Execute(ctx, "scores", func() (interface{}, error) {
		called = true
		return nil, nil
	})
	var rateErr *models.RateLimitedError
	require.ErrorAs(t, err, &rateErr)
	assert.False(t, called)
	// Quota rejections never count against the breaker
	assert.Equal(t, gobreaker.StateClosed, g.State("scores"))

	// The window resets at the next UTC day
	g.now = func() time.Time { return base.Add(24 * time.Hour) }
	_, err = g.Execute(ctx, "scores", func() (interface{}, error) {
		return "payload", nil
	})
	require.NoError(t, err)
}
