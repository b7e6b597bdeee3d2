package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/statline-dev/liveline/internal/metrics"
	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

// Guard wraps every external data-source call with a per-source circuit
// breaker, token-bucket rate limiter, and daily quota. Rejections
// happen before any upstream call is attempted; retries are the
// caller's responsibility.
type Guard struct {
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
	daily    map[string]*dailyQuota
	retryAt  map[string]time.Time
	mu       sync.RWMutex
	logger   *logrus.Logger

	now func() time.Time
}

// dailyQuota counts calls against a per-day cap. The window resets at
// UTC midnight.
type dailyQuota struct {
	limit       int
	count       int
	windowStart time.Time
}

// NewGuard builds breakers and token buckets for the configured sources.
// The breaker opens after threshold consecutive failures and probes
// again after the recovery timeout.
func NewGuard(sources []config.SourceConfig, threshold int, recoveryTimeout time.Duration, logger *logrus.Logger) *Guard {
	g := &Guard{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
		daily:    make(map[string]*dailyQuota),
		retryAt:  make(map[string]time.Time),
		logger:   logger,
		now:      time.Now,
	}

	for _, src := range sources {
		name := src.Name
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: 1, // single probe while half-open
			Timeout:     recoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				if to == gobreaker.StateOpen {
					g.mu.Lock()
					g.retryAt[name] = time.Now().Add(recoveryTimeout)
					g.mu.Unlock()
				}
				logger.WithFields(logrus.Fields{
					"component": "circuit_breaker",
					"source":    name,
					"from":      from.String(),
					"to":        to.String(),
				}).Info("Circuit breaker state changed")
			},
		}
		g.breakers[name] = gobreaker.NewCircuitBreaker(settings)

		perMin := src.RequestsPerMin
		if perMin <= 0 {
			perMin = 60
		}
		g.limiters[name] = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)

		if src.RequestsPerDay > 0 {
			g.daily[name] = &dailyQuota{limit: src.RequestsPerDay}
		}
	}

	return g
}

// allowDaily charges one call against the source's daily quota, if one
// is configured
func (g *Guard) allowDaily(source string) bool {
	quota, ok := g.daily[source]
	if !ok {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	day := g.now().UTC().Truncate(24 * time.Hour)
	if !quota.windowStart.Equal(day) {
		quota.windowStart = day
		quota.count = 0
	}
	if quota.count >= quota.limit {
		return false
	}
	quota.count++
	return true
}

// Execute runs fn behind the source's quotas and circuit breaker. It
// rejects with RateLimitedError when the daily quota or token bucket is
// exhausted and CircuitOpenError while the breaker is open, in all
// cases without calling upstream.
func (g *Guard) Execute(ctx context.Context, source string, fn func() (interface{}, error)) (interface{}, error) {
	limiter, hasLimiter := g.limiters[source]
	breaker, hasBreaker := g.breakers[source]
	if !hasLimiter || !hasBreaker {
		g.logger.WithFields(logrus.Fields{
			"component": "circuit_breaker",
			"source":    source,
		}).Warn("No guard configured for source, executing without protection")
		return fn()
	}

	if !g.allowDaily(source) {
		metrics.BreakerRejections.WithLabelValues(source, "daily_quota").Inc()
		return nil, &models.RateLimitedError{Source: source}
	}

	if !limiter.Allow() {
		metrics.BreakerRejections.WithLabelValues(source, "rate_limited").Inc()
		return nil, &models.RateLimitedError{Source: source}
	}

	result, err := breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRejections.WithLabelValues(source, "circuit_open").Inc()
			g.mu.RLock()
			retryAt := g.retryAt[source]
			g.mu.RUnlock()
			return nil, &models.CircuitOpenError{Source: source, RetryAt: retryAt}
		}
		return nil, &models.UpstreamError{Source: source, Err: err}
	}
	return result, nil
}

// State returns the breaker state for a source
func (g *Guard) State(source string) gobreaker.State {
	if breaker, exists := g.breakers[source]; exists {
		return breaker.State()
	}
	return gobreaker.StateClosed
}

// Counts returns the breaker counters for a source
func (g *Guard) Counts(source string) gobreaker.Counts {
	if breaker, exists := g.breakers[source]; exists {
		return breaker.Counts()
	}
	return gobreaker.Counts{}
}
