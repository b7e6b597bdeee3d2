package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/metrics"
)

// ContentClass selects the TTL policy for a cached value
type ContentClass string

const (
	ClassProbabilities ContentClass = "probabilities"
	ClassGameState     ContentClass = "game_state"
	ClassOdds          ContentClass = "odds"
	ClassWeather       ContentClass = "weather"
	ClassRankings      ContentClass = "rankings"
)

// Policy maps content classes to their freshness windows
type Policy map[ContentClass]time.Duration

// DefaultPolicy gives live data a short shelf life and static data a
// long one
func DefaultPolicy() Policy {
	return Policy{
		ClassProbabilities: 30 * time.Second,
		ClassGameState:     60 * time.Second,
		ClassOdds:          2 * time.Minute,
		ClassWeather:       15 * time.Minute,
		ClassRankings:      24 * time.Hour,
	}
}

// Meta describes a cache read. Stale is never silently dropped: a hit
// past its TTL is served with Stale=true and the original fetch time.
type Meta struct {
	Stale     bool          `json:"stale"`
	FetchedAt time.Time     `json:"fetched_at"`
	Age       time.Duration `json:"age"`
}

// Service is the TTL-keyed cache layer in front of the probability
// pipeline
type Service struct {
	store  Store
	policy Policy
	logger *logrus.Logger
	now    func() time.Time
}

func NewService(store Store, policy Policy, logger *logrus.Logger) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{
		store:  store,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Key builds the canonical (content-class, content-key) cache key
func Key(class ContentClass, key string) string {
	return fmt.Sprintf("%s:%s", class, key)
}

// Set stores a value under the class's TTL policy
func (s *Service) Set(ctx context.Context, class ContentClass, key string, value interface{}) error {
	ttl, ok := s.policy[class]
	if !ok {
		return fmt.Errorf("no TTL policy for content class %q", class)
	}
	return s.SetWithTTL(ctx, class, key, value, ttl)
}

// SetWithTTL stores a value with an explicit freshness window
func (s *Service) SetWithTTL(ctx context.Context, class ContentClass, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	entry := &Entry{
		Value:     data,
		FetchedAt: s.now().UTC(),
		TTL:       ttl,
	}

	if err := s.store.Set(ctx, Key(class, key), entry); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"component": "cache",
		"class":     class,
		"key":       key,
		"ttl":       ttl,
	}).Debug("Cached value")

	return nil
}

// Get reads a value and reports its freshness. Expired entries are
// returned tagged stale rather than dropped, so callers can fall back
// to last-known-good data when upstream is unavailable.
func (s *Service) Get(ctx context.Context, class ContentClass, key string, dest interface{}) (*Meta, error) {
	entry, err := s.store.Get(ctx, Key(class, key))
	if err != nil {
		metrics.CacheHits.WithLabelValues(string(class), "miss").Inc()
		return nil, err
	}

	if err := json.Unmarshal(entry.Value, dest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}

	age := s.now().Sub(entry.FetchedAt)
	meta := &Meta{
		Stale:     age > entry.TTL,
		FetchedAt: entry.FetchedAt,
		Age:       age,
	}

	freshness := "fresh"
	if meta.Stale {
		freshness = "stale"
	}
	metrics.CacheHits.WithLabelValues(string(class), freshness).Inc()

	return meta, nil
}

// Invalidate removes entries matching the glob pattern, e.g.
// "probabilities:event-123*". Returns the number of removed entries.
func (s *Service) Invalidate(ctx context.Context, pattern string) (int, error) {
	deleted, err := s.store.DeleteMatching(ctx, pattern)
	if err != nil {
		return deleted, err
	}

	s.logger.WithFields(logrus.Fields{
		"component": "cache",
		"pattern":   pattern,
		"deleted":   deleted,
	}).Debug("Invalidated cache entries")

	return deleted, nil
}
