package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrUpstreamUnavailable marks failures that should trigger the breaker
// and cache fallback
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// ErrNotFound is returned by stores when a key has no value
var ErrNotFound = errors.New("not found")

// CircuitOpenError is an immediate rejection while a source breaker is
// open. RetryAt hints when the next probe will be allowed.
type CircuitOpenError struct {
	Source  string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for source %s, retry at %s", e.Source, e.RetryAt.Format(time.RFC3339))
}

// RateLimitedError is an immediate rejection when a source token bucket
// is exhausted. No breaker state change.
type RateLimitedError struct {
	Source string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for source %s", e.Source)
}

// ValidationError means a record was dropped or quarantined, never
// silently accepted
type ValidationError struct {
	RecordKind string
	Errors     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s record: %v", e.RecordKind, e.Errors)
}

// StaleEventError rejects signals arriving after an event is finalized
type StaleEventError struct {
	EventID string
}

func (e *StaleEventError) Error() string {
	return fmt.Sprintf("event %s is finalized, update rejected", e.EventID)
}

// SimulationTimeoutError marks a scenario that exceeded its wall-clock
// budget
type SimulationTimeoutError struct {
	ScenarioID string
	Budget     time.Duration
}

func (e *SimulationTimeoutError) Error() string {
	return fmt.Sprintf("simulation %s exceeded budget %s", e.ScenarioID, e.Budget)
}

// SimulationWorkerError marks a sub-range whose retries were exhausted
type SimulationWorkerError struct {
	ScenarioID string
	Subrange   int
	Attempts   int
	Err        error
}

func (e *SimulationWorkerError) Error() string {
	return fmt.Sprintf("simulation %s sub-range %d failed after %d attempts: %v", e.ScenarioID, e.Subrange, e.Attempts, e.Err)
}

func (e *SimulationWorkerError) Unwrap() error {
	return e.Err
}

// UpstreamError wraps a failed external call with its source
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match UpstreamError against ErrUpstreamUnavailable
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}
