package simulation

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/metrics"
)

// DemandLevel classifies queue pressure for the scaling policy
type DemandLevel string

const (
	DemandLow      DemandLevel = "low"
	DemandMedium   DemandLevel = "medium"
	DemandHigh     DemandLevel = "high"
	DemandCritical DemandLevel = "critical"
)

// classifyDemand buckets the scenario queue depth
func classifyDemand(queueDepth int) DemandLevel {
	switch {
	case queueDepth >= 32:
		return DemandCritical
	case queueDepth >= 12:
		return DemandHigh
	case queueDepth >= 4:
		return DemandMedium
	default:
		return DemandLow
	}
}

// targetWorkers maps a demand level to a pool size within configured
// bounds
func targetWorkers(level DemandLevel, baseWorkers, maxWorkers int) int {
	var target int
	switch level {
	case DemandCritical:
		target = maxWorkers
	case DemandHigh:
		target = baseWorkers * 4
	case DemandMedium:
		target = baseWorkers * 2
	default:
		target = baseWorkers
	}
	if target > maxWorkers {
		target = maxWorkers
	}
	if target < 1 {
		target = 1
	}
	return target
}

// ScaleComputeResources adjusts the worker pool from queue depth.
// Decisions inside the cooldown window are skipped to avoid thrashing.
func (s *Service) ScaleComputeResources(queueDepth int) DemandLevel {
	level := classifyDemand(queueDepth)
	target := targetWorkers(level, s.cfg.Workers, s.cfg.MaxWorkers)

	s.mu.Lock()
	defer s.mu.Unlock()

	if target == s.poolSize {
		return level
	}
	if s.now().Sub(s.lastScale) < s.cfg.ScaleCooldown {
		return level
	}

	s.logger.WithFields(logrus.Fields{
		"component":   "simulation",
		"demand":      level,
		"queue_depth": queueDepth,
		"from":        s.poolSize,
		"to":          target,
	}).Info("Scaling simulation worker pool")

	s.poolSize = target
	s.lastScale = s.now()
	metrics.SimulationWorkers.Set(float64(target))
	return level
}

// PoolSize returns the current worker pool size
func (s *Service) PoolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poolSize
}

// lastScaleFor exposes the cooldown anchor for tests
func (s *Service) setLastScale(t time.Time) {
	s.mu.Lock()
	s.lastScale = t
	s.mu.Unlock()
}
