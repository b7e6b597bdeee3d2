package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DistributionType names the supported stochastic variable shapes
type DistributionType string

const (
	DistributionNormal  DistributionType = "normal"
	DistributionUniform DistributionType = "uniform"
	DistributionPoisson DistributionType = "poisson"
)

// Distribution parameterizes one stochastic variable
type Distribution struct {
	Type   DistributionType `json:"type"`
	Mean   float64          `json:"mean,omitempty"`
	StdDev float64          `json:"std_dev,omitempty"`
	Min    float64          `json:"min,omitempty"`
	Max    float64          `json:"max,omitempty"`
	Lambda float64          `json:"lambda,omitempty"`
}

// ScenarioVariable is a named stochastic input with a weight applied to
// its draw when composing the outcome
type ScenarioVariable struct {
	Name         string       `json:"name"`
	Distribution Distribution `json:"distribution"`
	Weight       float64      `json:"weight"`
}

// ConstraintType distinguishes hard rejection from soft penalty
type ConstraintType string

const (
	ConstraintHard ConstraintType = "hard"
	ConstraintSoft ConstraintType = "soft"
)

// Constraint bounds the simulated outcome. Hard constraint violations
// reject the sample; soft ones apply the penalty multiplier.
type Constraint struct {
	Name    string         `json:"name"`
	Type    ConstraintType `json:"type"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Penalty float64        `json:"penalty,omitempty"` // multiplier for soft violations
}

// SimulationScenario is immutable once submitted
type SimulationScenario struct {
	ID          uuid.UUID          `json:"id"`
	EventID     string             `json:"event_id"`
	State       GameState          `json:"state"`
	Iterations  int                `json:"iterations"`
	Variables   []ScenarioVariable `json:"variables"`
	Constraints []Constraint       `json:"constraints,omitempty"`
	Seed        int64              `json:"seed,omitempty"` // 0 means time-seeded
	SubmittedAt time.Time          `json:"submitted_at"`
}

// Validate checks a scenario before it is accepted
func (s *SimulationScenario) Validate(maxIterations int) error {
	if s.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", s.Iterations)
	}
	if s.Iterations > maxIterations {
		return fmt.Errorf("iterations %d exceeds limit %d", s.Iterations, maxIterations)
	}
	if len(s.Variables) == 0 {
		return fmt.Errorf("scenario requires at least one variable")
	}
	for _, v := range s.Variables {
		switch v.Distribution.Type {
		case DistributionNormal:
			if v.Distribution.StdDev < 0 {
				return fmt.Errorf("variable %s: negative std_dev", v.Name)
			}
		case DistributionUniform:
			if v.Distribution.Max < v.Distribution.Min {
				return fmt.Errorf("variable %s: max below min", v.Name)
			}
		case DistributionPoisson:
			if v.Distribution.Lambda <= 0 {
				return fmt.Errorf("variable %s: lambda must be positive", v.Name)
			}
		default:
			return fmt.Errorf("variable %s: unknown distribution %q", v.Name, v.Distribution.Type)
		}
	}
	return nil
}

// ConfidenceInterval is computed via the normal approximation
// (mean ± z * stddev / sqrt(n)) at the stated level
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"`
}

// ContributingFactor ranks a scenario variable by its influence on the
// outcome spread
type ContributingFactor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"` // absolute correlation with outcome
}

// SimulationResult is the append-only outcome record for a scenario
type SimulationResult struct {
	ScenarioID    uuid.UUID            `json:"scenario_id"`
	EventID       string               `json:"event_id"`
	Iterations    int                  `json:"iterations"` // completed iterations
	Requested     int                  `json:"requested"`
	Mean          float64              `json:"mean"`
	Median        float64              `json:"median"`
	StdDev        float64              `json:"std_dev"`
	Percentiles   map[string]float64   `json:"percentiles"`
	Confidence    ConfidenceInterval   `json:"confidence"`
	Factors       []ContributingFactor `json:"factors"`
	HomeWinRate   float64              `json:"home_win_rate"`
	Partial       bool                 `json:"partial"`
	TimedOut      bool                 `json:"timed_out"`
	Cancelled     bool                 `json:"cancelled"`
	ExecutionTime time.Duration        `json:"execution_time"`
	CompletedAt   time.Time            `json:"completed_at"`
}

// SimulationRecord is the persisted row for a completed simulation
type SimulationRecord struct {
	ID          uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	ScenarioID  uuid.UUID      `json:"scenario_id" gorm:"index;type:uuid;not null"`
	EventID     string         `json:"event_id" gorm:"index;size:100"`
	Result      datatypes.JSON `json:"result" gorm:"type:jsonb;not null"`
	Partial     bool           `json:"partial" gorm:"default:false"`
	CompletedAt time.Time      `json:"completed_at" gorm:"not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// TableName returns the table name for SimulationRecord
func (SimulationRecord) TableName() string {
	return "simulation_results"
}
