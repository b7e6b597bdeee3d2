package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WinProbability holds both sides of the moneyline estimate. Home and
// away must sum to 1 within 1e-6.
type WinProbability struct {
	Home float64 `json:"home"`
	Away float64 `json:"away"`
}

// Valid checks the numeric contract for a win probability pair
func (w WinProbability) Valid() bool {
	if w.Home < 0 || w.Home > 1 || w.Away < 0 || w.Away > 1 {
		return false
	}
	return math.Abs(w.Home+w.Away-1) <= 1e-6
}

// SpreadProbability is the estimate that the home side covers the line
type SpreadProbability struct {
	Line        float64 `json:"line"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
}

// TotalProbability is the over/under estimate against the total line
type TotalProbability struct {
	Line       float64 `json:"line"`
	Over       float64 `json:"over"`
	Under      float64 `json:"under"`
	Confidence float64 `json:"confidence"`
}

// PlayerProp is a per-player proposition estimate
type PlayerProp struct {
	PlayerID    string  `json:"player_id"`
	Market      string  `json:"market"`
	Line        float64 `json:"line"`
	Probability float64 `json:"probability"`
}

// GameProbabilities is an immutable derived snapshot. Updates supersede
// rather than mutate, so snapshots form an ordered history per event.
type GameProbabilities struct {
	ID        uuid.UUID         `json:"id"`
	EventID   string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	Win       WinProbability    `json:"win"`
	Spread    SpreadProbability `json:"spread"`
	Total     TotalProbability  `json:"total"`
	Props     []PlayerProp      `json:"props,omitempty"`
	Degraded  bool              `json:"degraded"` // baseline fallback was used
	Basis     string            `json:"basis"`    // "model", "market_baseline"
}

// ProbabilitySnapshot is the persisted history row for a snapshot,
// keyed by (event id, timestamp)
type ProbabilitySnapshot struct {
	ID        uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	EventID   string         `json:"event_id" gorm:"index:idx_event_time;size:100;not null"`
	Timestamp time.Time      `json:"timestamp" gorm:"index:idx_event_time;not null"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Degraded  bool           `json:"degraded" gorm:"default:false"`
	CreatedAt time.Time      `json:"created_at" gorm:"default:CURRENT_TIMESTAMP"`
}

// TableName returns the table name for ProbabilitySnapshot
func (ProbabilitySnapshot) TableName() string {
	return "probability_snapshots"
}
