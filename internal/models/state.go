package models

import (
	"fmt"
	"time"
)

// GameClock holds the in-game time context
type GameClock struct {
	Quarter  int  `json:"quarter"`
	Minutes  int  `json:"minutes"`
	Seconds  int  `json:"seconds"`
	Overtime bool `json:"overtime"`
}

// Validate checks clock values are in range (quarter 1-4 regulation,
// 0-15 minutes, 0-59 seconds)
func (c GameClock) Validate() error {
	if !c.Overtime && (c.Quarter < 1 || c.Quarter > 4) {
		return fmt.Errorf("quarter %d out of range", c.Quarter)
	}
	if c.Minutes < 0 || c.Minutes > 15 {
		return fmt.Errorf("minutes %d out of range", c.Minutes)
	}
	if c.Seconds < 0 || c.Seconds > 59 {
		return fmt.Errorf("seconds %d out of range", c.Seconds)
	}
	return nil
}

// SecondsRemaining returns regulation seconds left from the clock
func (c GameClock) SecondsRemaining() int {
	if c.Overtime {
		return c.Minutes*60 + c.Seconds
	}
	quartersLeft := 4 - c.Quarter
	return quartersLeft*15*60 + c.Minutes*60 + c.Seconds
}

// Momentum is a derived scalar summarizing recent game trend, signed
// toward the home side when positive
type Momentum struct {
	Value     float64   `json:"value"` // -1 to 1
	Trend     string    `json:"trend"` // "home", "away", "neutral"
	UpdatedAt time.Time `json:"updated_at"`
}

// Drive summarizes the active possession
type Drive struct {
	TeamID     string `json:"team_id"`
	StartYard  int    `json:"start_yard"`
	Plays      int    `json:"plays"`
	YardsGained int   `json:"yards_gained"`
}

// MomentumSwing records one momentum-relevant play for the sliding window
type MomentumSwing struct {
	PlayID    string    `json:"play_id"`
	TeamID    string    `json:"team_id"`
	Weight    float64   `json:"weight"` // positive toward home
	Timestamp time.Time `json:"timestamp"`
}

// GameState is the canonical per-event game situation, owned exclusively
// by the state tracker and mutated only through ApplyEvent
type GameState struct {
	EventID           string          `json:"event_id"`
	HomeTeamID        string          `json:"home_team_id"`
	AwayTeamID        string          `json:"away_team_id"`
	HomeScore         int             `json:"home_score"`
	AwayScore         int             `json:"away_score"`
	Clock             GameClock       `json:"clock"`
	Possession        string          `json:"possession"` // team id with the ball
	FieldPosition     int             `json:"field_position"` // yards from own goal line
	Down              int             `json:"down"`
	Distance          int             `json:"distance"`
	Momentum          Momentum        `json:"momentum"`
	ActiveDrive       *Drive          `json:"active_drive,omitempty"`
	Penalties         map[string]int  `json:"penalties"`
	TimeoutsRemaining map[string]int  `json:"timeouts_remaining"`
	Status            EventStatus     `json:"status"`
	RecentSwings      []MomentumSwing `json:"recent_swings"`
	AppliedPlayIDs    []string        `json:"applied_play_ids"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewGameState seeds an empty state for a scheduled event
func NewGameState(event *Event) *GameState {
	return &GameState{
		EventID:       event.ID,
		HomeTeamID:    event.HomeTeamID,
		AwayTeamID:    event.AwayTeamID,
		Clock:         GameClock{Quarter: 1, Minutes: 15, Seconds: 0},
		FieldPosition: 25,
		Down:          1,
		Distance:      10,
		Momentum:      Momentum{Trend: "neutral"},
		Penalties:     map[string]int{},
		TimeoutsRemaining: map[string]int{
			event.HomeTeamID: 3,
			event.AwayTeamID: 3,
		},
		Status:    event.Status,
		UpdatedAt: time.Now().UTC(),
	}
}

// HasApplied reports whether a play id was already applied to this state
func (gs *GameState) HasApplied(playID string) bool {
	for _, id := range gs.AppliedPlayIDs {
		if id == playID {
			return true
		}
	}
	return false
}

// ScoreDifferential returns home score minus away score
func (gs *GameState) ScoreDifferential() int {
	return gs.HomeScore - gs.AwayScore
}
