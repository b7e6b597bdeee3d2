package models

import (
	"time"
)

// EventStatus represents the lifecycle status of a game event
type EventStatus string

const (
	StatusScheduled  EventStatus = "scheduled"
	StatusInProgress EventStatus = "in_progress"
	StatusHalftime   EventStatus = "halftime"
	StatusFinal      EventStatus = "final"
	StatusPostponed  EventStatus = "postponed"
	StatusCancelled  EventStatus = "cancelled"
)

// statusOrder defines the monotonic progression of in-game statuses.
// Postponement and cancellation are the only lateral moves allowed.
var statusOrder = map[EventStatus]int{
	StatusScheduled:  0,
	StatusInProgress: 1,
	StatusHalftime:   2,
	StatusFinal:      3,
}

// CanTransitionTo reports whether a status change is legal
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	if s == next {
		return true
	}
	if s == StatusFinal || s == StatusCancelled {
		return false
	}
	if next == StatusPostponed || next == StatusCancelled {
		return true
	}
	if s == StatusPostponed {
		return next == StatusScheduled || next == StatusInProgress
	}
	cur, ok := statusOrder[s]
	nxt, ok2 := statusOrder[next]
	if !ok || !ok2 {
		return false
	}
	return nxt > cur
}

// IsFinal reports whether the event can receive further updates
func (s EventStatus) IsFinal() bool {
	return s == StatusFinal || s == StatusCancelled
}

// Team is referenced by id from events and game state, never embedded
type Team struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Abbreviation string  `json:"abbreviation"`
	Rating       float64 `json:"rating"` // power rating used for priors
}

// WeatherSnapshot captures game-time conditions for outdoor venues
type WeatherSnapshot struct {
	Temperature float64   `json:"temperature"`
	WindSpeed   float64   `json:"wind_speed"`
	Humidity    float64   `json:"humidity"`
	Conditions  string    `json:"conditions"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Event represents a single game. Teams are referenced by id.
type Event struct {
	ID            string           `json:"id"`
	HomeTeamID    string           `json:"home_team_id"`
	AwayTeamID    string           `json:"away_team_id"`
	Venue         string           `json:"venue"`
	ScheduledTime time.Time        `json:"scheduled_time"`
	Status        EventStatus      `json:"status"`
	Weather       *WeatherSnapshot `json:"weather,omitempty"`
}

// PlayType classifies ingested play-by-play signals
type PlayType string

const (
	PlayTypeScore      PlayType = "score"
	PlayTypeTurnover   PlayType = "turnover"
	PlayTypePenalty    PlayType = "penalty"
	PlayTypeInjury     PlayType = "injury"
	PlayTypePossession PlayType = "possession"
	PlayTypeClock      PlayType = "clock"
	PlayTypeStatus     PlayType = "status"
	PlayTypeWeather    PlayType = "weather"
)

// PlayEvent is a single ingested in-game signal. The ID is the upstream
// play id and is the idempotency key for state mutation.
type PlayEvent struct {
	ID         string      `json:"id"`
	EventID    string      `json:"event_id"`
	Type       PlayType    `json:"type"`
	TeamID     string      `json:"team_id,omitempty"`
	Points     int         `json:"points,omitempty"`
	Clock      *GameClock  `json:"clock,omitempty"`
	NewStatus  EventStatus `json:"new_status,omitempty"`
	YardLine   int         `json:"yard_line,omitempty"`
	Down       int         `json:"down,omitempty"`
	Distance   int         `json:"distance,omitempty"`
	PlayerID   string      `json:"player_id,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Source     string      `json:"source"`
	Confidence float64     `json:"confidence"` // validator-assigned, 0-1
}
