package models

import "time"

// RecordKind classifies inbound external records for validation
type RecordKind string

const (
	RecordKindScore      RecordKind = "score"
	RecordKindLine       RecordKind = "betting_line"
	RecordKindPlayerStat RecordKind = "player_stat"
	RecordKindWeather    RecordKind = "weather"
	RecordKindInjury     RecordKind = "injury"
)

// Record is the shape every provider delivers to the validation stage
type Record interface {
	Kind() RecordKind
	GameID() string
}

// ScoreRecord is a live score update from a scores feed
type ScoreRecord struct {
	PlayID    string      `json:"play_id"`
	EventID   string      `json:"event_id"`
	HomeScore int         `json:"home_score"`
	AwayScore int         `json:"away_score"`
	Quarter   int         `json:"quarter"`
	Minutes   int         `json:"minutes"`
	Seconds   int         `json:"seconds"`
	Overtime  bool        `json:"overtime"`
	TeamID    string      `json:"team_id"`
	Points    int         `json:"points"`
	Status    EventStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
}

func (r ScoreRecord) Kind() RecordKind { return RecordKindScore }
func (r ScoreRecord) GameID() string   { return r.EventID }

// LineRecord is a betting line update from an odds feed
type LineRecord struct {
	EventID    string    `json:"event_id"`
	HomeSpread float64   `json:"home_spread"`
	AwaySpread float64   `json:"away_spread"`
	TotalLine  float64   `json:"total_line"`
	HomeML     float64   `json:"home_moneyline"` // implied probability 0-1
	AwayML     float64   `json:"away_moneyline"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
}

func (r LineRecord) Kind() RecordKind { return RecordKindLine }
func (r LineRecord) GameID() string   { return r.EventID }

// PlayerStatRecord is a per-player stat line used for prop estimates
type PlayerStatRecord struct {
	EventID   string    `json:"event_id"`
	PlayerID  string    `json:"player_id"`
	Stat      string    `json:"stat"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func (r PlayerStatRecord) Kind() RecordKind { return RecordKindPlayerStat }
func (r PlayerStatRecord) GameID() string   { return r.EventID }

// WeatherRecord is a venue conditions update from a weather feed
type WeatherRecord struct {
	EventID     string    `json:"event_id"`
	Temperature float64   `json:"temperature"`
	WindSpeed   float64   `json:"wind_speed"`
	Humidity    float64   `json:"humidity"`
	Conditions  string    `json:"conditions"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

func (r WeatherRecord) Kind() RecordKind { return RecordKindWeather }
func (r WeatherRecord) GameID() string   { return r.EventID }

// InjuryRecord is a player availability update from an injuries feed
type InjuryRecord struct {
	EventID   string    `json:"event_id"`
	PlayerID  string    `json:"player_id"`
	TeamID    string    `json:"team_id"`
	Status    string    `json:"status"` // "questionable", "doubtful", "out"
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

func (r InjuryRecord) Kind() RecordKind { return RecordKindInjury }
func (r InjuryRecord) GameID() string   { return r.EventID }
