package validation

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/models"
)

// Severity grades a validation finding
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// FieldError is a field-scoped validation finding with a stable code
type FieldError struct {
	Field    string   `json:"field"`
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Report is the result of validating one inbound record. Warnings
// reduce confidence but do not invalidate.
type Report struct {
	Valid        bool         `json:"is_valid"`
	Errors       []FieldError `json:"errors"`
	Warnings     []FieldError `json:"warnings"`
	Confidence   float64      `json:"confidence"`
	QualityScore float64      `json:"quality_score"`
}

// Validator runs schema/range/consistency checks on inbound records
type Validator struct {
	logger *logrus.Logger
}

func NewValidator(logger *logrus.Logger) *Validator {
	return &Validator{logger: logger}
}

// Validate dispatches to the rule set for the record's kind
func (v *Validator) Validate(record models.Record) *Report {
	report := &Report{Valid: true, Confidence: 1.0}

	if record.GameID() == "" {
		report.addError("event_id", "MISSING_EVENT_ID", "record has no event id")
	}

	switch r := record.(type) {
	case models.ScoreRecord:
		v.validateScore(r, report)
	case models.LineRecord:
		v.validateLine(r, report)
	case models.PlayerStatRecord:
		v.validatePlayerStat(r, report)
	case models.WeatherRecord:
		v.validateWeather(r, report)
	case models.InjuryRecord:
		v.validateInjury(r, report)
	default:
		report.addError("kind", "UNKNOWN_RECORD_KIND", "no rule set for record kind")
	}

	report.finish()

	if !report.Valid {
		v.logger.WithFields(logrus.Fields{
			"component": "validator",
			"kind":      record.Kind(),
			"event_id":  record.GameID(),
			"errors":    len(report.Errors),
		}).Warn("Record failed validation")
	}

	return report
}

func (v *Validator) validateScore(r models.ScoreRecord, report *Report) {
	if r.HomeScore < 0 || r.AwayScore < 0 {
		report.addError("score", "NEGATIVE_SCORE", "scores cannot be negative")
	}
	if r.HomeScore > 100 || r.AwayScore > 100 {
		report.addWarning("score", "IMPLAUSIBLE_SCORE", "score above plausible range")
	}
	if !r.Overtime && (r.Quarter < 1 || r.Quarter > 4) {
		report.addError("quarter", "QUARTER_RANGE", "quarter must be 1-4 unless overtime")
	}
	if r.Minutes < 0 || r.Minutes > 15 {
		report.addError("minutes", "MINUTES_RANGE", "minutes must be 0-15")
	}
	if r.Seconds < 0 || r.Seconds > 59 {
		report.addError("seconds", "SECONDS_RANGE", "seconds must be 0-59")
	}
	if r.Points < 0 || r.Points > 8 {
		report.addWarning("points", "POINTS_RANGE", "single play points outside 0-8")
	}
	if r.PlayID == "" {
		report.addError("play_id", "MISSING_PLAY_ID", "score update has no play id")
	}
}

func (v *Validator) validateLine(r models.LineRecord, report *Report) {
	// Opposing spreads should cancel out
	if math.Abs(r.HomeSpread+r.AwaySpread) > 0.01 {
		report.addError("spread", "SPREAD_MISMATCH", "home and away spreads do not sum to zero")
	}
	if math.Abs(r.HomeSpread) > 60 {
		report.addWarning("spread", "SPREAD_RANGE", "spread beyond plausible range")
	}
	if r.TotalLine <= 0 || r.TotalLine > 120 {
		report.addError("total_line", "TOTAL_RANGE", "total line outside 0-120")
	}
	if r.HomeML < 0 || r.HomeML > 1 || r.AwayML < 0 || r.AwayML > 1 {
		report.addError("moneyline", "ML_RANGE", "implied probabilities must be in [0,1]")
	}
	// Books price in a margin, so the implied sum runs slightly over 1
	if sum := r.HomeML + r.AwayML; sum > 1.15 || sum < 0.95 {
		report.addWarning("moneyline", "ML_MARGIN", "implied probability sum outside expected margin")
	}
}

func (v *Validator) validatePlayerStat(r models.PlayerStatRecord, report *Report) {
	if r.PlayerID == "" {
		report.addError("player_id", "MISSING_PLAYER_ID", "stat record has no player id")
	}
	if r.Value < 0 {
		report.addError("value", "NEGATIVE_STAT", "stat values cannot be negative")
	}
	if r.Value > 600 {
		report.addWarning("value", "STAT_RANGE", "stat value beyond plausible range")
	}
}

func (v *Validator) validateWeather(r models.WeatherRecord, report *Report) {
	if r.Humidity < 0 || r.Humidity > 100 {
		report.addError("humidity", "HUMIDITY_RANGE", "humidity must be 0-100")
	}
	if r.Temperature < -40 || r.Temperature > 130 {
		report.addError("temperature", "TEMPERATURE_RANGE", "temperature outside -40 to 130")
	}
	if r.WindSpeed < 0 {
		report.addError("wind_speed", "NEGATIVE_WIND", "wind speed cannot be negative")
	}
	if r.WindSpeed > 80 {
		report.addWarning("wind_speed", "WIND_RANGE", "wind speed beyond plausible range")
	}
}

func (v *Validator) validateInjury(r models.InjuryRecord, report *Report) {
	if r.PlayerID == "" {
		report.addError("player_id", "MISSING_PLAYER_ID", "injury record has no player id")
	}
	switch r.Status {
	case "probable", "questionable", "doubtful", "out":
	default:
		report.addWarning("status", "UNKNOWN_INJURY_STATUS", "unrecognized injury designation")
	}
}

// Err converts a failed report into a typed error carrying the error
// codes. Returns nil for a valid report.
func (r *Report) Err(kind models.RecordKind) error {
	if r.Valid {
		return nil
	}
	codes := make([]string, 0, len(r.Errors))
	for _, fe := range r.Errors {
		codes = append(codes, fe.Code)
	}
	return &models.ValidationError{RecordKind: string(kind), Errors: codes}
}

func (r *Report) addError(field, code, message string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Code: code, Severity: SeverityError, Message: message})
	r.Valid = false
}

func (r *Report) addWarning(field, code, message string) {
	r.Warnings = append(r.Warnings, FieldError{Field: field, Code: code, Severity: SeverityWarning, Message: message})
}

// finish derives confidence and quality from the accumulated findings
func (r *Report) finish() {
	confidence := 1.0
	confidence -= 0.5 * float64(len(r.Errors))
	confidence -= 0.1 * float64(len(r.Warnings))
	r.Confidence = clamp01(confidence)

	quality := 1.0
	quality -= 0.25 * float64(len(r.Errors))
	quality -= 0.05 * float64(len(r.Warnings))
	r.QualityScore = clamp01(quality)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
