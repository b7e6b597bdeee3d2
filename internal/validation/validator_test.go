package validation

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-dev/liveline/internal/models"
)

func newTestValidator() *Validator {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewValidator(log)
}

func validScore() models.ScoreRecord {
	return models.ScoreRecord{
		PlayID:    "play-1",
		EventID:   "evt-1",
		HomeScore: 14,
		AwayScore: 10,
		Quarter:   2,
		Minutes:   8,
		Seconds:   30,
		TeamID:    "home",
		Points:    7,
		Status:    models.StatusInProgress,
	}
}

func TestValidateScore(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name       string
		mutate     func(*models.ScoreRecord)
		wantValid  bool
		wantCode   string
		wantIsWarn bool
	}{
		{
			name:      "clean record passes",
			mutate:    func(r *models.ScoreRecord) {},
			wantValid: true,
		},
		{
			name:      "negative score rejected",
			mutate:    func(r *models.ScoreRecord) { r.HomeScore = -3 },
			wantValid: false,
			wantCode:  "NEGATIVE_SCORE",
		},
		{
			name:      "quarter out of range rejected",
			mutate:    func(r *models.ScoreRecord) { r.Quarter = 6 },
			wantValid: false,
			wantCode:  "QUARTER_RANGE",
		},
		{
			name:      "overtime allows quarter past four",
			mutate:    func(r *models.ScoreRecord) { r.Quarter = 5; r.Overtime = true },
			wantValid: true,
		},
		{
			name:      "missing play id rejected",
			mutate:    func(r *models.ScoreRecord) { r.PlayID = "" },
			wantValid: false,
			wantCode:  "MISSING_PLAY_ID",
		},
		{
			name:       "implausible score warns but stays valid",
			mutate:     func(r *models.ScoreRecord) { r.HomeScore = 105 },
			wantValid:  true,
			wantCode:   "IMPLAUSIBLE_SCORE",
			wantIsWarn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validScore()
			tt.mutate(&rec)

			report := v.Validate(rec)
			assert.Equal(t, tt.wantValid, report.Valid)

			if tt.wantCode == "" {
				return
			}
			findings := report.Errors
			if tt.wantIsWarn {
				findings = report.Warnings
			}
			codes := make([]string, 0, len(findings))
			for _, f := range findings {
				codes = append(codes, f.Code)
			}
			assert.Contains(t, codes, tt.wantCode)
		})
	}
}

func TestValidateLineSpreadConsistency(t *testing.T) {
	v := newTestValidator()

	line := models.LineRecord{
		EventID:    "evt-1",
		HomeSpread: -3.5,
		AwaySpread: 3.5,
		TotalLine:  47.5,
		HomeML:     0.58,
		AwayML:     0.46,
	}
	report := v.Validate(line)
	assert.True(t, report.Valid)

	line.AwaySpread = 4.5
	report = v.Validate(line)
	require.False(t, report.Valid)
	assert.Equal(t, "SPREAD_MISMATCH", report.Errors[0].Code)
}

func TestValidateLineMoneylineRange(t *testing.T) {
	v := newTestValidator()

	line := models.LineRecord{
		EventID:    "evt-1",
		HomeSpread: -3,
		AwaySpread: 3,
		TotalLine:  44,
		HomeML:     1.4,
		AwayML:     0.4,
	}
	report := v.Validate(line)
	assert.False(t, report.Valid)
}

func TestValidateWeatherBounds(t *testing.T) {
	v := newTestValidator()

	weather := models.WeatherRecord{
		EventID:     "evt-1",
		Temperature: 68,
		WindSpeed:   12,
		Humidity:    55,
	}
	assert.True(t, v.Validate(weather).Valid)

	weather.Humidity = 140
	report := v.Validate(weather)
	require.False(t, report.Valid)
	assert.Equal(t, "HUMIDITY_RANGE", report.Errors[0].Code)
}

func TestValidateMissingEventID(t *testing.T) {
	v := newTestValidator()

	rec := validScore()
	rec.EventID = ""
	report := v.Validate(rec)
	assert.False(t, report.Valid)
	assert.Equal(t, "MISSING_EVENT_ID", report.Errors[0].Code)
}

func TestReportConfidenceDegrades(t *testing.T) {
	v := newTestValidator()

	clean := v.Validate(validScore())
	assert.InDelta(t, 1.0, clean.Confidence, 1e-9)
	assert.InDelta(t, 1.0, clean.QualityScore, 1e-9)

	rec := validScore()
	rec.HomeScore = 105 // warning
	warned := v.Validate(rec)
	assert.True(t, warned.Valid)
	assert.InDelta(t, 0.9, warned.Confidence, 1e-9)
	assert.InDelta(t, 0.95, warned.QualityScore, 1e-9)

	rec = validScore()
	rec.PlayID = "" // error
	failed := v.Validate(rec)
	assert.False(t, failed.Valid)
	assert.InDelta(t, 0.5, failed.Confidence, 1e-9)
}

func TestValidateInjuryStatus(t *testing.T) {
	v := newTestValidator()

	injury := models.InjuryRecord{EventID: "evt-1", PlayerID: "p1", Status: "questionable"}
	report := v.Validate(injury)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Warnings)

	injury.Status = "walking wounded"
	report = v.Validate(injury)
	assert.True(t, report.Valid)
	assert.Len(t, report.Warnings, 1)

	injury.PlayerID = ""
	report = v.Validate(injury)
	assert.False(t, report.Valid)
}

func TestReportErrCarriesCodes(t *testing.T) {
	v := newTestValidator()

	record := validScore()
	record.HomeScore = -3
	record.Quarter = 7
	report := v.Validate(record)
	require.False(t, report.Valid)

	var verr *models.ValidationError
	require.ErrorAs(t, report.Err(models.RecordKindScore), &verr)
	assert.Equal(t, string(models.RecordKindScore), verr.RecordKind)
	assert.Contains(t, verr.Errors, "NEGATIVE_SCORE")
	assert.Contains(t, verr.Errors, "QUARTER_RANGE")

	// A valid report yields no error
	assert.NoError(t, v.Validate(validScore()).Err(models.RecordKindScore))
}
