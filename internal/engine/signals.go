package engine

import (
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/statline-dev/liveline/internal/models"
)

func normalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// marketImpliedHomeProb strips the book margin by normalizing the two
// implied probabilities. Returns 0 when the line carries no moneyline.
func marketImpliedHomeProb(line *models.LineRecord) float64 {
	sum := line.HomeML + line.AwayML
	if sum <= 0 {
		return 0
	}
	return line.HomeML / sum
}

// marginFromProb inverts the margin-distribution read of a win
// probability back to an expected margin
func marginFromProb(p float64) float64 {
	return distuv.UnitNormal.Quantile(clampProb(p)) * marginSigma
}

// playsFromScore decomposes a scores-feed record into tracker plays.
// The feed carries absolute scores, so deltas are derived against the
// current state; each derived play gets a deterministic id so replays
// stay idempotent.
func playsFromScore(state *models.GameState, score models.ScoreRecord) []*models.PlayEvent {
	var plays []*models.PlayEvent

	clock := &models.GameClock{
		Quarter:  score.Quarter,
		Minutes:  score.Minutes,
		Seconds:  score.Seconds,
		Overtime: score.Overtime,
	}
	if clock.Validate() != nil {
		clock = nil
	}

	if score.Points > 0 && score.TeamID != "" {
		plays = append(plays, &models.PlayEvent{
			ID:        score.PlayID,
			EventID:   score.EventID,
			Type:      models.PlayTypeScore,
			TeamID:    score.TeamID,
			Points:    score.Points,
			Clock:     clock,
			Timestamp: score.Timestamp,
			Source:    score.Source,
		})
	} else {
		if delta := score.HomeScore - state.HomeScore; delta > 0 {
			plays = append(plays, &models.PlayEvent{
				ID:        score.PlayID + ":home",
				EventID:   score.EventID,
				Type:      models.PlayTypeScore,
				TeamID:    state.HomeTeamID,
				Points:    delta,
				Clock:     clock,
				Timestamp: score.Timestamp,
				Source:    score.Source,
			})
		}
		if delta := score.AwayScore - state.AwayScore; delta > 0 {
			plays = append(plays, &models.PlayEvent{
				ID:        score.PlayID + ":away",
				EventID:   score.EventID,
				Type:      models.PlayTypeScore,
				TeamID:    state.AwayTeamID,
				Points:    delta,
				Clock:     clock,
				Timestamp: score.Timestamp,
				Source:    score.Source,
			})
		}
	}

	if score.Status != "" && score.Status != state.Status && state.Status.CanTransitionTo(score.Status) {
		plays = append(plays, &models.PlayEvent{
			ID:        score.PlayID + ":status",
			EventID:   score.EventID,
			Type:      models.PlayTypeStatus,
			NewStatus: score.Status,
			Timestamp: score.Timestamp,
			Source:    score.Source,
		})
	}

	if len(plays) == 0 && clock != nil {
		plays = append(plays, &models.PlayEvent{
			ID:        score.PlayID + ":clock",
			EventID:   score.EventID,
			Type:      models.PlayTypeClock,
			Clock:     clock,
			Timestamp: score.Timestamp,
			Source:    score.Source,
		})
	}

	return plays
}
