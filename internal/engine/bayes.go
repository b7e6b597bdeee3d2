package engine

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/statline-dev/liveline/internal/models"
)

// probEpsilon keeps probabilities strictly inside (0,1) so log-odds
// stay finite
const probEpsilon = 1e-6

// marginSigma is the empirical standard deviation of a full game's
// scoring margin
const marginSigma = 13.5

// signalWeights maps signal types to likelihood weights. A score change
// moves the posterior far more than a weather shift.
var signalWeights = map[models.RecordKind]float64{
	models.RecordKindScore:      1.0,
	models.RecordKindLine:       0.6,
	models.RecordKindInjury:     0.45,
	models.RecordKindPlayerStat: 0.3,
	models.RecordKindWeather:    0.15,
}

func clampProb(p float64) float64 {
	if p < probEpsilon {
		return probEpsilon
	}
	if p > 1-probEpsilon {
		return 1 - probEpsilon
	}
	return p
}

func logit(p float64) float64 {
	p = clampProb(p)
	return math.Log(p / (1 - p))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// blend combines the prior with an evidence probability in log-odds
// space: posterior = sigmoid((1-w)*logit(prior) + w*logit(evidence))
func blend(prior, evidence, weight float64) float64 {
	if weight <= 0 {
		return clampProb(prior)
	}
	if weight > 1 {
		weight = 1
	}
	return clampProb(sigmoid((1-weight)*logit(prior) + weight*logit(evidence)))
}

// ratingWinProb converts a power-rating gap to a pre-game win
// probability via a logistic curve. Ten rating points is roughly a
// 64/36 edge.
func ratingWinProb(homeRating, awayRating float64) float64 {
	const ratingScale = 17.0
	return clampProb(sigmoid((homeRating - awayRating) / ratingScale))
}

// liveWinProb is the closed-form in-game estimate: project the final
// margin from the current differential plus the remaining share of the
// pre-game expectation, shrink the spread by remaining time, and read
// the probability off a normal margin distribution.
func liveWinProb(state *models.GameState, pregameMargin float64) float64 {
	timeFrac := remainingFraction(state)
	expectedMargin := float64(state.ScoreDifferential()) + pregameMargin*timeFrac
	sigma := marginSigma*math.Sqrt(timeFrac) + 0.5
	dist := distuv.Normal{Mu: 0, Sigma: sigma}
	return clampProb(dist.CDF(expectedMargin))
}

// spreadCoverProb is the chance the home side covers the line (line is
// the home spread, negative when favored)
func spreadCoverProb(state *models.GameState, pregameMargin, line float64) float64 {
	timeFrac := remainingFraction(state)
	expectedMargin := float64(state.ScoreDifferential()) + pregameMargin*timeFrac
	sigma := marginSigma*math.Sqrt(timeFrac) + 0.5
	dist := distuv.Normal{Mu: expectedMargin, Sigma: sigma}
	return clampProb(dist.Survival(-line))
}

// totalOverProb is the chance the combined score clears the total line
func totalOverProb(state *models.GameState, pregameTotal, line float64) float64 {
	timeFrac := remainingFraction(state)
	currentTotal := float64(state.HomeScore + state.AwayScore)
	expectedTotal := currentTotal + pregameTotal*timeFrac
	sigma := 10.0*math.Sqrt(timeFrac) + 0.5
	dist := distuv.Normal{Mu: expectedTotal, Sigma: sigma}
	return clampProb(dist.Survival(line))
}

// remainingFraction returns the share of regulation left, in (0,1]
func remainingFraction(state *models.GameState) float64 {
	const regulationSeconds = 4 * 15 * 60
	remaining := float64(state.Clock.SecondsRemaining())
	frac := remaining / regulationSeconds
	if frac <= 0 {
		return 0.01
	}
	if frac > 1 {
		return 1
	}
	return frac
}

// momentumShift nudges the evidence probability toward the side with
// momentum. Bounded so momentum never dominates the score.
func momentumShift(p float64, momentum float64) float64 {
	const momentumGain = 0.25
	return clampProb(sigmoid(logit(p) + momentum*momentumGain))
}

// derivedConfidence is monotonically related to recency and sample
// strength: fresher signals and more elapsed game time mean tighter
// estimates.
func derivedConfidence(state *models.GameState, signalConfidence float64) float64 {
	elapsed := 1 - remainingFraction(state)
	conf := 0.4 + 0.5*elapsed
	conf *= signalConfidence
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
