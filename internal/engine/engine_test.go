package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-dev/liveline/internal/cache"
	"github.com/statline-dev/liveline/internal/gamestate"
	"github.com/statline-dev/liveline/internal/models"
)

type stubPublisher struct {
	mu     sync.Mutex
	probs  []*models.GameProbabilities
	states []*models.GameState
}

func (p *stubPublisher) PublishProbabilities(snap *models.GameProbabilities) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probs = append(p.probs, snap)
}

func (p *stubPublisher) PublishGameState(state *models.GameState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

type stubFeatures struct {
	mean   float64
	stddev float64
	err    error
}

func (f *stubFeatures) PredictMargin(ctx context.Context, state *models.GameState) (float64, float64, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.mean, f.stddev, nil
}

func newTestEngine(features FeatureProvider) (*Engine, *stubPublisher) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	pub := &stubPublisher{}
	tracker := gamestate.NewTracker(gamestate.NewMemoryKV(), log)
	cacheSvc := cache.NewService(cache.NewMemoryStore(), cache.DefaultPolicy(), log)
	eng := NewEngine(tracker, cacheSvc, NewMemorySnapshotStore(), features, pub, log)
	return eng, pub
}

func testEvent() *models.Event {
	return &models.Event{
		ID:         "evt-1",
		HomeTeamID: "home",
		AwayTeamID: "away",
		Status:     models.StatusInProgress,
	}
}

func TestInitializeRatingPrior(t *testing.T) {
	eng, pub := newTestEngine(nil)

	snap, err := eng.Initialize(context.Background(), testEvent(),
		&models.Team{ID: "home", Rating: 8},
		&models.Team{ID: "away", Rating: 0},
		nil,
	)
	require.NoError(t, err)

	assert.Greater(t, snap.Win.Home, 0.5)
	assert.True(t, snap.Win.Valid())
	assert.Equal(t, PhaseInitialized, eng.PhaseOf("evt-1"))
	assert.Len(t, pub.probs, 1)
}

func TestInitializeBlendsMarketLine(t *testing.T) {
	eng, _ := newTestEngine(nil)

	// Even ratings, but the market prices the home side near 65%
	snap, err := eng.Initialize(context.Background(), testEvent(),
		&models.Team{ID: "home", Rating: 0},
		&models.Team{ID: "away", Rating: 0},
		&models.LineRecord{
			EventID:    "evt-1",
			HomeSpread: -3.5,
			AwaySpread: 3.5,
			TotalLine:  47.5,
			HomeML:     0.67,
			AwayML:     0.37,
		},
	)
	require.NoError(t, err)

	assert.Greater(t, snap.Win.Home, 0.55)
	assert.InDelta(t, -3.5, snap.Spread.Line, 1e-9)
	assert.InDelta(t, 47.5, snap.Total.Line, 1e-9)
}

func TestInitializeIdempotent(t *testing.T) {
	eng, _ := newTestEngine(nil)
	ctx := context.Background()

	first, err := eng.Initialize(ctx, testEvent(), &models.Team{Rating: 5}, &models.Team{Rating: 0}, nil)
	require.NoError(t, err)

	second, err := eng.Initialize(ctx, testEvent(), &models.Team{Rating: -5}, &models.Team{Rating: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Win.Home, second.Win.Home)
}

func TestScoreMovesPosteriorTowardScorer(t *testing.T) {
	eng, pub := newTestEngine(nil)
	ctx := context.Background()

	prior, err := eng.Initialize(ctx, testEvent(),
		&models.Team{ID: "home", Rating: 2},
		&models.Team{ID: "away", Rating: 0},
		nil,
	)
	require.NoError(t, err)

	err = eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID:    "p1",
		EventID:   "evt-1",
		HomeScore: 7,
		AwayScore: 0,
		Quarter:   1,
		Minutes:   6,
		Seconds:   30,
		TeamID:    "home",
		Points:    7,
		Status:    models.StatusInProgress,
	}, 1.0)
	require.NoError(t, err)

	latest, ok := eng.Latest("evt-1")
	require.True(t, ok)
	assert.Greater(t, latest.Win.Home, prior.Win.Home)
	assert.True(t, latest.Win.Valid())

	// Game state was published alongside the probability update
	assert.NotEmpty(t, pub.states)
}

func TestProbabilitiesAlwaysSumToOne(t *testing.T) {
	eng, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := eng.Initialize(ctx, testEvent(), &models.Team{Rating: 10}, &models.Team{Rating: -10}, nil)
	require.NoError(t, err)

	records := []models.Record{
		models.ScoreRecord{PlayID: "p1", EventID: "evt-1", TeamID: "home", Points: 3, Quarter: 1, Minutes: 3, Status: models.StatusInProgress},
		models.LineRecord{EventID: "evt-1", HomeSpread: -6.5, AwaySpread: 6.5, TotalLine: 44, HomeML: 0.7, AwayML: 0.34},
		models.WeatherRecord{EventID: "evt-1", Temperature: 40, WindSpeed: 25, Humidity: 80},
		models.InjuryRecord{EventID: "evt-1", PlayerID: "qb1", TeamID: "home", Status: "out"},
	}
	for _, rec := range records {
		require.NoError(t, eng.HandleRecord(ctx, rec, 0.9))
		latest, ok := eng.Latest("evt-1")
		require.True(t, ok)
		assert.True(t, latest.Win.Valid(), "win probabilities must sum to 1 after %s", rec.Kind())
		assert.GreaterOrEqual(t, latest.Total.Over, 0.0)
		assert.LessOrEqual(t, latest.Total.Over, 1.0)
	}
}

func TestFinalizedEventRejectsUpdates(t *testing.T) {
	eng, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := eng.Initialize(ctx, testEvent(), nil, nil, nil)
	require.NoError(t, err)

	before, _ := eng.Latest("evt-1")
	require.NoError(t, eng.Finalize(ctx, "evt-1"))
	assert.Equal(t, PhaseFinalized, eng.PhaseOf("evt-1"))

	err = eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID: "late", EventID: "evt-1", TeamID: "home", Points: 7,
		Quarter: 4, Status: models.StatusInProgress,
	}, 1.0)
	var staleErr *models.StaleEventError
	require.ErrorAs(t, err, &staleErr)

	// Last snapshot is retained unchanged
	after, ok := eng.Latest("evt-1")
	require.True(t, ok)
	assert.Equal(t, before.Win.Home, after.Win.Home)
}

func TestFeatureServiceFallbackDegrades(t *testing.T) {
	eng, _ := newTestEngine(&stubFeatures{err: errors.New("inference timeout")})
	ctx := context.Background()

	_, err := eng.Initialize(ctx, testEvent(), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID: "p1", EventID: "evt-1", TeamID: "home", Points: 3,
		Quarter: 2, Minutes: 10, Status: models.StatusInProgress,
	}, 1.0))

	latest, ok := eng.Latest("evt-1")
	require.True(t, ok)
	assert.True(t, latest.Degraded)
	assert.Equal(t, "market_baseline", latest.Basis)
}

func TestFeatureServicePreferredWhenHealthy(t *testing.T) {
	eng, _ := newTestEngine(&stubFeatures{mean: 10, stddev: 12})
	ctx := context.Background()

	_, err := eng.Initialize(ctx, testEvent(), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID: "p1", EventID: "evt-1", TeamID: "home", Points: 7,
		Quarter: 1, Minutes: 5, Status: models.StatusInProgress,
	}, 1.0))

	latest, ok := eng.Latest("evt-1")
	require.True(t, ok)
	assert.False(t, latest.Degraded)
	assert.Equal(t, "model", latest.Basis)
}

func TestUnknownEventScoreSeedsNeutralPrior(t *testing.T) {
	eng, _ := newTestEngine(nil)

	err := eng.HandleRecord(context.Background(), models.ScoreRecord{
		PlayID: "p1", EventID: "evt-unseen", TeamID: "", Points: 0,
		HomeScore: 0, AwayScore: 0, Quarter: 1, Minutes: 14,
		Status: models.StatusInProgress,
	}, 1.0)
	require.NoError(t, err)

	latest, ok := eng.Latest("evt-unseen")
	require.True(t, ok)
	assert.InDelta(t, 0.5, latest.Win.Home, 0.05)
}

func TestPlayerStatsPriceProps(t *testing.T) {
	eng, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := eng.Initialize(ctx, testEvent(), nil, nil, nil)
	require.NoError(t, err)

	// Clock-only play puts the game at halftime
	err = eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID: "c1", EventID: "evt-1", Quarter: 3, Minutes: 15,
		Status: models.StatusInProgress,
	}, 1.0)
	require.NoError(t, err)

	// 150 yards at the half projects to 300, which opens the line
	err = eng.HandleRecord(ctx, models.PlayerStatRecord{
		EventID: "evt-1", PlayerID: "qb-1", Stat: "passing_yards", Value: 150,
	}, 1.0)
	require.NoError(t, err)

	latest, ok := eng.Latest("evt-1")
	require.True(t, ok)
	require.Len(t, latest.Props, 1)
	assert.Equal(t, "qb-1", latest.Props[0].PlayerID)
	assert.Equal(t, "passing_yards", latest.Props[0].Market)
	assert.InDelta(t, 300, latest.Props[0].Line, 1e-9)
	assert.InDelta(t, 0.5, latest.Props[0].Probability, 0.05)

	// Running ahead of pace in the fourth pushes the over
	err = eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID: "c2", EventID: "evt-1", Quarter: 4, Minutes: 15,
		Status: models.StatusInProgress,
	}, 1.0)
	require.NoError(t, err)
	err = eng.HandleRecord(ctx, models.PlayerStatRecord{
		EventID: "evt-1", PlayerID: "qb-1", Stat: "passing_yards", Value: 280,
	}, 1.0)
	require.NoError(t, err)

	latest, ok = eng.Latest("evt-1")
	require.True(t, ok)
	require.Len(t, latest.Props, 1)
	// The opening line holds while the probability moves
	assert.InDelta(t, 300, latest.Props[0].Line, 1e-9)
	assert.Greater(t, latest.Props[0].Probability, 0.6)
}

func TestPropEstimatesSortedByPlayerAndMarket(t *testing.T) {
	eng, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := eng.Initialize(ctx, testEvent(), nil, nil, nil)
	require.NoError(t, err)
	err = eng.HandleRecord(ctx, models.ScoreRecord{
		PlayID: "c1", EventID: "evt-1", Quarter: 3, Minutes: 15,
		Status: models.StatusInProgress,
	}, 1.0)
	require.NoError(t, err)

	for _, r := range []models.PlayerStatRecord{
		{EventID: "evt-1", PlayerID: "wr-2", Stat: "receiving_yards", Value: 40},
		{EventID: "evt-1", PlayerID: "qb-1", Stat: "passing_yards", Value: 150},
		{EventID: "evt-1", PlayerID: "qb-1", Stat: "completions", Value: 12},
	} {
		require.NoError(t, eng.HandleRecord(ctx, r, 1.0))
	}

	latest, ok := eng.Latest("evt-1")
	require.True(t, ok)
	require.Len(t, latest.Props, 3)
	assert.Equal(t, "completions", latest.Props[0].Market)
	assert.Equal(t, "passing_yards", latest.Props[1].Market)
	assert.Equal(t, "wr-2", latest.Props[2].PlayerID)
}

func TestBlendWeights(t *testing.T) {
	// Zero weight keeps the prior, full weight adopts the evidence
	assert.InDelta(t, 0.6, blend(0.6, 0.9, 0), 1e-9)
	assert.InDelta(t, 0.9, blend(0.6, 0.9, 1), 1e-9)

	mid := blend(0.6, 0.9, 0.5)
	assert.Greater(t, mid, 0.6)
	assert.Less(t, mid, 0.9)
}

func TestMomentumShiftBounded(t *testing.T) {
	base := 0.5
	up := momentumShift(base, 1)
	down := momentumShift(base, -1)

	assert.Greater(t, up, base)
	assert.Less(t, down, base)
	// A full momentum swing stays a nudge, not a takeover
	assert.Less(t, up, 0.6)
}

func TestLiveWinProbLateLeadDominates(t *testing.T) {
	state := models.NewGameState(testEvent())
	state.HomeScore = 21
	state.AwayScore = 7
	state.Clock = models.GameClock{Quarter: 4, Minutes: 2, Seconds: 0}

	p := liveWinProb(state, 0)
	assert.Greater(t, p, 0.95)

	// Same lead early in the game is far less decisive
	state.Clock = models.GameClock{Quarter: 1, Minutes: 10, Seconds: 0}
	early := liveWinProb(state, 0)
	assert.Less(t, early, p)
	assert.Greater(t, early, 0.5)
}
