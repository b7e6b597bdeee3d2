package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/cache"
	"github.com/statline-dev/liveline/internal/gamestate"
	"github.com/statline-dev/liveline/internal/metrics"
	"github.com/statline-dev/liveline/internal/models"
)

// Phase is the per-event engine lifecycle
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitialized   Phase = "initialized"
	PhaseUpdating      Phase = "updating"
	PhaseFinalized     Phase = "finalized"
)

// FeatureProvider is the ML inference collaborator. It is consumed as
// an input only; training internals live elsewhere.
type FeatureProvider interface {
	PredictMargin(ctx context.Context, state *models.GameState) (mean, stddev float64, err error)
}

// Publisher receives every new snapshot and state change for fanout
type Publisher interface {
	PublishProbabilities(snap *models.GameProbabilities)
	PublishGameState(state *models.GameState)
}

// Simulator accepts scenarios the engine delegates when closed-form
// updates are not enough
type Simulator interface {
	Enqueue(ctx context.Context, scenario *models.SimulationScenario) error
}

// featureFailureLimit is how many consecutive feature-service failures
// are tolerated before updates stay on the baseline until a success
const featureFailureLimit = 3

type eventEntry struct {
	phase         Phase
	event         models.Event
	pregameMargin float64 // expected home margin
	pregameTotal  float64
	spreadLine    float64
	totalLine     float64
	latest        *models.GameProbabilities
	featureFails  int
	lastSimAt     time.Time
	props         map[string]*propLine // keyed player|stat
}

// propLine is one tracked player stat market. The line freezes at the
// full-game pace projection of the first observed reading; later
// readings move the probability, not the line.
type propLine struct {
	playerID string
	stat     string
	line     float64
	value    float64
}

// Engine maintains per-event probability state and updates it from
// ingested evidence. It is the sink at the end of the ingestion
// pipeline.
type Engine struct {
	tracker   *gamestate.Tracker
	cache     *cache.Service
	snapshots SnapshotStore
	features  FeatureProvider
	publisher Publisher
	sim       Simulator
	logger    *logrus.Logger

	mu     sync.RWMutex
	events map[string]*eventEntry

	now func() time.Time
}

func NewEngine(
	tracker *gamestate.Tracker,
	cacheSvc *cache.Service,
	snapshots SnapshotStore,
	features FeatureProvider,
	publisher Publisher,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		tracker:   tracker,
		cache:     cacheSvc,
		snapshots: snapshots,
		features:  features,
		publisher: publisher,
		logger:    logger,
		events:    make(map[string]*eventEntry),
		now:       time.Now,
	}
}

// SetSimulator attaches the simulation service. Wired after
// construction because the simulator publishes through the same hub.
func (e *Engine) SetSimulator(sim Simulator) {
	e.sim = sim
}

// Initialize seeds priors for an event from team ratings and market
// lines, producing the first snapshot
func (e *Engine) Initialize(ctx context.Context, event *models.Event, home, away *models.Team, line *models.LineRecord) (*models.GameProbabilities, error) {
	prior := 0.5
	if home != nil && away != nil {
		prior = ratingWinProb(home.Rating, away.Rating)
	}

	// The entry must be complete before it lands in the map: concurrent
	// readers hold only the map lock, not per-entry locks.
	entry := &eventEntry{phase: PhaseInitialized, event: *event, props: make(map[string]*propLine)}
	if line != nil {
		implied := marketImpliedHomeProb(line)
		if implied > 0 {
			// Market lines carry more information than ratings alone
			prior = blend(prior, implied, 0.65)
		}
		entry.spreadLine = line.HomeSpread
		entry.totalLine = line.TotalLine
		entry.pregameMargin = -line.HomeSpread
		entry.pregameTotal = line.TotalLine
	} else {
		entry.pregameMargin = marginFromProb(prior)
		entry.pregameTotal = 44
		entry.totalLine = 44
	}

	e.mu.Lock()
	if existing, ok := e.events[event.ID]; ok && existing.phase != PhaseUninitialized {
		e.mu.Unlock()
		return existing.latest, nil
	}
	e.events[event.ID] = entry
	e.mu.Unlock()

	if _, err := e.tracker.Initialize(ctx, event); err != nil {
		return nil, err
	}

	snap := e.buildSnapshot(ctx, entry, prior, "market_baseline", false, 0.9)
	if err := e.commitSnapshot(ctx, entry, snap); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"component": "engine",
		"event_id":  event.ID,
		"home_prob": snap.Win.Home,
	}).Info("Initialized event priors")

	return snap, nil
}

// HandleRecord consumes one validated ingestion record. Implements the
// fetcher's RecordSink.
func (e *Engine) HandleRecord(ctx context.Context, record models.Record, confidence float64) error {
	eventID := record.GameID()

	entry := e.entry(eventID)
	if entry == nil {
		// Feeds can deliver plays before the catalog registers the
		// event; seed neutral priors rather than dropping the signal.
		if score, ok := record.(models.ScoreRecord); ok {
			event := &models.Event{
				ID:         eventID,
				HomeTeamID: "home",
				AwayTeamID: "away",
				Status:     models.StatusScheduled,
			}
			if score.TeamID != "" {
				event.HomeTeamID = score.TeamID
			}
			if _, err := e.Initialize(ctx, event, nil, nil, nil); err != nil {
				return err
			}
			entry = e.entry(eventID)
		} else {
			e.logger.WithFields(logrus.Fields{
				"component": "engine",
				"event_id":  eventID,
				"kind":      record.Kind(),
			}).Debug("Ignoring record for unknown event")
			return nil
		}
	}

	e.mu.RLock()
	phase := entry.phase
	e.mu.RUnlock()
	if phase == PhaseFinalized {
		return &models.StaleEventError{EventID: eventID}
	}

	switch r := record.(type) {
	case models.ScoreRecord:
		return e.updateFromScore(ctx, entry, r, confidence)
	case models.LineRecord:
		e.mu.Lock()
		entry.spreadLine = r.HomeSpread
		entry.totalLine = r.TotalLine
		e.mu.Unlock()
		return e.update(ctx, entry, models.RecordKindLine, confidence)
	case models.WeatherRecord:
		return e.update(ctx, entry, models.RecordKindWeather, confidence)
	case models.InjuryRecord:
		return e.update(ctx, entry, models.RecordKindInjury, confidence)
	case models.PlayerStatRecord:
		e.recordPlayerStat(ctx, entry, r)
		return e.update(ctx, entry, models.RecordKindPlayerStat, confidence)
	default:
		return fmt.Errorf("unsupported record kind %q", record.Kind())
	}
}

// updateFromScore applies the play to game state first, then reruns
// the posterior
func (e *Engine) updateFromScore(ctx context.Context, entry *eventEntry, score models.ScoreRecord, confidence float64) error {
	state, err := e.tracker.Get(ctx, entry.event.ID)
	if err != nil {
		return err
	}

	for _, play := range playsFromScore(state, score) {
		newState, err := e.tracker.ApplyEvent(ctx, entry.event.ID, play)
		if err != nil {
			return err
		}
		e.publisher.PublishGameState(newState)
		if err := e.cache.Set(ctx, cache.ClassGameState, entry.event.ID, newState); err != nil {
			e.logger.WithError(err).Warn("Failed to cache game state")
		}
	}

	if score.Status.IsFinal() {
		return e.Finalize(ctx, entry.event.ID)
	}

	return e.update(ctx, entry, models.RecordKindScore, confidence)
}

// update recomputes the posterior snapshot from the current state
func (e *Engine) update(ctx context.Context, entry *eventEntry, kind models.RecordKind, confidence float64) error {
	state, err := e.tracker.Get(ctx, entry.event.ID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	entry.phase = PhaseUpdating
	prior := 0.5
	if entry.latest != nil {
		prior = entry.latest.Win.Home
	}
	e.mu.Unlock()

	evidence, basis, degraded := e.evidence(ctx, entry, state)
	evidence = momentumShift(evidence, state.Momentum.Value)

	weight := signalWeights[kind] * confidence
	posterior := blend(prior, evidence, weight)

	snap := e.buildSnapshot(ctx, entry, posterior, basis, degraded, confidence)
	snap.Props = e.propEstimates(entry, state)
	if err := e.commitSnapshot(ctx, entry, snap); err != nil {
		return err
	}

	e.maybeSimulate(ctx, entry, state)
	return nil
}

// evidence produces the likelihood probability, preferring the ML
// feature service and falling back to the market baseline on failure
func (e *Engine) evidence(ctx context.Context, entry *eventEntry, state *models.GameState) (float64, string, bool) {
	e.mu.RLock()
	pregameMargin := entry.pregameMargin
	fails := entry.featureFails
	e.mu.RUnlock()

	if e.features != nil && fails < featureFailureLimit {
		mean, stddev, err := e.features.PredictMargin(ctx, state)
		if err == nil {
			e.mu.Lock()
			entry.featureFails = 0
			e.mu.Unlock()
			if stddev <= 0 {
				stddev = marginSigma
			}
			return clampProb(normalCDF(mean / stddev)), "model", false
		}

		e.mu.Lock()
		entry.featureFails++
		e.mu.Unlock()
		e.logger.WithError(err).WithFields(logrus.Fields{
			"component": "engine",
			"event_id":  entry.event.ID,
		}).Warn("Feature service failed, using market baseline")
		return liveWinProb(state, pregameMargin), "market_baseline", true
	}

	degraded := e.features != nil // configured but unusable
	return liveWinProb(state, pregameMargin), "market_baseline", degraded
}

// Finalize stops updates for an event. The last snapshot is retained
// unchanged; late signals are rejected with StaleEventError.
func (e *Engine) Finalize(ctx context.Context, eventID string) error {
	e.mu.Lock()
	entry, ok := e.events[eventID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown event %s", eventID)
	}
	entry.phase = PhaseFinalized
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"component": "engine",
		"event_id":  eventID,
	}).Info("Event finalized, probability updates closed")
	return nil
}

// Latest returns the most recent snapshot for an event
func (e *Engine) Latest(eventID string) (*models.GameProbabilities, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.events[eventID]
	if !ok || entry.latest == nil {
		return nil, false
	}
	cp := *entry.latest
	return &cp, true
}

// PhaseOf reports the engine lifecycle phase for an event
func (e *Engine) PhaseOf(eventID string) Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.events[eventID]
	if !ok {
		return PhaseUninitialized
	}
	return entry.phase
}

func (e *Engine) entry(eventID string) *eventEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.events[eventID]
}

func (e *Engine) buildSnapshot(ctx context.Context, entry *eventEntry, homeProb float64, basis string, degraded bool, signalConfidence float64) *models.GameProbabilities {
	homeProb = clampProb(homeProb)

	state, err := e.tracker.Get(ctx, entry.event.ID)
	if err != nil {
		state = models.NewGameState(&entry.event)
	}

	confidence := derivedConfidence(state, signalConfidence)
	if degraded {
		confidence *= 0.7
	}

	e.mu.RLock()
	spreadLine := entry.spreadLine
	totalLine := entry.totalLine
	pregameMargin := entry.pregameMargin
	pregameTotal := entry.pregameTotal
	e.mu.RUnlock()

	over := totalOverProb(state, pregameTotal, totalLine)
	return &models.GameProbabilities{
		ID:        uuid.New(),
		EventID:   entry.event.ID,
		Timestamp: e.now().UTC(),
		Win: models.WinProbability{
			Home: homeProb,
			Away: 1 - homeProb,
		},
		Spread: models.SpreadProbability{
			Line:        spreadLine,
			Probability: spreadCoverProb(state, pregameMargin, spreadLine),
			Confidence:  confidence,
		},
		Total: models.TotalProbability{
			Line:       totalLine,
			Over:       over,
			Under:      1 - over,
			Confidence: confidence,
		},
		Degraded: degraded,
		Basis:    basis,
	}
}

// commitSnapshot persists, caches, and publishes a new snapshot, and
// records it as the latest
func (e *Engine) commitSnapshot(ctx context.Context, entry *eventEntry, snap *models.GameProbabilities) error {
	if err := e.snapshots.Append(ctx, snap); err != nil {
		return err
	}
	if err := e.cache.Set(ctx, cache.ClassProbabilities, snap.EventID, snap); err != nil {
		e.logger.WithError(err).Warn("Failed to cache probability snapshot")
	}

	e.mu.Lock()
	entry.latest = snap
	e.mu.Unlock()

	metrics.SnapshotsProduced.WithLabelValues(snap.Basis).Inc()
	e.publisher.PublishProbabilities(snap)
	return nil
}

// maybeSimulate delegates a scenario for close late-game situations
// where closed-form updates understate variance
func (e *Engine) maybeSimulate(ctx context.Context, entry *eventEntry, state *models.GameState) {
	if e.sim == nil {
		return
	}

	margin := state.ScoreDifferential()
	if margin < 0 {
		margin = -margin
	}
	closeAndLate := margin <= 8 && state.Clock.SecondsRemaining() <= 600 && state.Status == models.StatusInProgress
	if !closeAndLate {
		return
	}

	e.mu.Lock()
	if e.now().Sub(entry.lastSimAt) < 2*time.Minute {
		e.mu.Unlock()
		return
	}
	entry.lastSimAt = e.now()
	pregameTotal := entry.pregameTotal
	e.mu.Unlock()

	scenario := &models.SimulationScenario{
		ID:         uuid.New(),
		EventID:    entry.event.ID,
		State:      *state,
		Iterations: 20000,
		Variables: []models.ScenarioVariable{
			{Name: "home_scoring_rate", Weight: 1, Distribution: models.Distribution{
				Type: models.DistributionPoisson, Lambda: pregameTotal / 2 / 8,
			}},
			{Name: "away_scoring_rate", Weight: -1, Distribution: models.Distribution{
				Type: models.DistributionPoisson, Lambda: pregameTotal / 2 / 8,
			}},
			{Name: "pace_variance", Weight: 0.3, Distribution: models.Distribution{
				Type: models.DistributionNormal, Mean: 0, StdDev: 1,
			}},
		},
		SubmittedAt: e.now().UTC(),
	}

	if err := e.sim.Enqueue(ctx, scenario); err != nil {
		e.logger.WithError(err).WithField("event_id", entry.event.ID).Warn("Failed to enqueue late-game scenario")
	}
}

// recordPlayerStat folds a stat-feed reading into the event's tracked
// prop markets
func (e *Engine) recordPlayerStat(ctx context.Context, entry *eventEntry, r models.PlayerStatRecord) {
	state, err := e.tracker.Get(ctx, entry.event.ID)
	if err != nil {
		return
	}
	elapsed := elapsedFraction(state)

	key := r.PlayerID + "|" + r.Stat
	e.mu.Lock()
	pl, ok := entry.props[key]
	if !ok {
		pl = &propLine{
			playerID: r.PlayerID,
			stat:     r.Stat,
			line:     math.Round(r.Value/elapsed*2) / 2, // half-point line
		}
		entry.props[key] = pl
	}
	pl.value = r.Value
	e.mu.Unlock()
}

// propEstimates prices every tracked player stat against its line: the
// current full-game pace projection versus the line, with the spread
// collapsing as the clock runs out
func (e *Engine) propEstimates(entry *eventEntry, state *models.GameState) []models.PlayerProp {
	e.mu.RLock()
	lines := make([]propLine, 0, len(entry.props))
	for _, pl := range entry.props {
		lines = append(lines, *pl)
	}
	e.mu.RUnlock()
	if len(lines) == 0 {
		return nil
	}

	elapsed := elapsedFraction(state)
	remaining := remainingFraction(state)

	props := make([]models.PlayerProp, 0, len(lines))
	for _, pl := range lines {
		projection := pl.value / elapsed
		sigma := (0.35*pl.line + 1) * math.Sqrt(remaining)
		if sigma < 0.25 {
			sigma = 0.25
		}
		props = append(props, models.PlayerProp{
			PlayerID:    pl.playerID,
			Market:      pl.stat,
			Line:        pl.line,
			Probability: clampProb(normalCDF((projection - pl.line) / sigma)),
		})
	}
	sort.Slice(props, func(i, j int) bool {
		if props[i].PlayerID != props[j].PlayerID {
			return props[i].PlayerID < props[j].PlayerID
		}
		return props[i].Market < props[j].Market
	})
	return props
}

// elapsedFraction floors early-game pace projections so a stat from the
// opening minutes does not extrapolate to absurd lines
func elapsedFraction(state *models.GameState) float64 {
	elapsed := 1 - remainingFraction(state)
	if elapsed < 0.1 {
		return 0.1
	}
	return elapsed
}
