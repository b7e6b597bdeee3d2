package gamestate

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/models"
)

const (
	// momentum sliding window parameters
	momentumWindow   = 12 * time.Minute
	momentumHalfLife = 4 * time.Minute
	maxSwings        = 16
	maxAppliedIDs    = 256
)

// Tracker owns the canonical GameState per event. ApplyEvent is the
// sole mutation entrypoint; it is idempotent per play id and serialized
// per event, while different events update in parallel.
type Tracker struct {
	store  KVStore
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewTracker(store KVStore, logger *logrus.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// eventLock returns the per-event mutex, creating it on first use
func (t *Tracker) eventLock(eventID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[eventID] = lock
	}
	return lock
}

// Initialize seeds state for a new event
func (t *Tracker) Initialize(ctx context.Context, event *models.Event) (*models.GameState, error) {
	lock := t.eventLock(event.ID)
	lock.Lock()
	defer lock.Unlock()

	if existing, err := t.store.Get(ctx, event.ID); err == nil {
		return existing, nil
	}

	state := models.NewGameState(event)
	if err := t.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to initialize game state: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"component": "game_state",
		"event_id":  event.ID,
	}).Info("Initialized game state")

	return state, nil
}

// Get returns a consistent snapshot of the current state
func (t *Tracker) Get(ctx context.Context, eventID string) (*models.GameState, error) {
	return t.store.Get(ctx, eventID)
}

// ApplyEvent applies one play to the event's state. Replaying the same
// play id is a no-op returning the unchanged state.
func (t *Tracker) ApplyEvent(ctx context.Context, eventID string, play *models.PlayEvent) (*models.GameState, error) {
	lock := t.eventLock(eventID)
	lock.Lock()
	defer lock.Unlock()

	state, err := t.store.Get(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("no state for event %s: %w", eventID, err)
	}

	if play.ID != "" && state.HasApplied(play.ID) {
		t.logger.WithFields(logrus.Fields{
			"component": "game_state",
			"event_id":  eventID,
			"play_id":   play.ID,
		}).Debug("Play already applied, skipping")
		return state, nil
	}

	if state.Status.IsFinal() {
		return nil, &models.StaleEventError{EventID: eventID}
	}

	if err := t.mutate(state, play); err != nil {
		return nil, err
	}

	if play.ID != "" {
		state.AppliedPlayIDs = append(state.AppliedPlayIDs, play.ID)
		if len(state.AppliedPlayIDs) > maxAppliedIDs {
			state.AppliedPlayIDs = state.AppliedPlayIDs[len(state.AppliedPlayIDs)-maxAppliedIDs:]
		}
	}

	t.updateMomentum(state, play)
	state.UpdatedAt = t.now().UTC()

	if err := t.store.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to persist game state: %w", err)
	}

	return state, nil
}

// mutate applies the play to the state fields. Scores only move up.
func (t *Tracker) mutate(state *models.GameState, play *models.PlayEvent) error {
	switch play.Type {
	case models.PlayTypeScore:
		if play.Points < 0 {
			return fmt.Errorf("play %s: negative points violate score monotonicity", play.ID)
		}
		switch play.TeamID {
		case state.HomeTeamID:
			state.HomeScore += play.Points
		case state.AwayTeamID:
			state.AwayScore += play.Points
		default:
			return fmt.Errorf("play %s: team %s not in event %s", play.ID, play.TeamID, state.EventID)
		}

	case models.PlayTypeTurnover:
		// TeamID is the side that forced the turnover and gains the ball
		state.Possession = play.TeamID
		state.Down = 1
		state.Distance = 10
		state.ActiveDrive = &models.Drive{TeamID: play.TeamID, StartYard: state.FieldPosition}

	case models.PlayTypePossession:
		state.Possession = play.TeamID
		if play.Down > 0 {
			state.Down = play.Down
		}
		if play.Distance > 0 {
			state.Distance = play.Distance
		}
		if play.YardLine > 0 {
			if state.ActiveDrive != nil && state.ActiveDrive.TeamID == play.TeamID {
				state.ActiveDrive.Plays++
				state.ActiveDrive.YardsGained += play.YardLine - state.FieldPosition
			} else {
				state.ActiveDrive = &models.Drive{TeamID: play.TeamID, StartYard: play.YardLine}
			}
			state.FieldPosition = play.YardLine
		}

	case models.PlayTypePenalty:
		if state.Penalties == nil {
			state.Penalties = map[string]int{}
		}
		state.Penalties[play.TeamID]++

	case models.PlayTypeStatus:
		if !state.Status.CanTransitionTo(play.NewStatus) {
			return fmt.Errorf("illegal status transition %s -> %s for event %s", state.Status, play.NewStatus, state.EventID)
		}
		state.Status = play.NewStatus

	case models.PlayTypeClock:
		// fallthrough to the shared clock handling below

	case models.PlayTypeInjury, models.PlayTypeWeather:
		// no state fields to mutate; recorded for idempotency only

	default:
		return fmt.Errorf("unknown play type %q", play.Type)
	}

	if play.Clock != nil {
		if err := play.Clock.Validate(); err != nil {
			return fmt.Errorf("play %s: %w", play.ID, err)
		}
		state.Clock = *play.Clock
	}

	return nil
}

// updateMomentum recomputes the momentum indicator from a sliding
// window of recent scoring and turnover plays, weighting more recent
// plays higher with an exponential decay.
func (t *Tracker) updateMomentum(state *models.GameState, play *models.PlayEvent) {
	now := t.now().UTC()

	if w := swingWeight(play); w != 0 {
		signed := w
		if play.TeamID == state.AwayTeamID {
			signed = -w
		}
		state.RecentSwings = append(state.RecentSwings, models.MomentumSwing{
			PlayID:    play.ID,
			TeamID:    play.TeamID,
			Weight:    signed,
			Timestamp: now,
		})
	}

	// Trim the window
	kept := state.RecentSwings[:0]
	for _, swing := range state.RecentSwings {
		if now.Sub(swing.Timestamp) <= momentumWindow {
			kept = append(kept, swing)
		}
	}
	if len(kept) > maxSwings {
		kept = kept[len(kept)-maxSwings:]
	}
	state.RecentSwings = kept

	var sum float64
	for _, swing := range state.RecentSwings {
		age := now.Sub(swing.Timestamp)
		decay := math.Exp2(-float64(age) / float64(momentumHalfLife))
		sum += swing.Weight * decay
	}

	state.Momentum = models.Momentum{
		Value:     math.Tanh(sum),
		Trend:     momentumTrend(math.Tanh(sum)),
		UpdatedAt: now,
	}
}

// swingWeight maps a play to its unsigned momentum contribution
func swingWeight(play *models.PlayEvent) float64 {
	switch play.Type {
	case models.PlayTypeScore:
		return math.Min(1, float64(play.Points)/7.0)
	case models.PlayTypeTurnover:
		return 0.7
	default:
		return 0
	}
}

func momentumTrend(value float64) string {
	switch {
	case value > 0.15:
		return "home"
	case value < -0.15:
		return "away"
	default:
		return "neutral"
	}
}
