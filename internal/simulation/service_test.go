package simulation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-dev/liveline/internal/models"
)

type stubPublisher struct {
	mu      sync.Mutex
	results []*models.SimulationResult
}

func (p *stubPublisher) PublishPredictionComplete(result *models.SimulationResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, result)
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func newTestService(cfg Config) (*Service, *MemoryResultStore, *stubPublisher) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store := NewMemoryResultStore()
	pub := &stubPublisher{}
	return NewService(cfg, store, pub, log), store, pub
}

func defaultConfig() Config {
	return Config{
		Workers:       4,
		MaxWorkers:    16,
		MaxIterations: 1000000,
		MaxRetries:    2,
		Budget:        10 * time.Second,
		ScaleCooldown: 30 * time.Second,
	}
}

func testScenario(iterations int, seed int64) *models.SimulationScenario {
	return &models.SimulationScenario{
		ID:      uuid.New(),
		EventID: "evt-1",
		State: models.GameState{
			EventID:   "evt-1",
			HomeScore: 7,
			AwayScore: 3,
		},
		Iterations: iterations,
		Variables: []models.ScenarioVariable{
			{Name: "margin_drift", Weight: 1, Distribution: models.Distribution{
				Type: models.DistributionNormal, Mean: 3, StdDev: 2,
			}},
		},
		Seed: seed,
	}
}

func TestRunSimulationBasic(t *testing.T) {
	svc, store, pub := newTestService(defaultConfig())

	scenario := testScenario(20000, 42)
	result, err := svc.RunSimulation(context.Background(), scenario)
	require.NoError(t, err)

	assert.Equal(t, 20000, result.Iterations)
	assert.Equal(t, 20000, result.Requested)
	assert.False(t, result.Partial)
	assert.False(t, result.TimedOut)

	// Base margin 4 plus drift mean 3
	assert.InDelta(t, 7, result.Mean, 0.2)
	assert.InDelta(t, 2, result.StdDev, 0.2)
	assert.Greater(t, result.HomeWinRate, 0.95)

	assert.Less(t, result.Percentiles["p05"], result.Percentiles["p50"])
	assert.Less(t, result.Percentiles["p50"], result.Percentiles["p95"])
	assert.Less(t, result.Confidence.Lower, result.Mean)
	assert.Greater(t, result.Confidence.Upper, result.Mean)

	// Persisted and published
	stored, err := store.Get(context.Background(), scenario.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Mean, stored.Mean)
	assert.Equal(t, 1, pub.count())
}

func TestRunSimulationSeededDeterminism(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())
	ctx := context.Background()

	first, err := svc.RunSimulation(ctx, testScenario(20000, 1234))
	require.NoError(t, err)
	second, err := svc.RunSimulation(ctx, testScenario(20000, 1234))
	require.NoError(t, err)

	assert.InDelta(t, first.Mean, second.Mean, 1e-9)
	assert.InDelta(t, first.StdDev, second.StdDev, 1e-9)
	assert.InDelta(t, first.Percentiles["p50"], second.Percentiles["p50"], 1e-9)
	assert.InDelta(t, first.HomeWinRate, second.HomeWinRate, 1e-9)

	// A different seed lands on different samples
	third, err := svc.RunSimulation(ctx, testScenario(20000, 5678))
	require.NoError(t, err)
	assert.NotEqual(t, first.Percentiles["p50"], third.Percentiles["p50"])
}

func TestRunSimulationValidation(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())
	ctx := context.Background()

	_, err := svc.RunSimulation(ctx, testScenario(0, 1))
	assert.Error(t, err)

	_, err = svc.RunSimulation(ctx, testScenario(2000000, 1))
	assert.Error(t, err)

	bad := testScenario(1000, 1)
	bad.Variables = nil
	_, err = svc.RunSimulation(ctx, bad)
	assert.Error(t, err)
}

func TestHardConstraintRejectsSamples(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	scenario := testScenario(20000, 42)
	scenario.Constraints = []models.Constraint{
		{Name: "floor", Type: models.ConstraintHard, Min: 7, Max: 100},
	}

	result, err := svc.RunSimulation(context.Background(), scenario)
	require.NoError(t, err)

	assert.Less(t, result.Iterations, result.Requested)
	assert.GreaterOrEqual(t, result.Percentiles["p05"], 7.0)
}

func TestSoftConstraintAppliesPenalty(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	scenario := testScenario(20000, 42)
	// Every outcome violates and is halved
	scenario.Constraints = []models.Constraint{
		{Name: "cap", Type: models.ConstraintSoft, Min: 50, Max: 100, Penalty: 0.5},
	}

	result, err := svc.RunSimulation(context.Background(), scenario)
	require.NoError(t, err)
	assert.Equal(t, result.Requested, result.Iterations)
	assert.InDelta(t, 3.5, result.Mean, 0.2)
}

func TestWorkerFailureRetriesOnFreshGenerator(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	var mu sync.Mutex
	attempts := make(map[int]int)
	svc.failSubrange = func(subrange, attempt int) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[subrange]++
		if subrange == 0 && attempt == 0 {
			return errors.New("worker crashed")
		}
		return nil
	}

	result, err := svc.RunSimulation(context.Background(), testScenario(20000, 42))
	require.NoError(t, err)

	// The failed sub-range was retried and completed, nothing lost
	assert.False(t, result.Partial)
	assert.Equal(t, result.Requested, result.Iterations)
	mu.Lock()
	assert.Equal(t, 2, attempts[0])
	mu.Unlock()
}

func TestExhaustedRetriesYieldPartialResult(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	svc.failSubrange = func(subrange, attempt int) error {
		if subrange == 0 {
			return errors.New("worker keeps dying")
		}
		return nil
	}

	result, err := svc.RunSimulation(context.Background(), testScenario(20000, 42))
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Less(t, result.Iterations, result.Requested)
	assert.Greater(t, result.Iterations, 0)
}

func TestAllSubrangesFailingSurfacesWorkerError(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	svc.failSubrange = func(subrange, attempt int) error {
		return errors.New("cluster outage")
	}

	_, err := svc.RunSimulation(context.Background(), testScenario(20000, 42))
	var workerErr *models.SimulationWorkerError
	require.ErrorAs(t, err, &workerErr)
	assert.Equal(t, 3, workerErr.Attempts)
}

func TestBudgetTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.Budget = 10 * time.Millisecond
	svc, _, _ := newTestService(cfg)

	svc.failSubrange = func(subrange, attempt int) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}

	_, err := svc.RunSimulation(context.Background(), testScenario(20000, 42))
	var timeoutErr *models.SimulationTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestCancelDiscardsPartials(t *testing.T) {
	svc, store, _ := newTestService(defaultConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	svc.failSubrange = func(subrange, attempt int) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}

	scenario := testScenario(20000, 42)
	done := make(chan error, 1)
	go func() {
		_, err := svc.RunSimulation(context.Background(), scenario)
		done <- err
	}()

	<-started
	require.True(t, svc.Cancel(scenario.ID, false))
	close(release)

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	// Nothing was persisted for the discarded run
	_, err = store.Get(context.Background(), scenario.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelUnknownScenario(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())
	assert.False(t, svc.Cancel(uuid.New(), false))
}

func TestRunBatchPreservesOrder(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	scenarios := []*models.SimulationScenario{
		testScenario(5000, 1),
		testScenario(5000, 2),
		testScenario(5000, 3),
	}
	results, err := svc.RunBatch(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, result := range results {
		assert.Equal(t, scenarios[i].ID, result.ScenarioID)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	cfg := defaultConfig()
	cfg.QueueSize = 1
	svc, _, _ := newTestService(cfg)
	ctx := context.Background()

	require.NoError(t, svc.Enqueue(ctx, testScenario(1000, 1)))
	err := svc.Enqueue(ctx, testScenario(1000, 2))
	assert.Error(t, err)
}

func TestContributingFactorsRanked(t *testing.T) {
	svc, _, _ := newTestService(defaultConfig())

	scenario := testScenario(20000, 42)
	scenario.Variables = append(scenario.Variables, models.ScenarioVariable{
		Name:   "noise",
		Weight: 0.01,
		Distribution: models.Distribution{
			Type: models.DistributionNormal, Mean: 0, StdDev: 1,
		},
	})

	result, err := svc.RunSimulation(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Factors, 2)
	assert.Equal(t, "margin_drift", result.Factors[0].Name)
	assert.Greater(t, result.Factors[0].Impact, result.Factors[1].Impact)
}
