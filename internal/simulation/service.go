package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/statline-dev/liveline/internal/metrics"
	"github.com/statline-dev/liveline/internal/models"
)

// Config bounds the simulation service
type Config struct {
	Workers       int
	MaxWorkers    int
	MaxIterations int
	MaxRetries    int
	Budget        time.Duration
	ScaleCooldown time.Duration
	QueueSize     int
}

// Publisher receives completed results for fanout to prediction topics
type Publisher interface {
	PublishPredictionComplete(result *models.SimulationResult)
}

type cancelEntry struct {
	cancel      context.CancelFunc
	cancelled   bool
	keepPartial bool
}

// Service runs large-iteration stochastic scenario simulations on a
// scalable worker pool
type Service struct {
	cfg       Config
	store     ResultStore
	publisher Publisher
	logger    *logrus.Logger

	queue    chan *models.SimulationScenario
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	poolSize  int
	lastScale time.Time
	cancels   map[uuid.UUID]*cancelEntry

	now func() time.Time

	// failSubrange injects worker failures in tests
	failSubrange func(subrange, attempt int) error
}

func NewService(cfg Config, store ResultStore, publisher Publisher, logger *logrus.Logger) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxWorkers < cfg.Workers {
		cfg.MaxWorkers = cfg.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Budget <= 0 {
		cfg.Budget = time.Minute
	}
	return &Service{
		cfg:      cfg,
		store:    store,
		publisher: publisher,
		logger:   logger,
		queue:    make(chan *models.SimulationScenario, cfg.QueueSize),
		stopChan: make(chan struct{}),
		poolSize: cfg.Workers,
		cancels:  make(map[uuid.UUID]*cancelEntry),
		now:      time.Now,
	}
}

// ValidateScenario checks a scenario against the configured iteration
// ceiling without running it
func (s *Service) ValidateScenario(scenario *models.SimulationScenario) error {
	return scenario.Validate(s.cfg.MaxIterations)
}

// Enqueue accepts a scenario for asynchronous execution. A full queue
// rejects immediately rather than blocking the caller.
func (s *Service) Enqueue(ctx context.Context, scenario *models.SimulationScenario) error {
	if err := scenario.Validate(s.cfg.MaxIterations); err != nil {
		return err
	}
	select {
	case s.queue <- scenario:
		s.ScaleComputeResources(len(s.queue))
		return nil
	default:
		return fmt.Errorf("simulation queue full, scenario %s rejected", scenario.ID)
	}
}

// QueueDepth reports pending scenarios, the scaling signal
func (s *Service) QueueDepth() int {
	return len(s.queue)
}

// Run consumes the scenario queue until Stop. Each drained scenario
// re-evaluates the scaling policy.
func (s *Service) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.WithField("component", "simulation").Info("Simulation dispatcher started")
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case scenario := <-s.queue:
			s.ScaleComputeResources(len(s.queue))
			if _, err := s.RunSimulation(ctx, scenario); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"component":   "simulation",
					"scenario_id": scenario.ID,
				}).Warn("Queued simulation failed")
			}
		}
	}
}

// Stop shuts the dispatcher down and waits for in-flight work
func (s *Service) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// Cancel stops an in-flight scenario by id. Workers stop after their
// current iteration; partial results are discarded unless keepPartial.
func (s *Service) Cancel(scenarioID uuid.UUID, keepPartial bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cancels[scenarioID]
	if !ok {
		return false
	}
	entry.cancelled = true
	entry.keepPartial = keepPartial
	entry.cancel()
	return true
}

type subrange struct {
	idx   int
	count int
}

type sampleSet struct {
	values [][]float64 // per-variable draws, indexed like scenario.Variables
	outcomes []float64
}

type subrangeOutcome struct {
	idx     int
	samples sampleSet
	err     error
}

// RunSimulation executes one scenario across the worker pool and
// merges sub-range outcomes before computing aggregate statistics
func (s *Service) RunSimulation(ctx context.Context, scenario *models.SimulationScenario) (*models.SimulationResult, error) {
	if err := scenario.Validate(s.cfg.MaxIterations); err != nil {
		return nil, err
	}

	start := s.now()
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Budget)
	defer cancel()

	entry := &cancelEntry{cancel: cancel}
	s.mu.Lock()
	s.cancels[scenario.ID] = entry
	workers := s.poolSize
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, scenario.ID)
		s.mu.Unlock()
	}()

	seed := scenario.Seed
	if seed == 0 {
		seed = s.now().UnixNano()
	}

	subranges := partition(scenario.Iterations, workers)

	jobs := make(chan subrange)
	outcomes := make(chan subrangeOutcome, len(subranges))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sr := range jobs {
				outcomes <- s.runSubrangeWithRetry(runCtx, scenario, sr, seed)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, sr := range subranges {
			select {
			case jobs <- sr:
			case <-runCtx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(outcomes)

	merged := sampleSet{values: make([][]float64, len(scenario.Variables))}
	var subrangeErr error
	completed := 0
	for outcome := range outcomes {
		if outcome.err != nil {
			subrangeErr = outcome.err
			continue
		}
		completed++
		merged.outcomes = append(merged.outcomes, outcome.samples.outcomes...)
		for i := range merged.values {
			merged.values[i] = append(merged.values[i], outcome.samples.values[i]...)
		}
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	s.mu.Lock()
	cancelled := entry.cancelled
	keepPartial := entry.keepPartial
	s.mu.Unlock()

	outcomeLabel := "complete"
	switch {
	case cancelled:
		outcomeLabel = "cancelled"
	case timedOut:
		outcomeLabel = "timeout"
	case subrangeErr != nil:
		outcomeLabel = "partial"
	}
	metrics.SimulationDuration.WithLabelValues(outcomeLabel).Observe(s.now().Sub(start).Seconds())

	if cancelled && !keepPartial {
		s.logger.WithFields(logrus.Fields{
			"component":   "simulation",
			"scenario_id": scenario.ID,
		}).Info("Simulation cancelled, partial results discarded")
		return nil, context.Canceled
	}

	if len(merged.outcomes) == 0 {
		if timedOut {
			return nil, &models.SimulationTimeoutError{ScenarioID: scenario.ID.String(), Budget: s.cfg.Budget}
		}
		if subrangeErr != nil {
			return nil, subrangeErr
		}
		return nil, fmt.Errorf("simulation %s produced no samples", scenario.ID)
	}

	result := s.aggregate(scenario, merged)
	result.Partial = completed < len(subranges)
	result.TimedOut = timedOut
	result.Cancelled = cancelled
	result.ExecutionTime = s.now().Sub(start)
	result.CompletedAt = s.now().UTC()

	if s.store != nil {
		if err := s.store.Append(ctx, result); err != nil {
			s.logger.WithError(err).WithField("scenario_id", scenario.ID).Warn("Failed to persist simulation result")
		}
	}
	if s.publisher != nil {
		s.publisher.PublishPredictionComplete(result)
	}

	s.logger.WithFields(logrus.Fields{
		"component":   "simulation",
		"scenario_id": scenario.ID,
		"iterations":  result.Iterations,
		"partial":     result.Partial,
		"duration":    result.ExecutionTime,
	}).Info("Simulation complete")

	return result, nil
}

// RunBatch runs scenarios concurrently and returns results in order.
// A failed scenario leaves a nil slot; the first error is returned.
func (s *Service) RunBatch(ctx context.Context, scenarios []*models.SimulationScenario) ([]*models.SimulationResult, error) {
	results := make([]*models.SimulationResult, len(scenarios))
	errs := make([]error, len(scenarios))

	var wg sync.WaitGroup
	for i, scenario := range scenarios {
		wg.Add(1)
		go func(i int, scenario *models.SimulationScenario) {
			defer wg.Done()
			results[i], errs[i] = s.RunSimulation(ctx, scenario)
		}(i, scenario)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// GetResult loads a stored result by scenario id
func (s *Service) GetResult(ctx context.Context, scenarioID uuid.UUID) (*models.SimulationResult, error) {
	if s.store == nil {
		return nil, models.ErrNotFound
	}
	return s.store.Get(ctx, scenarioID)
}

// runSubrangeWithRetry retries a failed sub-range on a fresh generator
// up to the bounded retry count. Exhausting retries surfaces a worker
// error; already-computed sub-ranges are kept by the caller.
func (s *Service) runSubrangeWithRetry(ctx context.Context, scenario *models.SimulationScenario, sr subrange, seed int64) subrangeOutcome {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return subrangeOutcome{idx: sr.idx, err: ctx.Err()}
		}

		if s.failSubrange != nil {
			if err := s.failSubrange(sr.idx, attempt); err != nil {
				lastErr = err
				s.logger.WithFields(logrus.Fields{
					"component":   "simulation",
					"scenario_id": scenario.ID,
					"subrange":    sr.idx,
					"attempt":     attempt,
				}).Warn("Simulation worker failed, retrying sub-range")
				continue
			}
		}

		rng := rand.New(rand.NewSource(seed + int64(sr.idx)*7919 + int64(attempt)))
		samples, err := runSubrange(ctx, scenario, sr, rng)
		if err != nil {
			lastErr = err
			continue
		}
		return subrangeOutcome{idx: sr.idx, samples: samples}
	}

	return subrangeOutcome{idx: sr.idx, err: &models.SimulationWorkerError{
		ScenarioID: scenario.ID.String(),
		Subrange:   sr.idx,
		Attempts:   s.cfg.MaxRetries + 1,
		Err:        lastErr,
	}}
}

// runSubrange computes one sub-range of iterations. The outcome per
// iteration is the projected final margin: current differential plus
// the weighted variable draws. Hard constraint violations reject the
// sample; soft violations scale its contribution by the penalty.
func runSubrange(ctx context.Context, scenario *models.SimulationScenario, sr subrange, rng *rand.Rand) (sampleSet, error) {
	base := float64(scenario.State.ScoreDifferential())
	set := sampleSet{
		values:   make([][]float64, len(scenario.Variables)),
		outcomes: make([]float64, 0, sr.count),
	}

	for i := 0; i < sr.count; i++ {
		if i%512 == 0 && ctx.Err() != nil {
			// Stop after the current iteration on cancellation
			return set, nil
		}

		draws := make([]float64, len(scenario.Variables))
		outcome := base
		for j, variable := range scenario.Variables {
			draw := sampleDistribution(variable.Distribution, rng)
			draws[j] = draw
			outcome += variable.Weight * draw
		}

		rejected := false
		for _, constraint := range scenario.Constraints {
			if outcome >= constraint.Min && outcome <= constraint.Max {
				continue
			}
			if constraint.Type == models.ConstraintHard {
				rejected = true
				break
			}
			penalty := constraint.Penalty
			if penalty <= 0 || penalty > 1 {
				penalty = 0.5
			}
			outcome *= penalty
		}
		if rejected {
			continue
		}

		set.outcomes = append(set.outcomes, outcome)
		for j := range draws {
			set.values[j] = append(set.values[j], draws[j])
		}
	}

	return set, nil
}

// aggregate merges concatenated samples into outcome statistics. The
// confidence interval uses the normal approximation consistently;
// percentile bounds are reported as outcome percentiles, not a CI.
func (s *Service) aggregate(scenario *models.SimulationScenario, merged sampleSet) *models.SimulationResult {
	values := merged.outcomes
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(values, nil)
	n := float64(len(values))
	halfWidth := 1.96 * std / math.Sqrt(n)

	percentiles := map[string]float64{
		"p05": stat.Quantile(0.05, stat.Empirical, sorted, nil),
		"p25": stat.Quantile(0.25, stat.Empirical, sorted, nil),
		"p50": stat.Quantile(0.50, stat.Empirical, sorted, nil),
		"p75": stat.Quantile(0.75, stat.Empirical, sorted, nil),
		"p95": stat.Quantile(0.95, stat.Empirical, sorted, nil),
		"p99": stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}

	homeWins := 0
	for _, v := range values {
		if v > 0 {
			homeWins++
		}
	}

	factors := make([]models.ContributingFactor, 0, len(scenario.Variables))
	for j, variable := range scenario.Variables {
		impact := 0.0
		if len(merged.values[j]) == len(values) && len(values) > 1 {
			corr := stat.Correlation(merged.values[j], values, nil)
			if !math.IsNaN(corr) {
				impact = math.Abs(corr)
			}
		}
		factors = append(factors, models.ContributingFactor{Name: variable.Name, Impact: impact})
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i].Impact > factors[j].Impact })

	return &models.SimulationResult{
		ScenarioID:  scenario.ID,
		EventID:     scenario.EventID,
		Iterations:  len(values),
		Requested:   scenario.Iterations,
		Mean:        mean,
		Median:      stat.Quantile(0.50, stat.Empirical, sorted, nil),
		StdDev:      std,
		Percentiles: percentiles,
		Confidence: models.ConfidenceInterval{
			Lower: mean - halfWidth,
			Upper: mean + halfWidth,
			Level: 0.95,
		},
		Factors:     factors,
		HomeWinRate: float64(homeWins) / n,
	}
}

// partition splits iteration counts into sub-ranges sized for the
// worker pool
func partition(iterations, workers int) []subrange {
	chunk := iterations / (workers * 4)
	if chunk < 500 {
		chunk = 500
	}
	var subranges []subrange
	idx := 0
	for remaining := iterations; remaining > 0; remaining -= chunk {
		count := chunk
		if remaining < chunk {
			count = remaining
		}
		subranges = append(subranges, subrange{idx: idx, count: count})
		idx++
	}
	return subranges
}
