package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/cache"
	"github.com/statline-dev/liveline/internal/ingestion/providers"
	"github.com/statline-dev/liveline/internal/metrics"
	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/internal/validation"
)

// RecordSink receives validated records from the polling pipeline. The
// probability engine pipeline implements this.
type RecordSink interface {
	HandleRecord(ctx context.Context, record models.Record, confidence float64) error
}

// JobInfo tracks one scheduled polling job
type JobInfo struct {
	Name       string        `json:"name"`
	Schedule   string        `json:"schedule"`
	LastRun    time.Time     `json:"last_run"`
	RunCount   int           `json:"run_count"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Fetcher polls every configured source on a schedule and pushes each
// validated record through cache into the sink. Upstream failures fall
// back to last-known-good cached data, which stays tagged stale.
type Fetcher struct {
	sources    []providers.DataSource
	schedules  map[string]string
	guard      *Guard
	validator  *validation.Validator
	cache      *cache.Service
	sink       RecordSink
	cron       *cron.Cron
	logger     *logrus.Logger
	maxRetries int

	mu        sync.RWMutex
	jobs      map[string]JobInfo
	isRunning bool
}

// NewFetcher wires the polling pipeline. schedules maps source name to
// a cron spec.
func NewFetcher(
	sources []providers.DataSource,
	schedules map[string]string,
	guard *Guard,
	validator *validation.Validator,
	cacheSvc *cache.Service,
	sink RecordSink,
	maxRetries int,
	logger *logrus.Logger,
) *Fetcher {
	return &Fetcher{
		sources:    sources,
		schedules:  schedules,
		guard:      guard,
		validator:  validator,
		cache:      cacheSvc,
		sink:       sink,
		cron:       cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logger))),
		logger:     logger,
		maxRetries: maxRetries,
		jobs:       make(map[string]JobInfo),
	}
}

// Start schedules polling jobs for every source and starts the cron
// scheduler
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isRunning {
		return fmt.Errorf("fetcher is already running")
	}

	for _, source := range f.sources {
		src := source
		schedule, ok := f.schedules[src.Name()]
		if !ok {
			return fmt.Errorf("no schedule configured for source %s", src.Name())
		}

		if _, err := f.cron.AddFunc(schedule, func() {
			f.pollSource(ctx, src)
		}); err != nil {
			return fmt.Errorf("failed to schedule polling for %s: %w", src.Name(), err)
		}

		f.jobs[src.Name()] = JobInfo{Name: src.Name(), Schedule: schedule}

		f.logger.WithFields(logrus.Fields{
			"component": "fetcher",
			"source":    src.Name(),
			"schedule":  schedule,
		}).Info("Scheduled source polling job")
	}

	f.cron.Start()
	f.isRunning = true

	f.logger.WithField("component", "fetcher").Info("Fetcher started")
	return nil
}

// Stop stops the cron scheduler and waits for running jobs
func (f *Fetcher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isRunning {
		return
	}
	stopCtx := f.cron.Stop()
	<-stopCtx.Done()
	f.isRunning = false
	f.logger.WithField("component", "fetcher").Info("Fetcher stopped")
}

// PollOnce runs one polling cycle for a single named source. Used by
// tests and the manual refresh endpoint.
func (f *Fetcher) PollOnce(ctx context.Context, sourceName string) error {
	for _, src := range f.sources {
		if src.Name() == sourceName {
			return f.pollSource(ctx, src)
		}
	}
	return fmt.Errorf("unknown source %s: %w", sourceName, models.ErrNotFound)
}

func (f *Fetcher) pollSource(ctx context.Context, source providers.DataSource) error {
	start := time.Now()
	log := f.logger.WithFields(logrus.Fields{
		"component": "fetcher",
		"source":    source.Name(),
	})

	var records []models.Record
	err := WithRetry(ctx, f.maxRetries, func() error {
		result, execErr := f.guard.Execute(ctx, source.Name(), func() (interface{}, error) {
			return source.Poll(ctx)
		})
		if execErr != nil {
			return execErr
		}
		records = result.([]models.Record)
		return nil
	})

	if err != nil {
		metrics.FetchTotal.WithLabelValues(source.Name(), "error").Inc()
		f.recordJobError(source.Name(), err, time.Since(start))
		log.WithError(err).Warn("Polling failed, downstream consumers keep last cached data")
		return err
	}

	metrics.FetchTotal.WithLabelValues(source.Name(), "success").Inc()

	accepted := 0
	for _, record := range records {
		if f.processRecord(ctx, record, log) {
			accepted++
		}
	}

	f.recordJobSuccess(source.Name(), time.Since(start))
	log.WithFields(logrus.Fields{
		"records":  len(records),
		"accepted": accepted,
		"duration": time.Since(start),
	}).Debug("Polling cycle complete")

	return nil
}

// processRecord validates, caches, and forwards one record. Invalid
// records are dropped, never silently accepted.
func (f *Fetcher) processRecord(ctx context.Context, record models.Record, log *logrus.Entry) bool {
	report := f.validator.Validate(record)
	if !report.Valid {
		log.WithError(report.Err(record.Kind())).WithFields(logrus.Fields{
			"kind":     record.Kind(),
			"event_id": record.GameID(),
		}).Warn("Dropping invalid record")
		return false
	}

	if class, key, ok := cacheTarget(record); ok {
		if err := f.cache.Set(ctx, class, key, record); err != nil {
			log.WithError(err).Warn("Failed to cache record")
		}
	}

	if err := f.sink.HandleRecord(ctx, record, report.Confidence); err != nil {
		log.WithError(err).WithField("event_id", record.GameID()).Warn("Record sink rejected record")
		return false
	}
	return true
}

// cacheTarget maps a record kind to its cache class and content key
func cacheTarget(record models.Record) (cache.ContentClass, string, bool) {
	switch record.Kind() {
	case models.RecordKindLine:
		return cache.ClassOdds, record.GameID(), true
	case models.RecordKindWeather:
		return cache.ClassWeather, record.GameID(), true
	case models.RecordKindScore:
		return cache.ClassGameState, record.GameID(), true
	default:
		return "", "", false
	}
}

func (f *Fetcher) recordJobSuccess(name string, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[name]
	job.LastRun = time.Now().UTC()
	job.RunCount++
	job.Duration = duration
	job.LastError = ""
	f.jobs[name] = job
}

func (f *Fetcher) recordJobError(name string, err error, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[name]
	job.LastRun = time.Now().UTC()
	job.RunCount++
	job.ErrorCount++
	job.Duration = duration
	job.LastError = err.Error()
	f.jobs[name] = job
}

// Jobs returns a snapshot of polling job stats
func (f *Fetcher) Jobs() map[string]JobInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	jobs := make(map[string]JobInfo, len(f.jobs))
	for name, job := range f.jobs {
		jobs[name] = job
	}
	return jobs
}
