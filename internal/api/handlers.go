package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/statline-dev/liveline/internal/broadcast"
	"github.com/statline-dev/liveline/internal/cache"
	"github.com/statline-dev/liveline/internal/engine"
	"github.com/statline-dev/liveline/internal/gamestate"
	"github.com/statline-dev/liveline/internal/ingestion"
	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/internal/simulation"
	"github.com/statline-dev/liveline/pkg/config"
)

type Handlers struct {
	db        *gorm.DB
	redis     *redis.Client
	engine    *engine.Engine
	tracker   *gamestate.Tracker
	cache     *cache.Service
	snapshots engine.SnapshotStore
	sim       *simulation.Service
	hub       *broadcast.Hub
	fetcher   *ingestion.Fetcher
	guard     *ingestion.Guard
	sources   []config.SourceConfig
	syncLimit int
	logger    *logrus.Logger
}

func NewHandlers(
	db *gorm.DB,
	redisClient *redis.Client,
	probEngine *engine.Engine,
	tracker *gamestate.Tracker,
	cacheSvc *cache.Service,
	snapshots engine.SnapshotStore,
	sim *simulation.Service,
	hub *broadcast.Hub,
	fetcher *ingestion.Fetcher,
	guard *ingestion.Guard,
	sources []config.SourceConfig,
	syncLimit int,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		db:        db,
		redis:     redisClient,
		engine:    probEngine,
		tracker:   tracker,
		cache:     cacheSvc,
		snapshots: snapshots,
		sim:       sim,
		hub:       hub,
		fetcher:   fetcher,
		guard:     guard,
		sources:   sources,
		syncLimit: syncLimit,
		logger:    logger,
	}
}

func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "liveline",
	})
}

func (h *Handlers) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database connection failed",
			})
			return
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "redis connection failed",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetProbabilities returns the current snapshot for an event. When the
// engine has no live entry the cached snapshot is served instead, with
// staleness metadata when its TTL has lapsed.
func (h *Handlers) GetProbabilities(c *gin.Context) {
	eventID := c.Param("id")

	if snap, ok := h.engine.Latest(eventID); ok {
		c.JSON(http.StatusOK, gin.H{"probabilities": snap})
		return
	}

	var cached models.GameProbabilities
	meta, err := h.cache.Get(c.Request.Context(), cache.ClassProbabilities, eventID, &cached)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no probabilities for event"})
			return
		}
		h.logger.WithError(err).WithField("event_id", eventID).Error("Probability cache lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"probabilities": cached,
		"stale":         meta.Stale,
		"fetched_at":    meta.FetchedAt,
		"age_seconds":   meta.Age.Seconds(),
	})
}

// GetProbabilityHistory returns recent snapshots for an event, newest
// first
func (h *Handlers) GetProbabilityHistory(c *gin.Context) {
	eventID := c.Param("id")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	history, err := h.snapshots.History(c.Request.Context(), eventID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("event_id", eventID).Error("Snapshot history lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	if len(history) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots for event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": eventID, "snapshots": history})
}

// GetGameState returns the tracked live state for an event
func (h *Handlers) GetGameState(c *gin.Context) {
	eventID := c.Param("id")

	state, err := h.tracker.Get(c.Request.Context(), eventID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown event"})
			return
		}
		h.logger.WithError(err).WithField("event_id", eventID).Error("Game state lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": state})
}

// CreateSimulation accepts a scenario. Small requests run inline and
// return the result; larger ones are queued and acknowledged with 202.
func (h *Handlers) CreateSimulation(c *gin.Context) {
	var scenario models.SimulationScenario
	if err := c.ShouldBindJSON(&scenario); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scenario: " + err.Error()})
		return
	}
	if scenario.ID == uuid.Nil {
		scenario.ID = uuid.New()
	}
	scenario.SubmittedAt = time.Now().UTC()

	if err := h.sim.ValidateScenario(&scenario); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if scenario.Iterations <= h.syncLimit {
		result, err := h.sim.RunSimulation(c.Request.Context(), &scenario)
		if err != nil {
			var timeout *models.SimulationTimeoutError
			if errors.As(err, &timeout) {
				c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result})
		return
	}

	if err := h.sim.Enqueue(c.Request.Context(), &scenario); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"scenario_id": scenario.ID,
		"status":      "queued",
		"queue_depth": h.sim.QueueDepth(),
	})
}

// GetSimulation returns a stored result by scenario id
func (h *Handlers) GetSimulation(c *gin.Context) {
	scenarioID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scenario id"})
		return
	}

	result, err := h.sim.GetResult(c.Request.Context(), scenarioID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown scenario"})
			return
		}
		h.logger.WithError(err).WithField("scenario_id", scenarioID).Error("Simulation result lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result lookup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

// CancelSimulation stops an in-flight scenario. Partial results are
// discarded unless keep_partial=true.
func (h *Handlers) CancelSimulation(c *gin.Context) {
	scenarioID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scenario id"})
		return
	}
	keepPartial := c.Query("keep_partial") == "true"

	if !h.sim.Cancel(scenarioID, keepPartial) {
		c.JSON(http.StatusNotFound, gin.H{"error": "scenario is not running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scenario_id":  scenarioID,
		"status":       "cancelling",
		"keep_partial": keepPartial,
	})
}

// GetStats reports ingestion, breaker, simulation, and broadcast
// health in one place
func (h *Handlers) GetStats(c *gin.Context) {
	breakers := make(map[string]gin.H, len(h.sources))
	for _, source := range h.sources {
		breakers[source.Name] = gin.H{
			"state":  h.guard.State(source.Name).String(),
			"counts": h.guard.Counts(source.Name),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":     h.fetcher.Jobs(),
		"breakers": breakers,
		"simulation": gin.H{
			"queue_depth": h.sim.QueueDepth(),
			"pool_size":   h.sim.PoolSize(),
		},
		"broadcast": gin.H{
			"clients": h.hub.ClientCount(),
		},
	})
}

// RefreshSource triggers an immediate poll of one configured feed
func (h *Handlers) RefreshSource(c *gin.Context) {
	name := c.Param("name")
	if err := h.fetcher.PollOnce(c.Request.Context(), name); err != nil {
		var circuitErr *models.CircuitOpenError
		var rateErr *models.RateLimitedError
		switch {
		case errors.As(err, &circuitErr):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":    err.Error(),
				"retry_at": circuitErr.RetryAt,
			})
		case errors.As(err, &rateErr):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown source"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"source": name, "status": "refreshed"})
}
