package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/statline-dev/liveline/internal/api"
	"github.com/statline-dev/liveline/internal/broadcast"
	"github.com/statline-dev/liveline/internal/cache"
	"github.com/statline-dev/liveline/internal/engine"
	"github.com/statline-dev/liveline/internal/gamestate"
	"github.com/statline-dev/liveline/internal/ingestion"
	"github.com/statline-dev/liveline/internal/ingestion/providers"
	"github.com/statline-dev/liveline/internal/simulation"
	"github.com/statline-dev/liveline/internal/validation"
	"github.com/statline-dev/liveline/pkg/config"
	"github.com/statline-dev/liveline/pkg/database"
	"github.com/statline-dev/liveline/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.InitLogger("", cfg.IsDevelopment())
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log.WithFields(logrus.Fields{
		"service": "liveline",
		"port":    cfg.Port,
		"env":     cfg.Env,
	}).Info("Starting liveline service")

	db, err := database.NewConnection(cfg.DatabaseURL, cfg.IsDevelopment())
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	redisClient, err := initRedis(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize Redis")
	}
	defer redisClient.Close()

	// Cache layer with per-class TTLs
	cacheSvc := cache.NewService(cache.NewRedisStore(redisClient), cache.Policy{
		cache.ClassProbabilities: time.Duration(cfg.LiveProbabilityTTL) * time.Second,
		cache.ClassGameState:     time.Duration(cfg.GameStateTTL) * time.Second,
		cache.ClassOdds:          time.Duration(cfg.OddsTTL) * time.Second,
		cache.ClassWeather:       time.Duration(cfg.WeatherTTL) * time.Second,
		cache.ClassRankings:      time.Duration(cfg.RankingsTTL) * time.Second,
	}, log)

	tracker := gamestate.NewTracker(gamestate.NewRedisKV(redisClient), log)

	snapshots := engine.NewGormSnapshotStore(db)
	if err := snapshots.Migrate(); err != nil {
		log.WithError(err).Fatal("Failed to migrate database schema")
	}

	hub := broadcast.NewHub(broadcast.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendQueueSize:     cfg.SendQueueSize,
		RetryQueueSize:    cfg.RetryQueueSize,
		RetryInterval:     cfg.RetryInterval,
	}, log)

	var features engine.FeatureProvider
	if cfg.FeatureAPIURL != "" {
		features = engine.NewHTTPFeatureProvider(cfg.FeatureAPIURL, cfg.FeatureAPITimeout)
	}

	probEngine := engine.NewEngine(tracker, cacheSvc, snapshots, features, hub, log)

	simSvc := simulation.NewService(simulation.Config{
		Workers:       cfg.SimulationWorkers,
		MaxWorkers:    cfg.MaxSimulationWorkers,
		MaxIterations: cfg.MaxIterations,
		MaxRetries:    cfg.MaxFetchRetries,
		Budget:        cfg.SimulationBudget,
		ScaleCooldown: cfg.ScaleCooldown,
	}, simulation.NewGormResultStore(db), hub, log)
	probEngine.SetSimulator(simSvc)

	guard := ingestion.NewGuard(cfg.Sources(), cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout, log)
	validator := validation.NewValidator(log)

	sources, schedules := buildSources(cfg)
	fetcher := ingestion.NewFetcher(sources, schedules, guard, validator, cacheSvc, probEngine, cfg.MaxFetchRetries, log)

	handlers := api.NewHandlers(
		db.DB,
		redisClient,
		probEngine,
		tracker,
		cacheSvc,
		snapshots,
		simSvc,
		hub,
		fetcher,
		guard,
		cfg.Sources(),
		cfg.SyncIterationLimit,
		log,
	)

	router := api.SetupRouter(handlers, hub, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx)
	go simSvc.Run(ctx)

	if err := fetcher.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start ingestion")
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	cancel()
	fetcher.Stop()
	simSvc.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

func initRedis(cfg *config.Config, log *logrus.Logger) (*redis.Client, error) {
	log.Info("Connecting to Redis...")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info("Redis connection established")
	return client, nil
}

// buildSources constructs a feed client per configured source along
// with its polling schedule
func buildSources(cfg *config.Config) ([]providers.DataSource, map[string]string) {
	sources := make([]providers.DataSource, 0, 4)
	schedules := make(map[string]string)

	for _, sc := range cfg.Sources() {
		if sc.BaseURL == "" {
			continue
		}
		switch sc.Name {
		case "scores":
			sources = append(sources, providers.NewScoresClient(sc))
		case "odds":
			sources = append(sources, providers.NewOddsClient(sc))
		case "weather":
			sources = append(sources, providers.NewWeatherClient(sc))
		case "injuries":
			sources = append(sources, providers.NewInjuryClient(sc))
		default:
			continue
		}
		schedules[sc.Name] = sc.PollInterval
	}

	return sources, schedules
}
