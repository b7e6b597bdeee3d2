package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statline-dev/liveline/internal/broadcast"
	"github.com/statline-dev/liveline/internal/cache"
	"github.com/statline-dev/liveline/internal/engine"
	"github.com/statline-dev/liveline/internal/gamestate"
	"github.com/statline-dev/liveline/internal/ingestion"
	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/internal/simulation"
	"github.com/statline-dev/liveline/internal/validation"
	"github.com/statline-dev/liveline/pkg/config"
)

type testServer struct {
	router *gin.Engine
	engine *engine.Engine
	sim    *simulation.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tracker := gamestate.NewTracker(gamestate.NewMemoryKV(), log)
	cacheSvc := cache.NewService(cache.NewMemoryStore(), cache.DefaultPolicy(), log)
	snapshots := engine.NewMemorySnapshotStore()
	hub := broadcast.NewHub(broadcast.Config{}, log)

	probEngine := engine.NewEngine(tracker, cacheSvc, snapshots, nil, hub, log)

	simSvc := simulation.NewService(simulation.Config{
		Workers:       2,
		MaxWorkers:    8,
		MaxIterations: 100000,
		MaxRetries:    1,
		Budget:        5 * time.Second,
		ScaleCooldown: 30 * time.Second,
	}, simulation.NewMemoryResultStore(), hub, log)
	probEngine.SetSimulator(simSvc)

	sources := []config.SourceConfig{{Name: "scores", RequestsPerMin: 60}}
	guard := ingestion.NewGuard(sources, 5, 30*time.Second, log)
	validator := validation.NewValidator(log)
	fetcher := ingestion.NewFetcher(nil, map[string]string{}, guard, validator, cacheSvc, probEngine, 3, log)

	handlers := NewHandlers(nil, nil, probEngine, tracker, cacheSvc, snapshots, simSvc, hub, fetcher, guard, sources, 5000, log)
	return &testServer{
		router: SetupRouter(handlers, hub, log),
		engine: probEngine,
		sim:    simSvc,
	}
}

func (s *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func seedEvent(t *testing.T, s *testServer) {
	t.Helper()
	_, err := s.engine.Initialize(context.Background(), &models.Event{
		ID:         "evt-1",
		HomeTeamID: "home",
		AwayTeamID: "away",
		Status:     models.StatusInProgress,
	}, &models.Team{Rating: 4}, &models.Team{Rating: 0}, nil)
	require.NoError(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := s.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetProbabilities(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodGet, "/api/v1/events/evt-1/probabilities", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedEvent(t, s)

	rec = s.request(t, http.MethodGet, "/api/v1/events/evt-1/probabilities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Probabilities models.GameProbabilities `json:"probabilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "evt-1", body.Probabilities.EventID)
	assert.Greater(t, body.Probabilities.Win.Home, 0.5)
}

func TestGetProbabilityHistory(t *testing.T) {
	s := newTestServer(t)
	seedEvent(t, s)

	rec := s.request(t, http.MethodGet, "/api/v1/events/evt-1/probabilities/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/events/evt-1/probabilities/history?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/events/evt-other/probabilities/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGameState(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodGet, "/api/v1/events/evt-1/state", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedEvent(t, s)

	rec = s.request(t, http.MethodGet, "/api/v1/events/evt-1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		State models.GameState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "evt-1", body.State.EventID)
}

func simulationRequest(iterations int) map[string]interface{} {
	return map[string]interface{}{
		"id":         uuid.New().String(),
		"event_id":   "evt-1",
		"iterations": iterations,
		"state": map[string]interface{}{
			"event_id":   "evt-1",
			"home_score": 14,
			"away_score": 10,
		},
		"variables": []map[string]interface{}{
			{
				"name":   "margin_drift",
				"weight": 1,
				"distribution": map[string]interface{}{
					"type": "normal", "mean": 0, "std_dev": 3,
				},
			},
		},
		"seed": 42,
	}
}

func TestCreateSimulationSync(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/v1/simulations", simulationRequest(2000))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Result models.SimulationResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2000, body.Result.Iterations)
	assert.Greater(t, body.Result.HomeWinRate, 0.5)
}

func TestCreateSimulationAsync(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/api/v1/simulations", simulationRequest(50000))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body struct {
		ScenarioID string `json:"scenario_id"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "queued", body.Status)
	assert.NotEmpty(t, body.ScenarioID)
}

func TestCreateSimulationRejectsBadScenario(t *testing.T) {
	s := newTestServer(t)

	req := simulationRequest(2000)
	req["variables"] = []map[string]interface{}{}
	rec := s.request(t, http.MethodPost, "/api/v1/simulations", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(t, http.MethodPost, "/api/v1/simulations", simulationRequest(10000000))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSimulationResult(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodGet, "/api/v1/simulations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/simulations/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Run one synchronously, then fetch it by id
	req := simulationRequest(2000)
	rec = s.request(t, http.MethodPost, "/api/v1/simulations", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.request(t, http.MethodGet, "/api/v1/simulations/"+req["id"].(string), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelSimulationNotRunning(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodDelete, "/api/v1/simulations/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStats(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Breakers map[string]struct {
			State string `json:"state"`
		} `json:"breakers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "closed", body.Breakers["scores"].State)
}

func TestRefreshUnknownSource(t *testing.T) {
	s := newTestServer(t)

	rec := s.request(t, http.MethodPost, "/admin/sources/bogus/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
