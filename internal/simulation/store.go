package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/database"
)

// ResultStore is the append-only persistence for simulation results,
// referenced by scenario id
type ResultStore interface {
	Append(ctx context.Context, result *models.SimulationResult) error
	Get(ctx context.Context, scenarioID uuid.UUID) (*models.SimulationResult, error)
}

// GormResultStore persists results as jsonb rows
type GormResultStore struct {
	db *database.DB
}

func NewGormResultStore(db *database.DB) *GormResultStore {
	return &GormResultStore{db: db}
}

func (s *GormResultStore) Append(ctx context.Context, result *models.SimulationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal simulation result: %w", err)
	}

	row := &models.SimulationRecord{
		ID:          uuid.New(),
		ScenarioID:  result.ScenarioID,
		EventID:     result.EventID,
		Result:      payload,
		Partial:     result.Partial,
		CompletedAt: result.CompletedAt,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to persist simulation result: %w", err)
	}
	return nil
}

func (s *GormResultStore) Get(ctx context.Context, scenarioID uuid.UUID) (*models.SimulationResult, error) {
	var row models.SimulationRecord
	err := s.db.WithContext(ctx).
		Where("scenario_id = ?", scenarioID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		return nil, models.ErrNotFound
	}

	var result models.SimulationResult
	if err := json.Unmarshal(row.Result, &result); err != nil {
		return nil, fmt.Errorf("corrupt simulation result %s: %w", row.ID, err)
	}
	return &result, nil
}

// MemoryResultStore keeps results in memory for tests
type MemoryResultStore struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*models.SimulationResult
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[uuid.UUID]*models.SimulationResult)}
}

func (s *MemoryResultStore) Append(ctx context.Context, result *models.SimulationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.ScenarioID] = &cp
	return nil
}

func (s *MemoryResultStore) Get(ctx context.Context, scenarioID uuid.UUID) (*models.SimulationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[scenarioID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *result
	return &cp, nil
}
