package gamestate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/statline-dev/liveline/internal/models"
)

// KVStore persists canonical game state keyed by event id
type KVStore interface {
	Get(ctx context.Context, eventID string) (*models.GameState, error)
	Put(ctx context.Context, state *models.GameState) error
	Delete(ctx context.Context, eventID string) error
}

func stateKey(eventID string) string {
	return fmt.Sprintf("gamestate:%s", eventID)
}

// RedisKV is the production state store
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (s *RedisKV) Get(ctx context.Context, eventID string) (*models.GameState, error) {
	data, err := s.client.Get(ctx, stateKey(eventID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get game state: %w", err)
	}

	var state models.GameState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game state: %w", err)
	}
	return &state, nil
}

func (s *RedisKV) Put(ctx context.Context, state *models.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal game state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(state.EventID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to persist game state: %w", err)
	}
	return nil
}

func (s *RedisKV) Delete(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, stateKey(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to delete game state: %w", err)
	}
	return nil
}

// MemoryKV is an in-process state store used in tests
type MemoryKV struct {
	mu     sync.RWMutex
	states map[string]*models.GameState
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{states: make(map[string]*models.GameState)}
}

func (s *MemoryKV) Get(ctx context.Context, eventID string) (*models.GameState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[eventID]
	if !ok {
		return nil, models.ErrNotFound
	}
	// Deep copy through JSON so callers get a consistent snapshot
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var cp models.GameState
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *MemoryKV) Put(ctx context.Context, state *models.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var cp models.GameState
	if err := json.Unmarshal(data, &cp); err != nil {
		return err
	}
	s.mu.Lock()
	s.states[state.EventID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryKV) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	delete(s.states, eventID)
	s.mu.Unlock()
	return nil
}
