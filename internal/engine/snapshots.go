package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/database"
)

// SnapshotStore persists the append-only probability history
type SnapshotStore interface {
	Append(ctx context.Context, snap *models.GameProbabilities) error
	History(ctx context.Context, eventID string, limit int) ([]models.GameProbabilities, error)
}

// GormSnapshotStore persists snapshots as jsonb rows keyed by
// (event id, timestamp)
type GormSnapshotStore struct {
	db *database.DB
}

func NewGormSnapshotStore(db *database.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

// Migrate creates the snapshot and simulation tables
func (s *GormSnapshotStore) Migrate() error {
	return s.db.AutoMigrate(&models.ProbabilitySnapshot{}, &models.SimulationRecord{})
}

func (s *GormSnapshotStore) Append(ctx context.Context, snap *models.GameProbabilities) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	row := &models.ProbabilitySnapshot{
		ID:        snap.ID,
		EventID:   snap.EventID,
		Timestamp: snap.Timestamp,
		Payload:   payload,
		Degraded:  snap.Degraded,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

func (s *GormSnapshotStore) History(ctx context.Context, eventID string, limit int) ([]models.GameProbabilities, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.ProbabilitySnapshot
	err := s.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot history: %w", err)
	}

	snaps := make([]models.GameProbabilities, 0, len(rows))
	for _, row := range rows {
		var snap models.GameProbabilities
		if err := json.Unmarshal(row.Payload, &snap); err != nil {
			return nil, fmt.Errorf("corrupt snapshot %s: %w", row.ID, err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// MemorySnapshotStore keeps history in memory for tests
type MemorySnapshotStore struct {
	snaps map[string][]models.GameProbabilities
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string][]models.GameProbabilities)}
}

func (s *MemorySnapshotStore) Append(ctx context.Context, snap *models.GameProbabilities) error {
	cp := *snap
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	s.snaps[snap.EventID] = append(s.snaps[snap.EventID], cp)
	return nil
}

func (s *MemorySnapshotStore) History(ctx context.Context, eventID string, limit int) ([]models.GameProbabilities, error) {
	history := s.snaps[eventID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]models.GameProbabilities, len(history))
	copy(out, history)
	return out, nil
}
