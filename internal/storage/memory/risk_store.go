package memory

import (
	"context"
	"sync"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// RiskStore keeps per-source risk snapshots in a map.
type RiskStore struct {
	mu     sync.RWMutex
	states map[string]harvest.SourceRiskState
}

// NewRiskStore constructs a RiskStore.
func NewRiskStore() *RiskStore {
	return &RiskStore{states: make(map[string]harvest.SourceRiskState)}
}

// UpsertRisk stores the latest snapshot for a source.
func (s *RiskStore) UpsertRisk(_ context.Context, state harvest.SourceRiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SourceID] = state
	return nil
}

// GetRisk fetches the snapshot for a source.
func (s *RiskStore) GetRisk(_ context.Context, sourceID string) (harvest.SourceRiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sourceID]
	if !ok {
		return harvest.SourceRiskState{}, harvest.ErrNotFound
	}
	return state, nil
}
