package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// ItemStore keeps processed items in maps with a fingerprint index.
type ItemStore struct {
	mu            sync.RWMutex
	items         map[string]harvest.ProcessedItem
	byFingerprint map[fingerprintKey][]string
}

type fingerprintKey struct {
	sourceID    string
	fingerprint string
}

// NewItemStore constructs an ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:         make(map[string]harvest.ProcessedItem),
		byFingerprint: make(map[fingerprintKey][]string),
	}
}

// PutItem upserts a processed item.
func (s *ItemStore) PutItem(_ context.Context, item harvest.ProcessedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; !exists {
		key := fingerprintKey{sourceID: item.Raw.SourceID, fingerprint: item.Fingerprint}
		s.byFingerprint[key] = append(s.byFingerprint[key], item.ID)
	}
	s.items[item.ID] = item
	return nil
}

// GetItem fetches an item by ID.
func (s *ItemStore) GetItem(_ context.Context, id string) (harvest.ProcessedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return harvest.ProcessedItem{}, harvest.ErrNotFound
	}
	return item, nil
}

// FindByFingerprint returns items from the source with the same
// content fingerprint.
func (s *ItemStore) FindByFingerprint(_ context.Context, sourceID, fingerprint string) ([]harvest.ProcessedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byFingerprint[fingerprintKey{sourceID: sourceID, fingerprint: fingerprint}]
	out := make([]harvest.ProcessedItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// RecentAccepted returns the latest accepted items, optionally limited
// to one category.
func (s *ItemStore) RecentAccepted(_ context.Context, category string, limit int) ([]harvest.ProcessedItem, error) {
	s.mu.RLock()
	accepted := make([]harvest.ProcessedItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Decision != harvest.DecisionAccept {
			continue
		}
		if category != "" && item.Raw.Category != category {
			continue
		}
		accepted = append(accepted, item)
	}
	s.mu.RUnlock()

	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].ProcessedAt.After(accepted[j].ProcessedAt)
	})
	if limit > 0 && len(accepted) > limit {
		accepted = accepted[:limit]
	}
	return accepted, nil
}
