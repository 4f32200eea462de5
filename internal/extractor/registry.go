package extractor

import (
	"sync"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Registry maps source ids to their extractor implementations. Lookup by
// id replaces any runtime type inspection of page content.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]harvest.Extractor
}

// NewRegistry builds a Registry pre-populated with a SelectorExtractor per
// source configuration.
func NewRegistry(sources []harvest.SourceConfig) *Registry {
	r := &Registry{extractors: make(map[string]harvest.Extractor, len(sources))}
	for _, src := range sources {
		r.extractors[src.ID] = NewSelector(src)
	}
	return r
}

// Register installs (or replaces) the extractor for a source.
func (r *Registry) Register(sourceID string, ex harvest.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[sourceID] = ex
}

// Get returns the extractor for a source id.
func (r *Registry) Get(sourceID string) (harvest.Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.extractors[sourceID]
	if !ok {
		return nil, harvest.E(harvest.CodeInvalidJobConfig, "no extractor registered for source %q", sourceID)
	}
	return ex, nil
}
