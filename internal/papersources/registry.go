package papersources

import (
	"fmt"
	"sort"
	"sync"

	"github.com/helixir/ask-llm/internal/domain"
)

// Registry holds the configured academic indexes. Discovery selects one by
// type; there is no runtime probing.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]PaperSource
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]PaperSource),
	}
}

// Register adds a source to the registry.
// If a source with the same type already exists, it will be replaced.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns a source by type, or nil if not found.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// Select returns the enabled source of the given type.
func (r *Registry) Select(sourceType domain.SourceType) (PaperSource, error) {
	source := r.Get(sourceType)
	if source == nil {
		return nil, fmt.Errorf("discovery backend %q: %w", sourceType, domain.ErrNotFound)
	}
	if !source.IsEnabled() {
		return nil, fmt.Errorf("discovery backend %q is disabled: %w", sourceType, domain.ErrServiceUnavailable)
	}
	return source, nil
}

// Types returns the registered source types in sorted order.
func (r *Registry) Types() []domain.SourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.SourceType, 0, len(r.sources))
	for t := range r.sources {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
