// Package workers provides the worker registry, health cache, and discovery
// service for the dispatch subsystem. It answers "is this worker usable" and
// "give me the best usable worker" against a static pool of remote execution
// backends.
package workers

import (
	"sort"

	"github.com/intexuraos/code-dispatch/internal/domain"
)

// Registry holds the static worker pool, sorted ascending by priority.
// Immutable after construction.
type Registry struct {
	workers []domain.WorkerConfig
	byLoc   map[domain.WorkerLocation]domain.WorkerConfig
}

// NewRegistry creates a registry from the parsed worker configs
func NewRegistry(configs []domain.WorkerConfig) *Registry {
	sorted := make([]domain.WorkerConfig, len(configs))
	copy(sorted, configs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	byLoc := make(map[domain.WorkerLocation]domain.WorkerConfig, len(sorted))
	for _, w := range sorted {
		byLoc[w.Location] = w
	}

	return &Registry{workers: sorted, byLoc: byLoc}
}

// All returns the workers in ascending priority order
func (r *Registry) All() []domain.WorkerConfig {
	out := make([]domain.WorkerConfig, len(r.workers))
	copy(out, r.workers)
	return out
}

// ByLocation returns the config for a location
func (r *Registry) ByLocation(loc domain.WorkerLocation) (domain.WorkerConfig, bool) {
	w, ok := r.byLoc[loc]
	return w, ok
}

// Count returns the number of configured workers
func (r *Registry) Count() int {
	return len(r.workers)
}
