package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zono819/winbot/internal/domain/service"
)

// Constructor builds a fresh strategy instance
type Constructor func() service.Strategy

var _ service.StrategyFactory = (*Registry)(nil)

// Registry maps strategy names to constructors
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with the built-in strategies
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("trend_vwap", func() service.Strategy { return NewTrendVWAPStrategy() })
	r.Register("mean_reversion", func() service.Strategy { return NewMeanReversionStrategy() })
	return r
}

// Register adds or replaces a constructor
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Create creates a new strategy instance by name
func (r *Registry) Create(name string) (service.Strategy, error) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return c(), nil
}

// List returns available strategy names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
