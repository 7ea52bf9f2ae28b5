// Package weights keeps the named synaptic weight functions an edge adaptor
// can apply when a network description asks for computed weights.
package weights

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/clinssen/bmtk/internal/constants"
	"github.com/clinssen/bmtk/internal/utils"
)

// ErrNotFound is returned by Lookup for an unregistered name.
var ErrNotFound = errors.New("weight function not found")

// Func computes a connection weight from an edge's property bundle.
type Func func(edge map[string]any) float64

// Registry maps names to weight functions. Registering an existing name
// replaces it.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register stores fn under name, replacing any previous entry.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// RegisterDefault stores fn under the default weight function name.
func (r *Registry) RegisterDefault(fn Func) {
	r.Register(constants.DefaultWeightFunction, fn)
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return fn, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultWeight is syn_weight scaled by the number of synapses (nsyns, default 1).
func DefaultWeight(edge map[string]any) float64 {
	return utils.GetFloat64(edge, constants.SynWeightKey, 0) * float64(utils.GetInt(edge, constants.NSynsKey, 1))
}
