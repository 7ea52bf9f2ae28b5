// Package identity maps population-scoped node ids to engine handles.
//
// A Pool is partitioned by population name. Each population holds two
// parallel sequences, node ids and handles, where the i-th id maps to the
// i-th handle. Real nodes and virtual spike sources live in separate Pool
// instances because their node ids may collide.
//
// A Pool is not safe for concurrent mutation; a build phase is its only writer.
package identity

import (
	"errors"
	"fmt"

	"github.com/clinssen/bmtk/internal/engine"
)

var (
	// ErrNotFound is the lookup failure kind wrapped by ErrUnknownPopulation and ErrUnknownNode.
	ErrNotFound = errors.New("identity not found")

	ErrUnknownPopulation = fmt.Errorf("%w: unknown population", ErrNotFound)
	ErrUnknownNode       = fmt.Errorf("%w: unknown node id", ErrNotFound)

	ErrPoolExists     = errors.New("population pool already exists")
	ErrLengthMismatch = errors.New("node ids and handles differ in length")
	ErrDuplicateNode  = errors.New("node id already mapped")
)

type table struct {
	nodeIDs []int64
	handles []engine.Handle
	index   map[int64]int
}

// Pool is a population-partitioned node id to handle mapping.
type Pool struct {
	tables map[string]*table
	order  []string
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{tables: make(map[string]*table)}
}

// Create registers an empty table for population.
// It fails with ErrPoolExists rather than replacing an existing table.
func (p *Pool) Create(population string) error {
	if _, ok := p.tables[population]; ok {
		return fmt.Errorf("%w: %q", ErrPoolExists, population)
	}
	p.tables[population] = &table{index: make(map[int64]int)}
	p.order = append(p.order, population)
	return nil
}

// Has reports whether population has a table.
func (p *Pool) Has(population string) bool {
	_, ok := p.tables[population]
	return ok
}

// Len returns the number of mapped nodes in population (0 if unknown).
func (p *Pool) Len(population string) int {
	t, ok := p.tables[population]
	if !ok {
		return 0
	}
	return len(t.nodeIDs)
}

// Populations returns population names in creation order.
func (p *Pool) Populations() []string {
	return append([]string(nil), p.order...)
}

// AddMapping appends parallel (node id, handle) pairs to population.
// The batch is validated as a whole before anything is appended.
func (p *Pool) AddMapping(population string, nodeIDs []int64, handles []engine.Handle) error {
	t, ok := p.tables[population]
	if !ok {
		return fmt.Errorf("add mapping to %q: %w", population, ErrUnknownPopulation)
	}
	if len(nodeIDs) != len(handles) {
		return fmt.Errorf("add mapping to %q: %w (%d ids, %d handles)",
			population, ErrLengthMismatch, len(nodeIDs), len(handles))
	}

	seen := make(map[int64]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		if _, dup := t.index[id]; dup {
			return fmt.Errorf("add mapping to %q: %w: %d", population, ErrDuplicateNode, id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("add mapping to %q: %w: %d", population, ErrDuplicateNode, id)
		}
		seen[id] = struct{}{}
	}

	for i, id := range nodeIDs {
		t.index[id] = len(t.nodeIDs)
		t.nodeIDs = append(t.nodeIDs, id)
		t.handles = append(t.handles, handles[i])
	}
	return nil
}

// Resolve returns the handle of every node id, in input order.
// Repeats are allowed. Any unknown population or node id fails the whole call.
func (p *Pool) Resolve(population string, nodeIDs []int64) ([]engine.Handle, error) {
	t, ok := p.tables[population]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", population, ErrUnknownPopulation)
	}

	out := make([]engine.Handle, len(nodeIDs))
	for i, id := range nodeIDs {
		pos, ok := t.index[id]
		if !ok {
			return nil, fmt.Errorf("resolve %q: %w: %d", population, ErrUnknownNode, id)
		}
		out[i] = t.handles[pos]
	}
	return out, nil
}

// Entries returns copies of population's node ids and handles in insertion order.
func (p *Pool) Entries(population string) ([]int64, []engine.Handle) {
	t, ok := p.tables[population]
	if !ok {
		return nil, nil
	}
	return append([]int64(nil), t.nodeIDs...), append([]engine.Handle(nil), t.handles...)
}
