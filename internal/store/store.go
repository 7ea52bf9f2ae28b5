// Package store persists identity snapshots of network builds.
//
// A Run records, for each namespace (real nodes, virtual spike generators),
// the population-scoped node id to engine handle mapping a build produced.
// Snapshots are read back by the CLI, the HTTP API and the MCP server.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinssen/bmtk/internal/engine"
	"github.com/clinssen/bmtk/internal/identity"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Namespace selects which identity pool a mapping came from.
type Namespace string

const (
	NamespaceReal    Namespace = "real"    // simulated nodes
	NamespaceVirtual Namespace = "virtual" // spike generators
)

// ParseNamespace accepts "real", "virtual" or empty (real).
func ParseNamespace(s string) (Namespace, error) {
	switch Namespace(s) {
	case "", NamespaceReal:
		return NamespaceReal, nil
	case NamespaceVirtual:
		return NamespaceVirtual, nil
	}
	return "", fmt.Errorf("unknown namespace %q (want real or virtual)", s)
}

// Mapping is one population's identity pool entry.
type Mapping struct {
	Namespace  Namespace `json:"namespace"`
	Population string    `json:"population"`
	NodeIDs    []int64   `json:"node_ids"`
	Handles    []int64   `json:"handles"`
}

// Run is a persisted identity snapshot of one build.
type Run struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	EngineVersion string    `json:"engine_version"`
	ConfigPath    string    `json:"config_path,omitempty"`
	Mappings      []Mapping `json:"mappings,omitempty"`
}

// RunSummary describes a run without its mappings.
type RunSummary struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	EngineVersion string    `json:"engine_version"`
	ConfigPath    string    `json:"config_path,omitempty"`
	Populations   int       `json:"populations"`
	Nodes         int       `json:"nodes"`
	VirtualNodes  int       `json:"virtual_nodes"`
}

// Store persists runs.
type Store interface {
	// SaveRun persists a run. Run IDs are unique.
	SaveRun(ctx context.Context, run Run) error
	// Runs lists runs newest first.
	Runs(ctx context.Context) ([]RunSummary, error)
	// GetRun returns a run with its mappings, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)
	// LatestRun returns the newest run, or ErrNotFound when there is none.
	LatestRun(ctx context.Context) (*Run, error)
	Close() error
}

// NewRun snapshots the real and virtual identity pools into a new run with a
// fresh ID.
func NewRun(engineVersion string, realPool, virtualPool *identity.Pool) Run {
	run := Run{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		EngineVersion: engineVersion,
	}
	run.Mappings = append(run.Mappings, snapshot(NamespaceReal, realPool)...)
	run.Mappings = append(run.Mappings, snapshot(NamespaceVirtual, virtualPool)...)
	return run
}

func snapshot(ns Namespace, pool *identity.Pool) []Mapping {
	if pool == nil {
		return nil
	}
	var out []Mapping
	for _, pop := range pool.Populations() {
		ids, handles := pool.Entries(pop)
		m := Mapping{Namespace: ns, Population: pop, NodeIDs: ids}
		for _, h := range handles {
			m.Handles = append(m.Handles, int64(h))
		}
		out = append(out, m)
	}
	return out
}

// Summary counts the run's populations and nodes.
func (r *Run) Summary() RunSummary {
	s := RunSummary{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		EngineVersion: r.EngineVersion,
		ConfigPath:    r.ConfigPath,
	}
	for _, m := range r.Mappings {
		switch m.Namespace {
		case NamespaceReal:
			s.Populations++
			s.Nodes += len(m.NodeIDs)
		case NamespaceVirtual:
			s.VirtualNodes += len(m.NodeIDs)
		}
	}
	return s
}

// Populations returns the population names recorded in a namespace, in
// creation order.
func (r *Run) Populations(ns Namespace) []string {
	var out []string
	for _, m := range r.Mappings {
		if m.Namespace == ns {
			out = append(out, m.Population)
		}
	}
	return out
}

// Pool rebuilds the identity pool of a namespace.
func (r *Run) Pool(ns Namespace) (*identity.Pool, error) {
	pool := identity.NewPool()
	for _, m := range r.Mappings {
		if m.Namespace != ns {
			continue
		}
		if err := pool.Create(m.Population); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		handles := make([]engine.Handle, len(m.Handles))
		for i, h := range m.Handles {
			handles[i] = engine.Handle(h)
		}
		if err := pool.AddMapping(m.Population, m.NodeIDs, handles); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
	}
	return pool, nil
}

// Resolve looks up engine handles for node ids of a population in a stored
// run. An empty runID means the latest run.
func Resolve(ctx context.Context, s Store, runID string, ns Namespace, population string, ids []int64) ([]engine.Handle, error) {
	run, err := Lookup(ctx, s, runID)
	if err != nil {
		return nil, err
	}
	pool, err := run.Pool(ns)
	if err != nil {
		return nil, err
	}
	return pool.Resolve(population, ids)
}

// Lookup returns the run with the given ID, or the latest run when id is empty.
func Lookup(ctx context.Context, s Store, id string) (*Run, error) {
	if id == "" {
		return s.LatestRun(ctx)
	}
	return s.GetRun(ctx, id)
}

// Open returns a store for the given backend ("sqlite" or "memory").
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteStore(path)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}
