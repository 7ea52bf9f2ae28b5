package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store for tests and one-shot builds.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Run
	seq  []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Run)}
}

// SaveRun persists a copy of run.
func (s *MemoryStore) SaveRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = copyRun(run)
	s.seq = append(s.seq, run.ID)
	return nil
}

// Runs lists runs newest first. Runs created at the same instant are ordered
// by insertion, latest first.
func (s *MemoryStore) Runs(ctx context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.seq))
	for i := len(s.seq) - 1; i >= 0; i-- {
		run := s.runs[s.seq[i]]
		out = append(out, run.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetRun returns a copy of the run with the given ID.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := copyRun(run)
	return &c, nil
}

// LatestRun returns the newest run.
func (s *MemoryStore) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.Runs(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: store is empty", ErrNotFound)
	}
	return s.GetRun(ctx, runs[0].ID)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func copyRun(run Run) Run {
	c := run
	c.Mappings = make([]Mapping, len(run.Mappings))
	for i, m := range run.Mappings {
		c.Mappings[i] = Mapping{
			Namespace:  m.Namespace,
			Population: m.Population,
			NodeIDs:    append([]int64(nil), m.NodeIDs...),
			Handles:    append([]int64(nil), m.Handles...),
		}
	}
	return c
}
