package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/songzhibin97/transition-engine/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	graphs     map[string]types.ProcessGraph
	executions map[string]types.ExecutionRecord
	mu         sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		graphs:     make(map[string]types.ProcessGraph),
		executions: make(map[string]types.ExecutionRecord),
	}
}

// getItem is a standalone generic helper function.
func getItem[T any](ctx context.Context, mu *sync.RWMutex, m map[string]T, id string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%s", errNotFound, id)
		}
		return item, nil
	})
}

// SaveGraph saves a process graph to memory.
func (s *MemoryStorage) SaveGraph(ctx context.Context, g types.ProcessGraph) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if stored, ok := s.graphs[g.ID]; ok {
			if err := checkVersion(stored, g); err != nil {
				return fmt.Errorf("%w: id=%s stored=%d incoming=%d", err, g.ID, stored.Version, g.Version)
			}
		}
		s.graphs[g.ID] = g
		return nil
	})
}

// GetGraph retrieves a process graph from memory.
func (s *MemoryStorage) GetGraph(ctx context.Context, id string) (types.ProcessGraph, error) {
	return getItem(ctx, &s.mu, s.graphs, id, ErrGraphNotFound)
}

// ListGraphs returns all graphs ordered by ID.
func (s *MemoryStorage) ListGraphs(ctx context.Context) ([]types.ProcessGraph, error) {
	return withContext(ctx, func() ([]types.ProcessGraph, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.ProcessGraph, 0, len(s.graphs))
		for _, g := range s.graphs {
			out = append(out, g)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	})
}

// SaveGraphs saves a batch of graphs under a single lock, all or nothing.
func (s *MemoryStorage) SaveGraphs(ctx context.Context, gs []types.ProcessGraph) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		stored := make(map[string]int64, len(gs))
		for _, g := range gs {
			if cur, ok := s.graphs[g.ID]; ok {
				stored[g.ID] = cur.Version
			}
		}
		if err := checkBatch(stored, gs); err != nil {
			return err
		}
		for _, g := range gs {
			s.graphs[g.ID] = g
		}
		return nil
	})
}

// SaveExecution saves an execution record to memory.
func (s *MemoryStorage) SaveExecution(ctx context.Context, rec types.ExecutionRecord) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.executions[rec.ID] = rec
		return nil
	})
}

// GetExecution retrieves an execution record from memory.
func (s *MemoryStorage) GetExecution(ctx context.Context, id string) (types.ExecutionRecord, error) {
	return getItem(ctx, &s.mu, s.executions, id, ErrExecutionNotFound)
}

// ListExecutions returns the executions of a graph, oldest first.
func (s *MemoryStorage) ListExecutions(ctx context.Context, graphID string) ([]types.ExecutionRecord, error) {
	return withContext(ctx, func() ([]types.ExecutionRecord, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.ExecutionRecord, 0)
		for _, rec := range s.executions {
			if rec.GraphID == graphID {
				out = append(out, rec)
			}
		}
		sortExecutions(out)
		return out, nil
	})
}

// PruneExecutions removes execution records created before the cutoff.
func (s *MemoryStorage) PruneExecutions(ctx context.Context, before time.Time) (int, error) {
	return withContext(ctx, func() (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		removed := 0
		for id, rec := range s.executions {
			if rec.CreatedAt.Before(before) {
				delete(s.executions, id)
				removed++
			}
		}
		return removed, nil
	})
}

func sortExecutions(recs []types.ExecutionRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
