package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/transition-engine/types"
)

// Errors
var (
	ErrGraphNotFound     = errors.New("process graph not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrVersionConflict   = errors.New("process graph version conflict")
)

// Storage defines the interface for persisting and retrieving process graphs
// and execution records.
type Storage interface {
	// SaveGraph saves a process graph. A graph whose Version is lower than the
	// stored one is rejected with ErrVersionConflict.
	SaveGraph(ctx context.Context, g types.ProcessGraph) error

	// SaveGraphs saves a batch of graphs all or nothing. Every graph is held to
	// the SaveGraph version rule, including against earlier graphs of the batch.
	SaveGraphs(ctx context.Context, gs []types.ProcessGraph) error

	// GetGraph retrieves a process graph by ID.
	GetGraph(ctx context.Context, id string) (types.ProcessGraph, error)

	// ListGraphs returns every stored graph ordered by ID.
	ListGraphs(ctx context.Context) ([]types.ProcessGraph, error)

	// SaveExecution saves an execution record.
	SaveExecution(ctx context.Context, rec types.ExecutionRecord) error

	// GetExecution retrieves an execution record by ID.
	GetExecution(ctx context.Context, id string) (types.ExecutionRecord, error)

	// ListExecutions returns the executions of a graph, oldest first.
	ListExecutions(ctx context.Context, graphID string) ([]types.ExecutionRecord, error)

	// PruneExecutions deletes execution records created before the cutoff and
	// returns how many were removed.
	PruneExecutions(ctx context.Context, before time.Time) (int, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func checkVersion(stored, incoming types.ProcessGraph) error {
	if incoming.Version < stored.Version {
		return ErrVersionConflict
	}
	return nil
}

// checkBatch applies the version rule to a batch in order, against the stored
// versions and against what earlier graphs of the batch would store.
func checkBatch(stored map[string]int64, gs []types.ProcessGraph) error {
	seen := make(map[string]int64, len(stored)+len(gs))
	for id, v := range stored {
		seen[id] = v
	}
	for _, g := range gs {
		if v, ok := seen[g.ID]; ok && g.Version < v {
			return fmt.Errorf("%w: id=%s stored=%d incoming=%d", ErrVersionConflict, g.ID, v, g.Version)
		}
		seen[g.ID] = g.Version
	}
	return nil
}
