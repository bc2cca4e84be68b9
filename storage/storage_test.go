package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/songzhibin97/transition-engine/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 9, 24, 12, 0, 0, 0, time.UTC)

func newGraph(id string, version int64) types.ProcessGraph {
	return types.ProcessGraph{
		ID:            id,
		Name:          "Ticket Workflow",
		Version:       version,
		InitialStepID: "open_step",
		Steps: []types.Step{
			{
				ID: "open_step", Name: "Open", Status: "open",
				Actions: []types.Action{{ID: "resolve", Name: "Resolve", To: "resolved_step"}},
			},
			{ID: "resolved_step", Name: "Resolved", Status: "resolved"},
		},
	}
}

func newExecution(id, graphID string, at time.Time) types.ExecutionRecord {
	return types.ExecutionRecord{
		ID:         id,
		GraphID:    graphID,
		RecordID:   "ticket-1",
		FromStepID: "open_step",
		ActionID:   "resolve",
		ActorID:    "agent-1",
		Result: &types.TransitionResult{
			ExecutionID: id,
			Success:     true,
			NewStepID:   "resolved_step",
			NewStatus:   "resolved",
		},
		CreatedAt: at,
	}
}

// runStorageSuite checks the behaviour every Storage implementation shares.
func runStorageSuite(t *testing.T, newStore func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("SaveAndGetGraph", func(t *testing.T) {
		store := newStore(t)
		g := newGraph("suite-save", 1)
		require.NoError(t, store.SaveGraph(ctx, g))

		got, err := store.GetGraph(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, g.ID, got.ID)
		assert.Equal(t, int64(1), got.Version)
		require.Len(t, got.Steps, 2)
		assert.Equal(t, "resolved_step", got.Steps[0].Actions[0].To)
	})

	t.Run("SaveGraphsBatch", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveGraphs(ctx, nil))
		require.NoError(t, store.SaveGraph(ctx, newGraph("suite-batch-b", 5)))

		err := store.SaveGraphs(ctx, []types.ProcessGraph{newGraph("suite-batch-a", 1), newGraph("suite-batch-b", 4)})
		assert.ErrorIs(t, err, ErrVersionConflict)
		_, err = store.GetGraph(ctx, "suite-batch-a")
		assert.ErrorIs(t, err, ErrGraphNotFound, "a rejected batch stores nothing")
		b, err := store.GetGraph(ctx, "suite-batch-b")
		require.NoError(t, err)
		assert.Equal(t, int64(5), b.Version)

		err = store.SaveGraphs(ctx, []types.ProcessGraph{newGraph("suite-batch-c", 3), newGraph("suite-batch-c", 2)})
		assert.ErrorIs(t, err, ErrVersionConflict, "later graphs of a batch cannot go back a version")

		require.NoError(t, store.SaveGraphs(ctx, []types.ProcessGraph{newGraph("suite-batch-a", 1), newGraph("suite-batch-b", 6)}))
		graphs, err := store.ListGraphs(ctx)
		require.NoError(t, err)
		require.Len(t, graphs, 2)
		assert.Equal(t, "suite-batch-a", graphs[0].ID)
		assert.Equal(t, int64(6), graphs[1].Version)
	})

	t.Run("GetGraphNotFound", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetGraph(ctx, "suite-missing")
		assert.ErrorIs(t, err, ErrGraphNotFound)
	})

	t.Run("VersionConflict", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveGraph(ctx, newGraph("suite-version", 2)))
		require.NoError(t, store.SaveGraph(ctx, newGraph("suite-version", 2)))
		require.NoError(t, store.SaveGraph(ctx, newGraph("suite-version", 3)))

		err := store.SaveGraph(ctx, newGraph("suite-version", 1))
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := store.GetGraph(ctx, "suite-version")
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("ListGraphs", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SaveGraph(ctx, newGraph("suite-list-b", 1)))
		require.NoError(t, store.SaveGraph(ctx, newGraph("suite-list-a", 1)))

		graphs, err := store.ListGraphs(ctx)
		require.NoError(t, err)
		var ids []string
		for _, g := range graphs {
			ids = append(ids, g.ID)
		}
		assert.Subset(t, ids, []string{"suite-list-a", "suite-list-b"})
		assert.IsIncreasing(t, ids)
	})

	t.Run("SaveAndGetExecution", func(t *testing.T) {
		store := newStore(t)
		rec := newExecution("suite-exec-1", "suite-exec-graph", baseTime)
		require.NoError(t, store.SaveExecution(ctx, rec))

		got, err := store.GetExecution(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.GraphID, got.GraphID)
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
		require.NotNil(t, got.Result)
		assert.Equal(t, "resolved", got.Result.NewStatus)

		_, err = store.GetExecution(ctx, "suite-exec-missing")
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})

	t.Run("ListExecutionsOrdered", func(t *testing.T) {
		store := newStore(t)
		graphID := "suite-order-graph"
		require.NoError(t, store.SaveExecution(ctx, newExecution("suite-order-2", graphID, baseTime.Add(2*time.Minute))))
		require.NoError(t, store.SaveExecution(ctx, newExecution("suite-order-1", graphID, baseTime.Add(time.Minute))))
		require.NoError(t, store.SaveExecution(ctx, newExecution("suite-order-other", "suite-other-graph", baseTime)))

		recs, err := store.ListExecutions(ctx, graphID)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "suite-order-1", recs[0].ID)
		assert.Equal(t, "suite-order-2", recs[1].ID)

		recs, err = store.ListExecutions(ctx, "suite-empty-graph")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("PruneExecutions", func(t *testing.T) {
		store := newStore(t)
		graphID := "suite-prune-graph"
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("suite-prune-%d", i)
			require.NoError(t, store.SaveExecution(ctx, newExecution(id, graphID, baseTime.Add(time.Duration(i)*time.Hour))))
		}

		removed, err := store.PruneExecutions(ctx, baseTime.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		recs, err := store.ListExecutions(ctx, graphID)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "suite-prune-2", recs[0].ID)

		_, err = store.GetExecution(ctx, "suite-prune-0")
		assert.ErrorIs(t, err, ErrExecutionNotFound)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		store := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := store.SaveGraph(cctx, newGraph("suite-cancel", 1))
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.GetGraph(cctx, "suite-cancel")
		assert.ErrorIs(t, err, context.Canceled)
	})
}
