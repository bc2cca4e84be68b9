package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})

	t.Run("NewMemoryStorage", func(t *testing.T) {
		store := NewMemoryStorage()
		assert.NotNil(t, store)
		assert.Empty(t, store.graphs)
		assert.Empty(t, store.executions)
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		store := NewMemoryStorage()
		ctx := context.Background()
		require.NoError(t, store.SaveGraph(ctx, newGraph("shared", 1)))

		var wg sync.WaitGroup
		const numGoroutines = 10
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("exec-%d", i)
				assert.NoError(t, store.SaveExecution(ctx, newExecution(id, "shared", baseTime)))
				_, err := store.GetGraph(ctx, "shared")
				assert.NoError(t, err)
				_, err = store.GetExecution(ctx, id)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		recs, err := store.ListExecutions(ctx, "shared")
		require.NoError(t, err)
		assert.Len(t, recs, numGoroutines)
		assert.IsIncreasing(t, []string{recs[0].ID, recs[1].ID})
	})
}
