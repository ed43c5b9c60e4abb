package grid

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_SerializesConcurrentSubmits(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, testConfig().WithCapacity(1024))
	e := NewExecutor(g)
	defer e.Close()

	ctx := context.Background()
	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b := e.NewBatch()
				// Each batch touches the same key twice; interleaving would
				// be visible as a partial batch.
				k := uint64(w*perWriter + i)
				b.Add(insert(k))
				b.Add(UpdateOp(keyN(k), mass0(), 2, 0))
				res, err := e.Submit(ctx, b)
				assert.NoError(t, err)
				assert.Equal(t, 1, res.Inserted)
				assert.Equal(t, 1, res.Fused)
			}
		}(w)
	}
	wg.Wait()

	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Cells, writers*perWriter)
	for _, c := range snap.Cells {
		assert.Equal(t, uint32(2), c.ObservationCount)
	}
	assert.Equal(t, uint64(writers*perWriter), snap.Stats.BatchesApplied)
}

func TestExecutor_SnapshotBetweenBatches(t *testing.T) {
	t.Parallel()
	e := NewExecutor(newTestGrid(t, testConfig()))
	defer e.Close()
	ctx := context.Background()

	_, err := e.Submit(ctx, batchOf(insert(1), insert(2)))
	require.NoError(t, err)
	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Cells, 2)

	// Mutating the snapshot does not reach the grid.
	snap.Cells[0].PatchID = "changed"
	again, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "patch", again.Cells[0].PatchID)

	keys, err := e.EvictedKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestExecutor_Close(t *testing.T) {
	t.Parallel()
	e := NewExecutor(newTestGrid(t, testConfig()))
	e.Close()
	e.Close()

	_, err := e.Submit(context.Background(), batchOf(insert(1)))
	assert.ErrorIs(t, err, ErrExecutorClosed)
	_, err = e.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrExecutorClosed)
}

func TestExecutor_CancelledContext(t *testing.T) {
	t.Parallel()
	e := NewExecutor(newTestGrid(t, testConfig()))
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// A cancelled caller may or may not have been served; either way no
	// error other than the context's is returned.
	_, err := e.Submit(ctx, batchOf(insert(1)))
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
