package grid

import (
	"context"
	"errors"
	"sync"
)

// ErrExecutorClosed is returned by requests made after Close.
var ErrExecutorClosed = errors.New("grid: executor closed")

// Snapshot is an immutable view of the grid taken between batches.
type Snapshot struct {
	Cells []GridCell
	Stats Stats
}

type request struct {
	batch *Batch
	read  func(*EvidenceGrid)
	reply chan ApplyResult
}

// Executor owns an EvidenceGrid on a single goroutine. Every mutation and
// every snapshot goes through one request channel, so batches never
// interleave and snapshots always fall between batches.
type Executor struct {
	grid *EvidenceGrid
	reqs chan request
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// NewExecutor starts the goroutine that owns g. The caller must not touch g
// directly afterwards.
func NewExecutor(g *EvidenceGrid) *Executor {
	e := &Executor{
		grid: g,
		reqs: make(chan request),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Executor) run() {
	defer close(e.done)
	for {
		select {
		case r := <-e.reqs:
			e.handle(r)
		case <-e.quit:
			// Serve requests that were already handed over.
			for {
				select {
				case r := <-e.reqs:
					e.handle(r)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) handle(r request) {
	if r.read != nil {
		r.read(e.grid)
		r.reply <- ApplyResult{}
		return
	}
	r.reply <- e.grid.Apply(r.batch)
}

// Submit applies b and returns its result. Once the executor has accepted
// the batch it is applied in full even if ctx is cancelled; cancellation
// only stops the caller waiting.
func (e *Executor) Submit(ctx context.Context, b *Batch) (ApplyResult, error) {
	return e.do(ctx, request{batch: b})
}

// Snapshot returns copies of the active cells and the grid counters.
func (e *Executor) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	_, err := e.do(ctx, request{read: func(g *EvidenceGrid) {
		s = Snapshot{Cells: g.AllActiveCells(), Stats: g.Stats()}
	}})
	if err != nil {
		// The read may still run later; s belongs to it now.
		return Snapshot{}, err
	}
	return s, nil
}

// EvictedKeys returns the grid's reclaimed-key history.
func (e *Executor) EvictedKeys(ctx context.Context) ([]SpatialKey, error) {
	var keys []SpatialKey
	_, err := e.do(ctx, request{read: func(g *EvidenceGrid) {
		keys = g.EvictedKeys()
	}})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// NewBatch returns an empty batch sized for the owned grid.
func (e *Executor) NewBatch() *Batch {
	return NewBatch(e.grid.cfg.BatchCapacity)
}

func (e *Executor) do(ctx context.Context, r request) (ApplyResult, error) {
	r.reply = make(chan ApplyResult, 1)
	select {
	case e.reqs <- r:
	case <-e.quit:
		return ApplyResult{}, ErrExecutorClosed
	case <-ctx.Done():
		return ApplyResult{}, ctx.Err()
	}
	select {
	case res := <-r.reply:
		return res, nil
	case <-ctx.Done():
		return ApplyResult{}, ctx.Err()
	}
}

// Close stops the executor after serving any request already handed over.
// It is safe to call more than once.
func (e *Executor) Close() {
	e.closeOnce.Do(func() { close(e.quit) })
	<-e.done
}
