package history

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// Appender is the write side of a history store.
type Appender interface {
	Append(ctx context.Context, series string, pts []*types.Point) error
}

// BatchAppender coalesces single-point appends into per-series batches so the
// live ingest path does not pay a block rewrite per point. Batches flush when
// the buffered point count reaches the batch size or on the flush interval,
// whichever comes first.
type BatchAppender struct {
	target     Appender
	pending    map[string][]*types.Point
	buffered   int
	batchSize  int
	mu         sync.Mutex
	flushTimer *time.Timer
	interval   time.Duration
}

// NewBatchAppender creates a batching wrapper around target.
func NewBatchAppender(target Appender, batchSize int, interval time.Duration) *BatchAppender {
	ba := &BatchAppender{
		target:    target,
		pending:   make(map[string][]*types.Point),
		batchSize: batchSize,
		interval:  interval,
	}
	ba.flushTimer = time.AfterFunc(interval, ba.autoFlush)
	return ba
}

// Add buffers one point for a series.
func (ba *BatchAppender) Add(series string, p *types.Point) error {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	ba.pending[series] = append(ba.pending[series], p)
	ba.buffered++

	if ba.buffered >= ba.batchSize {
		return ba.flushLocked()
	}
	return nil
}

// Flush pushes all buffered points to the target.
func (ba *BatchAppender) Flush() error {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.flushLocked()
}

func (ba *BatchAppender) flushLocked() error {
	if ba.buffered == 0 {
		return nil
	}

	for series, pts := range ba.pending {
		if err := ba.target.Append(context.Background(), series, pts); err != nil {
			return fmt.Errorf("batch append failed: %w", err)
		}
		delete(ba.pending, series)
		ba.buffered -= len(pts)
	}
	return nil
}

func (ba *BatchAppender) autoFlush() {
	if err := ba.Flush(); err != nil {
		log.Printf("Batch flush failed: %v", err)
	}
	ba.mu.Lock()
	ba.flushTimer.Reset(ba.interval)
	ba.mu.Unlock()
}

// Close stops the timer and flushes what remains.
func (ba *BatchAppender) Close() error {
	if ba.flushTimer != nil {
		ba.flushTimer.Stop()
	}
	return ba.Flush()
}
