package series

import (
	"context"
	"errors"
	"fmt"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// ErrNoFetcher is returned by Load on a buffer constructed without a Fetcher.
var ErrNoFetcher = errors.New("series: no fetcher configured")

// Fetcher is the external history collaborator. It must return points already
// sorted ascending by x with no duplicate x values.
type Fetcher interface {
	Fetch(ctx context.Context, opts types.LoadOptions) ([]*types.Point, error)
}

// Load fetches a historical batch, emits a LoadEvent, and returns the raw
// batch for the caller to feed back through Reset or Add. The buffer does not
// merge the batch itself. A successful Load sets the append hint: the fetch
// contract guarantees chronological order, so subsequent Adds take the fast
// path.
//
// Fetch failures propagate unwrapped of any retry or suppression policy.
//
// The returned generation was captured before the fetch suspended. A Reset
// racing the fetch bumps the buffer's generation, so a caller holding a stale
// batch detects it by comparing against Generation and discards the batch
// instead of appending it to a buffer that has since been cleared.
func (b *Buffer) Load(ctx context.Context, opts types.LoadOptions) ([]*types.Point, uint64, error) {
	gen := b.generation

	if b.fetcher == nil {
		return nil, gen, ErrNoFetcher
	}

	pts, err := b.fetcher.Fetch(ctx, opts)
	if err != nil {
		return nil, gen, fmt.Errorf("series: history fetch: %w", err)
	}

	b.appendMode = true
	b.emit(LoadEvent{Buffer: b})
	return pts, gen, nil
}
