package series

import (
	"fmt"
	"sort"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// Interpolation is the display hint derived from the y field's value domain.
type Interpolation string

const (
	InterpolationLinear    Interpolation = "linear"
	InterpolationStepAfter Interpolation = "stepAfter"
)

// purgeRemoveLimit bounds the individual-removal purge strategy. Below this
// many out-of-range points they are removed one by one, each emitting a
// RemoveEvent; at or above it the whole buffer is replaced via Reset so that
// observers see a single event instead of thousands.
const purgeRemoveLimit = 1000

// extractors is the active x/y extraction strategy. It is replaced as a whole
// on Configure, never mutated field by field on a live buffer.
type extractors struct {
	x func(*types.Point) float64
	y func(*types.Point) float64
}

// Stats tracks the running min/max of the y values over all stored points.
type Stats struct {
	MinValue float64
	MaxValue float64
	MinPoint *types.Point
	MaxPoint *types.Point
}

// Config assembles a Buffer's collaborators and passive display attributes.
type Config struct {
	XKey     string
	YKey     string
	Formats  *FormatRegistry
	Metadata MetadataProvider
	Limits   LimitEvaluator // optional; nil leaves every point unclassified
	Fetcher  Fetcher        // optional; required only for Load

	Name    string
	Color   string
	Markers bool
}

// Buffer is a sorted, bounded-memory point collection backing a live plot.
// Points are kept strictly ascending by x value with no duplicate x values.
//
// A Buffer is single-writer by contract: all methods must be called from one
// goroutine (or under an external lock). It carries no internal locking.
type Buffer struct {
	formats *FormatRegistry
	meta    MetadataProvider
	limits  LimitEvaluator
	fetcher Fetcher

	xKey    string
	yKey    string
	extract extractors
	yMeta   types.ValueMetadata
	interp  Interpolation

	points []*types.Point
	stats  *Stats

	appendMode bool
	generation uint64

	subs      []subscriber
	nextSubID int

	name    string
	color   string
	markers bool
}

// New creates an empty buffer and binds its x/y field keys.
func New(cfg Config) (*Buffer, error) {
	if cfg.Formats == nil {
		return nil, fmt.Errorf("series: format registry is required")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("series: metadata provider is required")
	}

	b := &Buffer{
		formats: cfg.Formats,
		meta:    cfg.Metadata,
		limits:  cfg.Limits,
		fetcher: cfg.Fetcher,
		name:    cfg.Name,
		color:   cfg.Color,
		markers: cfg.Markers,
	}

	if err := b.Configure(cfg.XKey, cfg.YKey); err != nil {
		return nil, err
	}

	return b, nil
}

// Configure rebinds the x/y extractors to the formats registered for the given
// keys. A y-key change re-resolves value metadata and re-derives the
// interpolation mode: enumerated domains plot step-after, continuous domains
// linear. Stored points keep the classification they were inserted with;
// reconfiguring without a Reset leaves them stale by design.
func (b *Buffer) Configure(xKey, yKey string) error {
	if xKey == b.xKey && yKey == b.yKey && b.extract.x != nil {
		return nil
	}

	xf, ok := b.formats.Lookup(xKey)
	if !ok {
		return &ConfigurationError{Key: xKey, Missing: "format"}
	}

	next := extractors{x: xf.Parse, y: b.extract.y}

	if yKey != b.yKey || b.extract.y == nil {
		yf, ok := b.formats.Lookup(yKey)
		if !ok {
			return &ConfigurationError{Key: yKey, Missing: "format"}
		}
		meta, ok := b.meta.Metadata(yKey)
		if !ok {
			return &ConfigurationError{Key: yKey, Missing: "metadata"}
		}

		next.y = yf.Parse
		b.yMeta = meta
		if meta.Enumerated {
			b.interp = InterpolationStepAfter
		} else {
			b.interp = InterpolationLinear
		}
	}

	b.extract = next
	b.xKey = xKey
	b.yKey = yKey
	return nil
}

// Add inserts p preserving the sort invariant and returns whether it was
// stored. A point whose x value collides with a stored point is rejected
// silently: no mutation, no event.
//
// While the append hint is set (after Load, or via SetAppendOnly) the search
// and the duplicate check are skipped and p goes straight to the end. Feeding
// an out-of-order or duplicate point in that mode corrupts the sort invariant
// silently; the ordering guarantee is the caller's.
func (b *Buffer) Add(p *types.Point) bool {
	if b.appendMode {
		b.insertAt(len(b.points), p)
		return true
	}

	x := b.extract.x(p)
	i := b.sortedIndex(x)
	if i < len(b.points) && b.extract.x(b.points[i]) == x {
		return false
	}
	if i > 0 && b.extract.x(b.points[i-1]) == x {
		return false
	}

	b.insertAt(i, p)
	return true
}

// Append inserts p at the end unconditionally. Same caller contract as the
// append path of Add.
func (b *Buffer) Append(p *types.Point) {
	b.insertAt(len(b.points), p)
}

// insertAt is the single insertion primitive: stats, classification, splice,
// event, in that order.
func (b *Buffer) insertAt(i int, p *types.Point) {
	b.updateStats(p)
	p.Limit = b.classify(p)

	b.points = append(b.points, nil)
	copy(b.points[i+1:], b.points[i:])
	b.points[i] = p

	b.emit(AddEvent{Point: p, Index: i, Buffer: b})
}

// Remove excises p, located by identity, and returns whether it was found.
// Statistics are deliberately not recomputed here: Remove stays O(n) worst
// case so the purge small-removal strategy keeps its cost bound. Callers that
// remove an extreme point must follow up with ResetStats.
func (b *Buffer) Remove(p *types.Point) bool {
	for i, q := range b.points {
		if q == p {
			b.points = append(b.points[:i], b.points[i+1:]...)
			b.emit(RemoveEvent{Point: p, Index: i, Buffer: b})
			return true
		}
	}
	return false
}

// Reset clears the buffer, bumps the generation, emits a ResetEvent, then
// appends any seed points. The seed must already be sorted and free of
// duplicate x values, matching the Load contract; each seed point is
// classified, folded into stats, and announced with an AddEvent.
func (b *Buffer) Reset(seed []*types.Point) {
	b.points = nil
	b.stats = nil
	b.generation++
	b.emit(ResetEvent{Buffer: b})

	for _, p := range seed {
		b.insertAt(len(b.points), p)
	}
}

// ResetStats rebuilds the running statistics from scratch. O(n); used after
// bulk structural changes where incremental updates were skipped.
func (b *Buffer) ResetStats() {
	b.stats = nil
	for _, p := range b.points {
		b.updateStats(p)
	}
}

// updateStats folds one point into the running min/max. Strict comparisons:
// on a tie the first point to reach an extreme keeps it.
func (b *Buffer) updateStats(p *types.Point) {
	y := b.extract.y(p)

	if b.stats == nil {
		b.stats = &Stats{MinValue: y, MaxValue: y, MinPoint: p, MaxPoint: p}
		return
	}
	if y < b.stats.MinValue {
		b.stats.MinValue = y
		b.stats.MinPoint = p
	}
	if y > b.stats.MaxValue {
		b.stats.MaxValue = y
		b.stats.MaxPoint = p
	}
}

// sortedIndex returns the leftmost index at which a point with the given x
// value keeps the buffer sorted.
func (b *Buffer) sortedIndex(x float64) int {
	return sort.Search(len(b.points), func(i int) bool {
		return b.extract.x(b.points[i]) >= x
	})
}

// Nearest returns the stored point whose x value is closest to x, or nil for
// an empty buffer. On an exact distance tie the successor wins.
func (b *Buffer) Nearest(x float64) *types.Point {
	if len(b.points) == 0 {
		return nil
	}

	i := b.sortedIndex(x)
	if i == 0 {
		return b.points[0]
	}
	if i == len(b.points) {
		return b.points[len(b.points)-1]
	}

	prev := b.points[i-1]
	next := b.points[i]
	if x-b.extract.x(prev) < b.extract.x(next)-x {
		return prev
	}
	return next
}

// NearestPoint is Nearest keyed by another point's x value.
func (b *Buffer) NearestPoint(p *types.Point) *types.Point {
	return b.Nearest(b.extract.x(p))
}

// PurgeOutsideRange drops every point whose x value lies outside r, bounds
// inclusive. Few casualties are removed individually (observers see each
// RemoveEvent, then stats are rebuilt once); at purgeRemoveLimit or more the
// retained window reseeds the buffer through Reset in a single replacement.
func (b *Buffer) PurgeOutsideRange(r types.Range) {
	// An inverted range selects nothing; no-op rather than purge everything.
	if r.Min > r.Max {
		return
	}

	start := b.sortedIndex(r.Min)
	end := sort.Search(len(b.points), func(i int) bool {
		return b.extract.x(b.points[i]) > r.Max
	})

	outside := start + (len(b.points) - end)
	if outside == 0 {
		return
	}

	if outside < purgeRemoveLimit {
		doomed := make([]*types.Point, 0, outside)
		doomed = append(doomed, b.points[:start]...)
		doomed = append(doomed, b.points[end:]...)
		for _, p := range doomed {
			b.Remove(p)
		}
		b.ResetStats()
		return
	}

	kept := make([]*types.Point, end-start)
	copy(kept, b.points[start:end])
	b.Reset(kept)
}

// Value parses the named field of p to its numeric value.
func (b *Buffer) Value(p *types.Point, key string) (float64, error) {
	f, ok := b.formats.Lookup(key)
	if !ok {
		return 0, &ConfigurationError{Key: key, Missing: "format"}
	}
	return f.Parse(p), nil
}

// FormatValue renders the named field of p as a display string.
func (b *Buffer) FormatValue(p *types.Point, key string) (string, error) {
	f, ok := b.formats.Lookup(key)
	if !ok {
		return "", &ConfigurationError{Key: key, Missing: "format"}
	}
	return f.Format(f.Parse(p)), nil
}

func (b *Buffer) classify(p *types.Point) types.LimitLevel {
	if b.limits == nil {
		return types.LimitNone
	}
	return b.limits.Evaluate(p, b.extract.y(p), b.yMeta)
}

// X returns p's extracted x value under the current configuration.
func (b *Buffer) X(p *types.Point) float64 { return b.extract.x(p) }

// Y returns p's extracted y value under the current configuration.
func (b *Buffer) Y(p *types.Point) float64 { return b.extract.y(p) }

// Points returns a copy of the stored points in x order.
func (b *Buffer) Points() []*types.Point {
	out := make([]*types.Point, len(b.points))
	copy(out, b.points)
	return out
}

// Len returns the number of stored points.
func (b *Buffer) Len() int { return len(b.points) }

// Stats returns a copy of the running statistics; ok is false while the
// buffer is empty.
func (b *Buffer) Stats() (Stats, bool) {
	if b.stats == nil {
		return Stats{}, false
	}
	return *b.stats, true
}

// SetAppendOnly sets or clears the append hint consulted by Add.
func (b *Buffer) SetAppendOnly(v bool) { b.appendMode = v }

// AppendOnly reports whether the append hint is set.
func (b *Buffer) AppendOnly() bool { return b.appendMode }

// Generation returns the reset generation, incremented by every Reset.
func (b *Buffer) Generation() uint64 { return b.generation }

// XKey returns the configured x field key.
func (b *Buffer) XKey() string { return b.xKey }

// YKey returns the configured y field key.
func (b *Buffer) YKey() string { return b.yKey }

// Interpolation returns the derived display interpolation mode.
func (b *Buffer) Interpolation() Interpolation { return b.interp }

// Name returns the display name.
func (b *Buffer) Name() string { return b.name }

// Color returns the display color.
func (b *Buffer) Color() string { return b.color }

// Markers reports whether point markers should be drawn.
func (b *Buffer) Markers() bool { return b.markers }
