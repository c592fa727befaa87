package series

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

func testFormats() *FormatRegistry {
	reg := NewFormatRegistry()
	reg.Register("timestamp", TimeFormat{Key: "timestamp"})
	reg.Register("value", FloatFormat{Key: "value", Precision: 2, Units: "V"})
	reg.Register("mode", EnumFormat{Key: "mode", States: testStates()})
	return reg
}

func testStates() map[int64]types.State {
	return map[int64]types.State{
		0: {Label: "OFF"},
		1: {Label: "ON"},
		2: {Label: "FAULT", Level: types.LimitCritical},
	}
}

func testMetadata() MetadataMap {
	return MetadataMap{
		"value": {Key: "value", Units: "V"},
		"mode":  {Key: "mode", Enumerated: true, States: testStates()},
	}
}

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()

	b, err := New(Config{
		XKey:     "timestamp",
		YKey:     "value",
		Formats:  testFormats(),
		Metadata: testMetadata(),
	})
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}
	return b
}

func pt(x, y float64) *types.Point {
	return types.NewPoint(map[string]any{"timestamp": x, "value": y})
}

func assertSorted(t *testing.T, b *Buffer) {
	t.Helper()

	pts := b.Points()
	for i := 1; i < len(pts); i++ {
		if b.X(pts[i-1]) >= b.X(pts[i]) {
			t.Fatalf("Sort invariant broken at %d: %f >= %f",
				i, b.X(pts[i-1]), b.X(pts[i]))
		}
	}
}

func TestAddKeepsSorted(t *testing.T) {
	b := newTestBuffer(t)

	xs := make([]float64, 200)
	for i := range xs {
		xs[i] = float64(i)
	}
	rng := rand.New(rand.NewSource(1))
	rng.Shuffle(len(xs), func(i, j int) { xs[i], xs[j] = xs[j], xs[i] })

	for _, x := range xs {
		if !b.Add(pt(x, x*2)) {
			t.Fatalf("Add(%f) rejected", x)
		}
		assertSorted(t, b)
	}

	if b.Len() != 200 {
		t.Errorf("Expected 200 points, got %d", b.Len())
	}
}

func TestAddRejectsDuplicateX(t *testing.T) {
	b := newTestBuffer(t)

	var adds int
	b.Subscribe(func(ev Event) {
		if _, ok := ev.(AddEvent); ok {
			adds++
		}
	})

	if !b.Add(pt(5, 1)) {
		t.Fatal("First insert rejected")
	}
	// Same x, different y: rejected on the extracted value, not point identity.
	if b.Add(pt(5, 99)) {
		t.Error("Duplicate x accepted")
	}
	if b.Add(pt(5, 1)) {
		t.Error("Duplicate x accepted")
	}

	if b.Len() != 1 {
		t.Errorf("Expected 1 point, got %d", b.Len())
	}
	if adds != 1 {
		t.Errorf("Expected 1 add event, got %d", adds)
	}
}

func TestAddDuplicateEitherSideOfInsertionIndex(t *testing.T) {
	b := newTestBuffer(t)

	for _, x := range []float64{10, 20, 30} {
		b.Add(pt(x, x))
	}

	// Collides with the point at the insertion index and with its predecessor.
	if b.Add(pt(20, 0)) {
		t.Error("Duplicate of middle point accepted")
	}
	if b.Add(pt(30, 0)) {
		t.Error("Duplicate of last point accepted")
	}
	if b.Len() != 3 {
		t.Errorf("Expected 3 points, got %d", b.Len())
	}
}

func TestAppendSkipsSearchAndEmitsAdd(t *testing.T) {
	b := newTestBuffer(t)

	var last AddEvent
	b.Subscribe(func(ev Event) {
		if add, ok := ev.(AddEvent); ok {
			last = add
		}
	})

	b.Append(pt(1, 1))
	b.Append(pt(2, 2))

	if last.Index != 1 {
		t.Errorf("Expected append at index 1, got %d", last.Index)
	}
	if last.Buffer != b {
		t.Error("Add event does not reference the buffer")
	}
	assertSorted(t, b)
}

func TestStatsTrackMinMax(t *testing.T) {
	b := newTestBuffer(t)

	if _, ok := b.Stats(); ok {
		t.Error("Empty buffer reported stats")
	}

	b.Add(pt(1, 10))
	b.Add(pt(2, -5))
	b.Add(pt(3, 42))
	b.Add(pt(4, 7))

	stats, ok := b.Stats()
	if !ok {
		t.Fatal("Expected stats")
	}
	if stats.MinValue != -5 {
		t.Errorf("Expected min -5, got %f", stats.MinValue)
	}
	if stats.MaxValue != 42 {
		t.Errorf("Expected max 42, got %f", stats.MaxValue)
	}
	if b.Y(stats.MinPoint) != -5 || b.Y(stats.MaxPoint) != 42 {
		t.Error("Min/max points do not match min/max values")
	}
}

func TestStatsTieKeepsFirstExtreme(t *testing.T) {
	b := newTestBuffer(t)

	first := pt(1, 10)
	b.Add(first)
	b.Add(pt(2, 10))

	stats, ok := b.Stats()
	if !ok {
		t.Fatal("Expected stats")
	}
	if stats.MinPoint != first || stats.MaxPoint != first {
		t.Error("Tie displaced the first extreme point")
	}
}

func TestRemoveDoesNotTouchStats(t *testing.T) {
	b := newTestBuffer(t)

	low := pt(1, -100)
	b.Add(low)
	b.Add(pt(2, 5))
	b.Add(pt(3, 8))

	if !b.Remove(low) {
		t.Fatal("Remove failed")
	}

	// Stats are stale by contract until the caller rebuilds them.
	stats, _ := b.Stats()
	if stats.MinValue != -100 {
		t.Errorf("Remove recomputed stats: min %f", stats.MinValue)
	}

	b.ResetStats()
	stats, ok := b.Stats()
	if !ok {
		t.Fatal("Expected stats after rebuild")
	}
	if stats.MinValue != 5 || stats.MaxValue != 8 {
		t.Errorf("Rebuilt stats wrong: min %f max %f", stats.MinValue, stats.MaxValue)
	}
}

func TestRemoveByIdentityNotValue(t *testing.T) {
	b := newTestBuffer(t)

	stored := pt(1, 1)
	b.Add(stored)

	twin := pt(1, 1)
	if b.Remove(twin) {
		t.Error("Removed a value-equal point that was never stored")
	}
	if !b.Remove(stored) {
		t.Error("Failed to remove the stored point")
	}
	if b.Len() != 0 {
		t.Errorf("Expected empty buffer, got %d points", b.Len())
	}
}

func TestRemoveEmitsEventWithFormerIndex(t *testing.T) {
	b := newTestBuffer(t)

	mid := pt(2, 2)
	b.Add(pt(1, 1))
	b.Add(mid)
	b.Add(pt(3, 3))

	var got RemoveEvent
	b.Subscribe(func(ev Event) {
		if rem, ok := ev.(RemoveEvent); ok {
			got = rem
		}
	})

	b.Remove(mid)
	if got.Point != mid || got.Index != 1 {
		t.Errorf("Expected remove of mid at index 1, got index %d", got.Index)
	}
}

func TestResetSeedsInOrderWithScanEqualStats(t *testing.T) {
	b := newTestBuffer(t)
	b.Add(pt(100, 0)) // pre-existing content must vanish

	seed := []*types.Point{pt(1, 3), pt(2, -1), pt(3, 9), pt(4, 2)}

	var resets, adds int
	b.Subscribe(func(ev Event) {
		switch ev.(type) {
		case ResetEvent:
			resets++
		case AddEvent:
			adds++
		}
	})

	before := b.Generation()
	b.Reset(seed)

	if b.Generation() != before+1 {
		t.Error("Reset did not bump the generation")
	}
	if resets != 1 || adds != len(seed) {
		t.Errorf("Expected 1 reset and %d adds, got %d and %d", len(seed), resets, adds)
	}

	pts := b.Points()
	if len(pts) != len(seed) {
		t.Fatalf("Expected %d points, got %d", len(seed), len(pts))
	}
	for i := range seed {
		if pts[i] != seed[i] {
			t.Fatalf("Seed order not preserved at %d", i)
		}
	}

	stats, ok := b.Stats()
	if !ok {
		t.Fatal("Expected stats")
	}
	if stats.MinValue != -1 || stats.MaxValue != 9 {
		t.Errorf("Seed stats wrong: min %f max %f", stats.MinValue, stats.MaxValue)
	}
}

func TestNearest(t *testing.T) {
	b := newTestBuffer(t)
	for _, x := range []float64{1, 5, 10} {
		b.Add(pt(x, x))
	}

	testCases := []struct {
		name string
		x    float64
		want float64
	}{
		{"closer to successor", 4, 5},
		{"closer to predecessor", 6, 5},
		{"exact match", 5, 5},
		{"before first", -3, 1},
		{"after last", 99, 10},
		{"exact tie goes to successor", 3, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := b.Nearest(tc.x)
			if got == nil {
				t.Fatal("Expected a point")
			}
			if b.X(got) != tc.want {
				t.Errorf("Nearest(%f): expected x=%f, got x=%f", tc.x, tc.want, b.X(got))
			}
		})
	}
}

func TestNearestEmptyBuffer(t *testing.T) {
	b := newTestBuffer(t)
	if got := b.Nearest(5); got != nil {
		t.Errorf("Expected nil from empty buffer, got %v", got)
	}
}

func TestNearestPointUsesXOnly(t *testing.T) {
	b := newTestBuffer(t)
	for _, x := range []float64{1, 5, 10} {
		b.Add(pt(x, x))
	}

	got := b.NearestPoint(pt(4, 12345))
	if got == nil || b.X(got) != 5 {
		t.Error("NearestPoint did not key on the probe's x value")
	}
}

func fillBuffer(t *testing.T, b *Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		b.Append(pt(float64(i), float64(i)))
	}
}

func TestPurgeKeepsRangeInclusive(t *testing.T) {
	b := newTestBuffer(t)
	fillBuffer(t, b, 100)

	b.PurgeOutsideRange(types.Range{Min: 20, Max: 80})

	pts := b.Points()
	if len(pts) != 61 {
		t.Fatalf("Expected 61 points, got %d", len(pts))
	}
	for _, p := range pts {
		x := b.X(p)
		if x < 20 || x > 80 {
			t.Errorf("Point x=%f survived outside [20, 80]", x)
		}
	}

	stats, ok := b.Stats()
	if !ok {
		t.Fatal("Expected stats after purge")
	}
	if stats.MinValue != 20 || stats.MaxValue != 80 {
		t.Errorf("Stats not rebuilt: min %f max %f", stats.MinValue, stats.MaxValue)
	}
}

func TestPurgeNoOpWhenAllInRange(t *testing.T) {
	b := newTestBuffer(t)
	fillBuffer(t, b, 10)

	var events int
	b.Subscribe(func(Event) { events++ })

	b.PurgeOutsideRange(types.Range{Min: -100, Max: 100})
	if events != 0 {
		t.Errorf("In-range purge emitted %d events", events)
	}
	if b.Len() != 10 {
		t.Errorf("In-range purge dropped points: %d left", b.Len())
	}
}

func TestPurgeSmallCountRemovesIndividually(t *testing.T) {
	b := newTestBuffer(t)
	fillBuffer(t, b, 1500)

	var removes, resets int
	b.Subscribe(func(ev Event) {
		switch ev.(type) {
		case RemoveEvent:
			removes++
		case ResetEvent:
			resets++
		}
	})

	// Exactly 999 points sit below the range: one under the threshold.
	b.PurgeOutsideRange(types.Range{Min: 999, Max: 1499})

	if removes != 999 {
		t.Errorf("Expected 999 remove events, got %d", removes)
	}
	if resets != 0 {
		t.Errorf("Expected no reset, got %d", resets)
	}
	if b.Len() != 501 {
		t.Errorf("Expected 501 points, got %d", b.Len())
	}
}

func TestPurgeLargeCountResetsOnce(t *testing.T) {
	b := newTestBuffer(t)
	fillBuffer(t, b, 1501)

	var removes, resets int
	b.Subscribe(func(ev Event) {
		switch ev.(type) {
		case RemoveEvent:
			removes++
		case ResetEvent:
			resets++
		}
	})

	// 1000 points out of range: threshold reached, single replacement.
	b.PurgeOutsideRange(types.Range{Min: 1000, Max: 1500})

	if resets != 1 {
		t.Errorf("Expected 1 reset event, got %d", resets)
	}
	if removes != 0 {
		t.Errorf("Expected no remove events, got %d", removes)
	}
	if b.Len() != 501 {
		t.Errorf("Expected 501 points, got %d", b.Len())
	}
	assertSorted(t, b)

	stats, ok := b.Stats()
	if !ok {
		t.Fatal("Expected stats after purge")
	}
	if stats.MinValue != 1000 || stats.MaxValue != 1500 {
		t.Errorf("Stats wrong after replace: min %f max %f", stats.MinValue, stats.MaxValue)
	}
}

func TestPurgeInvertedRangeNoOp(t *testing.T) {
	b := newTestBuffer(t)
	fillBuffer(t, b, 2000)

	var events int
	b.Subscribe(func(Event) { events++ })

	// Every point is "outside" an inverted range; purging must not panic,
	// drop anything, or emit.
	b.PurgeOutsideRange(types.Range{Min: 1500, Max: 500})

	if events != 0 {
		t.Errorf("Inverted-range purge emitted %d events", events)
	}
	if b.Len() != 2000 {
		t.Errorf("Inverted-range purge dropped points: %d left", b.Len())
	}
}

func TestConfigureUnknownKeys(t *testing.T) {
	b := newTestBuffer(t)

	err := b.Configure("bogus", "value")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if cfgErr.Key != "bogus" || cfgErr.Missing != "format" {
		t.Errorf("Unexpected error detail: %+v", cfgErr)
	}

	if err := b.Configure("timestamp", "bogus"); err == nil {
		t.Error("Expected error for unknown y key")
	}
}

func TestConfigureDerivesInterpolation(t *testing.T) {
	b := newTestBuffer(t)

	if b.Interpolation() != InterpolationLinear {
		t.Errorf("Continuous y field: expected linear, got %s", b.Interpolation())
	}

	if err := b.Configure("timestamp", "mode"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if b.Interpolation() != InterpolationStepAfter {
		t.Errorf("Enumerated y field: expected stepAfter, got %s", b.Interpolation())
	}

	// x-only change must not disturb the derived mode.
	if err := b.Configure("value", "mode"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if b.Interpolation() != InterpolationStepAfter {
		t.Error("x key change reset the interpolation mode")
	}
}

func TestConfigureClassifiesNewInsertsOnly(t *testing.T) {
	eval := NewThresholdEvaluator()

	b, err := New(Config{
		XKey:     "timestamp",
		YKey:     "mode",
		Formats:  testFormats(),
		Metadata: testMetadata(),
		Limits:   eval,
	})
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	old := types.NewPoint(map[string]any{"timestamp": 1.0, "mode": 2.0})
	b.Add(old)
	if old.Limit != types.LimitCritical {
		t.Fatalf("Expected critical classification, got %q", old.Limit)
	}

	// Rebinding y does not revisit stored classifications.
	if err := b.Configure("timestamp", "value"); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if old.Limit != types.LimitCritical {
		t.Error("Reconfigure retroactively changed a stored classification")
	}
}

func TestValueAndFormatPassThrough(t *testing.T) {
	b := newTestBuffer(t)
	p := pt(1, 3.14159)

	v, err := b.Value(p, "value")
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != 3.14159 {
		t.Errorf("Expected 3.14159, got %f", v)
	}

	s, err := b.FormatValue(p, "value")
	if err != nil {
		t.Fatalf("FormatValue failed: %v", err)
	}
	if s != "3.14 V" {
		t.Errorf("Expected %q, got %q", "3.14 V", s)
	}

	if _, err := b.Value(p, "bogus"); err == nil {
		t.Error("Expected error for unknown key")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBuffer(t)

	var got int
	unsub := b.Subscribe(func(Event) { got++ })

	b.Add(pt(1, 1))
	unsub()
	b.Add(pt(2, 2))

	if got != 1 {
		t.Errorf("Expected 1 delivered event, got %d", got)
	}
}

func BenchmarkAddAppendHint(b *testing.B) {
	buf, err := New(Config{
		XKey:     "timestamp",
		YKey:     "value",
		Formats:  testFormats(),
		Metadata: testMetadata(),
	})
	if err != nil {
		b.Fatalf("Failed to create buffer: %v", err)
	}
	buf.SetAppendOnly(true)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Add(pt(float64(i), float64(i)))
	}
}

func BenchmarkAddSortedInsert(b *testing.B) {
	buf, err := New(Config{
		XKey:     "timestamp",
		YKey:     "value",
		Formats:  testFormats(),
		Metadata: testMetadata(),
	})
	if err != nil {
		b.Fatalf("Failed to create buffer: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Add(pt(float64(i), float64(i)))
	}
}
