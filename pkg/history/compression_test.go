package history

import (
	"math"
	"testing"
)

func TestCodecTimestampsRoundtrip(t *testing.T) {
	c, err := newCodec(2)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer c.Close()

	// Regular 1s cadence in milliseconds: delta-of-delta collapses to zeros.
	ts := make([]int64, 500)
	for i := range ts {
		ts[i] = baseMS + int64(i)*1000
	}

	encoded, err := c.encodeTimestamps(ts)
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}

	originalSize := len(ts) * 8
	if len(encoded) >= originalSize {
		t.Errorf("Compression ineffective: original=%d, encoded=%d",
			originalSize, len(encoded))
	}

	decoded, err := c.decodeTimestamps(encoded, len(ts))
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}
	if len(decoded) != len(ts) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(ts), len(decoded))
	}
	for i := range ts {
		if ts[i] != decoded[i] {
			t.Errorf("Timestamp mismatch at %d: expected %d, got %d",
				i, ts[i], decoded[i])
		}
	}
}

func TestCodecTimestampsIrregularCadence(t *testing.T) {
	c, err := newCodec(1)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer c.Close()

	ts := []int64{baseMS, baseMS + 17, baseMS + 17 + 1003, baseMS + 17 + 1003 + 2}

	encoded, err := c.encodeTimestamps(ts)
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}
	decoded, err := c.decodeTimestamps(encoded, len(ts))
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}
	for i := range ts {
		if ts[i] != decoded[i] {
			t.Errorf("Mismatch at %d: expected %d, got %d", i, ts[i], decoded[i])
		}
	}
}

func TestCodecValuesRoundtrip(t *testing.T) {
	c, err := newCodec(2)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer c.Close()

	vals := make([]float64, 500)
	for i := range vals {
		vals[i] = 100.0 + math.Sin(float64(i)*0.1)*10
	}

	encoded, err := c.encodeValues(vals)
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}
	decoded, err := c.decodeValues(encoded, len(vals))
	if err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}
	if len(decoded) != len(vals) {
		t.Fatalf("Length mismatch: expected %d, got %d", len(vals), len(decoded))
	}
	for i := range vals {
		if vals[i] != decoded[i] {
			t.Errorf("Value mismatch at %d: expected %f, got %f",
				i, vals[i], decoded[i])
		}
	}
}

func TestCodecJSONRoundtrip(t *testing.T) {
	c, err := newCodec(2)
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	defer c.Close()

	aux := []map[string]any{
		{"quality": "good"},
		nil,
		{"quality": "suspect", "source": "sim"},
	}

	encoded, err := c.encodeJSON(aux)
	if err != nil {
		t.Fatalf("Encoding failed: %v", err)
	}

	var decoded []map[string]any
	if err := c.decodeJSON(encoded, &decoded); err != nil {
		t.Fatalf("Decoding failed: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(decoded))
	}
	if decoded[0]["quality"] != "good" || decoded[2]["source"] != "sim" {
		t.Error("Aux fields lost in roundtrip")
	}
}

func TestCodecLevels(t *testing.T) {
	testCases := []struct {
		level       int
		description string
	}{
		{1, "fastest"},
		{2, "default"},
		{3, "better"},
		{4, "best"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			c, err := newCodec(tc.level)
			if err != nil {
				t.Fatalf("Failed to create codec at level %d: %v", tc.level, err)
			}
			defer c.Close()

			vals := []float64{1.0, 2.0, 3.0, 4.0, 5.0}
			encoded, err := c.encodeValues(vals)
			if err != nil {
				t.Fatalf("Encoding failed: %v", err)
			}
			decoded, err := c.decodeValues(encoded, len(vals))
			if err != nil {
				t.Fatalf("Decoding failed: %v", err)
			}
			for i := range vals {
				if vals[i] != decoded[i] {
					t.Errorf("Mismatch at index %d", i)
				}
			}
		})
	}
}

func BenchmarkEncodeTimestamps(b *testing.B) {
	c, _ := newCodec(2)
	defer c.Close()

	ts := make([]int64, 1000)
	for i := range ts {
		ts[i] = baseMS + int64(i)*1000
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.encodeTimestamps(ts)
	}
}

func BenchmarkEncodeValues(b *testing.B) {
	c, _ := newCodec(2)
	defer c.Close()

	vals := make([]float64, 1000)
	for i := range vals {
		vals[i] = 100.0 + math.Sin(float64(i)*0.1)*10
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.encodeValues(vals)
	}
}
