package history

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// codec compresses block columns. Timestamps get delta-of-delta varint
// encoding, values get XOR encoding, both followed by zstd; leftover point
// fields travel as zstd-compressed JSON.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// newCodec creates a codec at the given compression level (1 fastest .. 4 best).
func newCodec(level int) (*codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 2:
		encLevel = zstd.SpeedDefault
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	return &codec{enc: enc, dec: dec}, nil
}

// encodeTimestamps encodes millisecond timestamps as varint delta-of-deltas.
// Telemetry arrives at near-constant cadence, so most entries collapse to a
// single zero byte before zstd even runs.
func (c *codec) encodeTimestamps(ts []int64) ([]byte, error) {
	if len(ts) == 0 {
		return nil, nil
	}

	raw := binary.AppendVarint(nil, ts[0])
	var prevDelta int64
	for i := 1; i < len(ts); i++ {
		delta := ts[i] - ts[i-1]
		raw = binary.AppendVarint(raw, delta-prevDelta)
		prevDelta = delta
	}

	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

// decodeTimestamps reverses encodeTimestamps.
func (c *codec) decodeTimestamps(data []byte, count int) ([]int64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("timestamp decompression failed: %w", err)
	}

	r := bytes.NewReader(raw)
	ts := make([]int64, count)

	first, err := binary.ReadVarint(r)
	if err != nil {
		return nil, fmt.Errorf("truncated timestamp column: %w", err)
	}
	ts[0] = first

	var prevDelta int64
	for i := 1; i < count; i++ {
		dod, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("truncated timestamp column: %w", err)
		}
		delta := prevDelta + dod
		ts[i] = ts[i-1] + delta
		prevDelta = delta
	}

	return ts, nil
}

// encodeValues XOR-encodes float64 bit patterns against their predecessor.
func (c *codec) encodeValues(vals []float64) ([]byte, error) {
	if len(vals) == 0 {
		return nil, nil
	}

	raw := make([]byte, 0, len(vals)*8)
	prev := math.Float64bits(vals[0])
	raw = binary.LittleEndian.AppendUint64(raw, prev)

	for i := 1; i < len(vals); i++ {
		cur := math.Float64bits(vals[i])
		raw = binary.LittleEndian.AppendUint64(raw, cur^prev)
		prev = cur
	}

	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

// decodeValues reverses encodeValues.
func (c *codec) decodeValues(data []byte, count int) ([]float64, error) {
	if len(data) == 0 {
		return nil, nil
	}

	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("value decompression failed: %w", err)
	}
	if len(raw) < count*8 {
		return nil, fmt.Errorf("value column truncated: %d bytes for %d values", len(raw), count)
	}

	vals := make([]float64, count)
	prev := binary.LittleEndian.Uint64(raw[:8])
	vals[0] = math.Float64frombits(prev)

	for i := 1; i < count; i++ {
		cur := binary.LittleEndian.Uint64(raw[i*8:]) ^ prev
		vals[i] = math.Float64frombits(cur)
		prev = cur
	}

	return vals, nil
}

// encodeJSON marshals v and compresses the result.
func (c *codec) encodeJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw))), nil
}

// decodeJSON reverses encodeJSON.
func (c *codec) decodeJSON(data []byte, v any) error {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// Close releases codec resources.
func (c *codec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}
