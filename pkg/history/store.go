package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// blockSeconds is the width of one storage block: points are grouped into
// hour blocks keyed by (series ID, block start time).
const blockSeconds = 3600

// Config holds history store configuration.
type Config struct {
	Path             string
	XKey             string
	YKey             string
	CompressionLevel int
	EnableWAL        bool
}

// DefaultConfig returns default history store configuration.
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		XKey:             "timestamp",
		YKey:             "value",
		CompressionLevel: 2,
		EnableWAL:        true,
	}
}

// Store is a badger-backed archive of raw telemetry points. It is the fetch
// collaborator behind series.Buffer.Load: Append records points as they
// arrive, Fetch returns the sorted, duplicate-free batch for a time range.
type Store struct {
	cfg   *Config
	db    *badger.DB
	index *index
	codec *codec
	wal   *WAL
	mu    sync.RWMutex
}

// sample is one point in storage form: millisecond timestamp, y value, and
// whatever other fields the point carried.
type sample struct {
	ts  int64
	val float64
	aux map[string]any
}

// blockPayload is the stored form of one block.
type blockPayload struct {
	Count  int    `json:"count"`
	TS     []byte `json:"ts"`
	Values []byte `json:"values"`
	Aux    []byte `json:"aux,omitempty"`
}

// Open opens or creates a history store, restores the series catalog, and
// replays any write-ahead log left by an unclean shutdown.
func Open(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	codec, err := newCodec(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}

	s := &Store{
		cfg:   cfg,
		db:    db,
		index: newIndex(),
		codec: codec,
	}

	if err := s.loadCatalog(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to restore catalog: %w", err)
	}

	if cfg.EnableWAL {
		replay := func(e *WALEntry) error {
			return s.appendLocked(e.Series, e.Points)
		}
		if err := ReplayWAL(cfg.Path, replay); err != nil {
			s.Close()
			return nil, fmt.Errorf("WAL replay failed: %w", err)
		}

		s.wal, err = NewWAL(cfg.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Append records points for a series. Points are grouped into hour blocks;
// each block is read, merged, re-sorted, deduplicated on timestamp, and
// rewritten.
func (s *Store) Append(ctx context.Context, series string, pts []*types.Point) error {
	if len(pts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		if err := s.wal.Append(&WALEntry{Series: series, Points: pts}); err != nil {
			return fmt.Errorf("WAL append failed: %w", err)
		}
	}

	return s.appendLocked(series, pts)
}

// appendLocked does the block writes; the caller holds the write lock.
// Guards the empty batch itself: WAL replay feeds it entries that may have
// been truncated to nothing.
func (s *Store) appendLocked(series string, pts []*types.Point) error {
	if len(pts) == 0 {
		return nil
	}

	samples := make([]sample, 0, len(pts))
	for _, p := range pts {
		samples = append(samples, s.toSample(p))
	}

	blocks := make(map[int64][]sample)
	minTS, maxTS := samples[0].ts, samples[0].ts
	for _, smp := range samples {
		blockTime := smp.ts / 1000 / blockSeconds * blockSeconds
		blocks[blockTime] = append(blocks[blockTime], smp)
		if smp.ts < minTS {
			minTS = smp.ts
		}
		if smp.ts > maxTS {
			maxTS = smp.ts
		}
	}

	meta := s.index.upsert(series)
	for blockTime, blockSamples := range blocks {
		if err := s.writeBlock(meta.ID, blockTime, blockSamples); err != nil {
			return fmt.Errorf("failed to write block %d: %w", blockTime, err)
		}
	}

	s.index.observe(meta, minTS, maxTS, len(samples))
	return s.persistMeta(meta)
}

// writeBlock merges new samples into an existing block and rewrites it.
func (s *Store) writeBlock(id uint64, blockTime int64, incoming []sample) error {
	existing, err := s.readBlock(id, blockTime)
	if err != nil {
		return err
	}

	merged := append(existing, incoming...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].ts < merged[j].ts })

	// Drop later arrivals that collide on timestamp; the first write wins,
	// mirroring the buffer's duplicate-suppression rule.
	out := merged[:0]
	for _, smp := range merged {
		if len(out) > 0 && out[len(out)-1].ts == smp.ts {
			continue
		}
		out = append(out, smp)
	}

	ts := make([]int64, len(out))
	vals := make([]float64, len(out))
	auxes := make([]map[string]any, len(out))
	hasAux := false
	for i, smp := range out {
		ts[i] = smp.ts
		vals[i] = smp.val
		auxes[i] = smp.aux
		if len(smp.aux) > 0 {
			hasAux = true
		}
	}

	payload := blockPayload{Count: len(out)}
	if payload.TS, err = s.codec.encodeTimestamps(ts); err != nil {
		return err
	}
	if payload.Values, err = s.codec.encodeValues(vals); err != nil {
		return err
	}
	if hasAux {
		if payload.Aux, err = s.codec.encodeJSON(auxes); err != nil {
			return err
		}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(id, blockTime), payloadBytes)
	})
}

// readBlock loads one block; a missing block reads as empty.
func (s *Store) readBlock(id uint64, blockTime int64) ([]sample, error) {
	var payloadBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(id, blockTime))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			payloadBytes = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payload blockPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	ts, err := s.codec.decodeTimestamps(payload.TS, payload.Count)
	if err != nil {
		return nil, err
	}
	vals, err := s.codec.decodeValues(payload.Values, payload.Count)
	if err != nil {
		return nil, err
	}

	var auxes []map[string]any
	if len(payload.Aux) > 0 {
		if err := s.codec.decodeJSON(payload.Aux, &auxes); err != nil {
			return nil, err
		}
	}

	samples := make([]sample, payload.Count)
	for i := 0; i < payload.Count; i++ {
		samples[i] = sample{ts: ts[i], val: vals[i]}
		if auxes != nil {
			samples[i].aux = auxes[i]
		}
	}
	return samples, nil
}

// Fetch implements series.Fetcher: it returns the points of a series whose
// timestamps fall within the requested range, bounds inclusive, sorted
// ascending and free of duplicates. An unknown series fetches as empty.
func (s *Store) Fetch(ctx context.Context, opts types.LoadOptions) ([]*types.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.index.get(opts.Series)
	if !ok {
		return nil, nil
	}

	startBlock := int64(opts.Range.Min) / 1000 / blockSeconds * blockSeconds
	endBlock := int64(opts.Range.Max) / 1000 / blockSeconds * blockSeconds

	var out []*types.Point
	for blockTime := startBlock; blockTime <= endBlock; blockTime += blockSeconds {
		samples, err := s.readBlock(meta.ID, blockTime)
		if err != nil {
			return nil, fmt.Errorf("failed to read block %d: %w", blockTime, err)
		}
		for _, smp := range samples {
			if opts.Range.Contains(float64(smp.ts)) {
				out = append(out, s.toPoint(smp))
			}
		}
	}

	return out, nil
}

// Series returns the catalog's series keys.
func (s *Store) Series() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.keys()
}

// Bounds returns the stored time range of a series in unix milliseconds.
func (s *Store) Bounds(series string) (types.Range, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.index.get(series)
	if !ok || meta.Count == 0 {
		return types.Range{}, false
	}
	return types.Range{Min: float64(meta.MinTime), Max: float64(meta.MaxTime)}, true
}

// Close flushes the WAL and closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		if err := s.wal.Close(); err != nil {
			return err
		}
		s.wal = nil
	}
	if s.codec != nil {
		s.codec.Close()
	}
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// toSample splits a point into storage columns.
func (s *Store) toSample(p *types.Point) sample {
	smp := sample{
		ts:  int64(fieldNumber(p.Fields[s.cfg.XKey])),
		val: fieldNumber(p.Fields[s.cfg.YKey]),
	}
	for k, v := range p.Fields {
		if k == s.cfg.XKey || k == s.cfg.YKey {
			continue
		}
		if smp.aux == nil {
			smp.aux = make(map[string]any)
		}
		smp.aux[k] = v
	}
	return smp
}

// toPoint rebuilds a point from its storage form.
func (s *Store) toPoint(smp sample) *types.Point {
	fields := make(map[string]any, len(smp.aux)+2)
	for k, v := range smp.aux {
		fields[k] = v
	}
	fields[s.cfg.XKey] = float64(smp.ts)
	fields[s.cfg.YKey] = smp.val
	return types.NewPoint(fields)
}

// loadCatalog restores persisted series metadata into the in-memory index.
func (s *Store) loadCatalog() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte("s/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta seriesMeta
				if err := json.Unmarshal(val, &meta); err != nil {
					return fmt.Errorf("corrupt catalog entry: %w", err)
				}
				s.index.restore(&meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// persistMeta mirrors a catalog entry into badger.
func (s *Store) persistMeta(meta *seriesMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("s/"+meta.Key), data)
	})
}

// blockKey builds the storage key for a block.
func blockKey(id uint64, blockTime int64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteString("b/")
	binary.Write(buf, binary.BigEndian, id)
	buf.WriteByte('/')
	binary.Write(buf, binary.BigEndian, blockTime)
	return buf.Bytes()
}

// fieldNumber coerces a point field to float64; non-numeric fields read as 0.
func fieldNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
