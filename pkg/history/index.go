package history

// seriesMeta describes one stored series: its stable ID and the time bounds
// of its data, in unix milliseconds.
type seriesMeta struct {
	ID      uint64 `json:"id"`
	Key     string `json:"key"`
	MinTime int64  `json:"min_time"`
	MaxTime int64  `json:"max_time"`
	Count   int    `json:"count"`
}

// index is the in-memory series catalog. Entries are mirrored into badger so
// the catalog survives a restart.
type index struct {
	series map[string]*seriesMeta
}

func newIndex() *index {
	return &index{series: make(map[string]*seriesMeta)}
}

// get returns the metadata for a series key.
func (ix *index) get(key string) (*seriesMeta, bool) {
	meta, ok := ix.series[key]
	return meta, ok
}

// upsert returns the metadata for key, creating it on first sight.
func (ix *index) upsert(key string) *seriesMeta {
	if meta, ok := ix.series[key]; ok {
		return meta
	}

	meta := &seriesMeta{ID: seriesID(key), Key: key}
	ix.series[key] = meta
	return meta
}

// observe widens a series' time bounds to cover [minTS, maxTS] and counts n
// new points.
func (ix *index) observe(meta *seriesMeta, minTS, maxTS int64, n int) {
	if meta.Count == 0 || minTS < meta.MinTime {
		meta.MinTime = minTS
	}
	if meta.Count == 0 || maxTS > meta.MaxTime {
		meta.MaxTime = maxTS
	}
	meta.Count += n
}

// restore reinstates a persisted catalog entry.
func (ix *index) restore(meta *seriesMeta) {
	ix.series[meta.Key] = meta
}

// keys returns the catalog's series keys.
func (ix *index) keys() []string {
	out := make([]string, 0, len(ix.series))
	for k := range ix.series {
		out = append(out, k)
	}
	return out
}

// seriesID hashes a series key to a stable 64-bit ID (FNV-1a).
func seriesID(key string) uint64 {
	var hash uint64 = 14695981039346656037
	for i := 0; i < len(key); i++ {
		hash ^= uint64(key[i])
		hash *= 1099511628211
	}
	return hash
}
