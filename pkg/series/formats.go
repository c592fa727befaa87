package series

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// ConfigurationError reports a field key with no registered format or metadata.
// Resolution happens once, when keys are bound, so a bad key fails fast instead
// of surfacing as a nil dereference deep in the insert path.
type ConfigurationError struct {
	Key     string
	Missing string // "format" or "metadata"
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("series: no %s registered for field %q", e.Missing, e.Key)
}

// Format converts a point's field to a comparable numeric value and a numeric
// value back to a display string.
type Format interface {
	Parse(p *types.Point) float64
	Format(v float64) string
}

// FormatRegistry maps field keys to their formats.
type FormatRegistry struct {
	formats map[string]Format
}

// NewFormatRegistry creates an empty registry.
func NewFormatRegistry() *FormatRegistry {
	return &FormatRegistry{formats: make(map[string]Format)}
}

// Register binds a format to a field key, replacing any previous binding.
func (r *FormatRegistry) Register(key string, f Format) {
	r.formats[key] = f
}

// Lookup returns the format for key.
func (r *FormatRegistry) Lookup(key string) (Format, bool) {
	f, ok := r.formats[key]
	return f, ok
}

// MetadataProvider resolves a field key to its declared value-domain metadata.
type MetadataProvider interface {
	Metadata(key string) (types.ValueMetadata, bool)
}

// MetadataMap is a static MetadataProvider.
type MetadataMap map[string]types.ValueMetadata

// Metadata implements MetadataProvider.
func (m MetadataMap) Metadata(key string) (types.ValueMetadata, bool) {
	meta, ok := m[key]
	return meta, ok
}

// numeric coerces the field values JSON decoding and in-process producers
// actually hand us.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// FloatFormat handles continuous numeric fields.
type FloatFormat struct {
	Key       string
	Precision int
	Units     string
}

// Parse implements Format. Missing or non-numeric fields parse as 0.
func (f FloatFormat) Parse(p *types.Point) float64 {
	v, _ := numeric(p.Fields[f.Key])
	return v
}

// Format implements Format.
func (f FloatFormat) Format(v float64) string {
	s := strconv.FormatFloat(v, 'f', f.Precision, 64)
	if f.Units != "" {
		return s + " " + f.Units
	}
	return s
}

// TimeFormat handles x-axis fields holding unix milliseconds.
type TimeFormat struct {
	Key string
}

// Parse implements Format.
func (f TimeFormat) Parse(p *types.Point) float64 {
	v, _ := numeric(p.Fields[f.Key])
	return v
}

// Format implements Format.
func (f TimeFormat) Format(v float64) string {
	return time.UnixMilli(int64(v)).UTC().Format(time.RFC3339Nano)
}

// EnumFormat handles enumerated fields, formatting values as their state label.
type EnumFormat struct {
	Key    string
	States map[int64]types.State
}

// Parse implements Format.
func (f EnumFormat) Parse(p *types.Point) float64 {
	v, _ := numeric(p.Fields[f.Key])
	return v
}

// Format implements Format. Unknown values fall back to the raw number.
func (f EnumFormat) Format(v float64) string {
	if st, ok := f.States[int64(v)]; ok {
		return st.Label
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
