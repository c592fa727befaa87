package types

// LimitLevel classifies a point's y value against its field's declared limits.
type LimitLevel string

const (
	LimitNone         LimitLevel = ""
	LimitWarningLow   LimitLevel = "warning-low"
	LimitWarningHigh  LimitLevel = "warning-high"
	LimitCriticalLow  LimitLevel = "critical-low"
	LimitCriticalHigh LimitLevel = "critical-high"
	LimitWarning      LimitLevel = "warning"
	LimitCritical     LimitLevel = "critical"
)

// Point is a single telemetry datum: a record of named fields plus the limit
// classification attached by the buffer when the point is stored. Points are
// compared by identity (pointer), never by value.
type Point struct {
	Fields map[string]any `json:"fields"`
	Limit  LimitLevel     `json:"limit,omitempty"`
}

// NewPoint creates a point from a field map.
func NewPoint(fields map[string]any) *Point {
	return &Point{Fields: fields}
}

// Range is an inclusive x-axis interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether x lies within the range, bounds included.
func (r Range) Contains(x float64) bool {
	return x >= r.Min && x <= r.Max
}

// State describes one value of an enumerated field.
type State struct {
	Label string     `json:"label"`
	Level LimitLevel `json:"level,omitempty"`
}

// ValueMetadata declares what is known about a field's value domain.
// Enumerated fields carry a state table keyed by the raw enum value;
// continuous fields leave States nil.
type ValueMetadata struct {
	Key        string          `json:"key"`
	Units      string          `json:"units,omitempty"`
	Enumerated bool            `json:"enumerated"`
	States     map[int64]State `json:"states,omitempty"`
}

// LoadOptions parameterizes a historical fetch.
type LoadOptions struct {
	Series string `json:"series"`
	Range  Range  `json:"range"`
}
