package series

import (
	"math"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

// LimitEvaluator classifies a point's extracted y value against the declared
// metadata of the y field. Evaluation happens once, at insert time; the stored
// classification is not revisited if the evaluator is swapped later.
type LimitEvaluator interface {
	Evaluate(p *types.Point, value float64, meta types.ValueMetadata) types.LimitLevel
}

// ThresholdEvaluator classifies continuous values against warning/critical
// bands and enumerated values against their declared state levels. Disable a
// bound by setting it to -Inf (lows) or +Inf (highs).
type ThresholdEvaluator struct {
	WarningLow   float64
	WarningHigh  float64
	CriticalLow  float64
	CriticalHigh float64
}

// NewThresholdEvaluator returns an evaluator with all bounds disabled.
func NewThresholdEvaluator() *ThresholdEvaluator {
	return &ThresholdEvaluator{
		WarningLow:   math.Inf(-1),
		WarningHigh:  math.Inf(1),
		CriticalLow:  math.Inf(-1),
		CriticalHigh: math.Inf(1),
	}
}

// Evaluate implements LimitEvaluator. Critical bounds win over warning bounds.
func (e *ThresholdEvaluator) Evaluate(p *types.Point, value float64, meta types.ValueMetadata) types.LimitLevel {
	if meta.Enumerated {
		if st, ok := meta.States[int64(value)]; ok {
			return st.Level
		}
		return types.LimitNone
	}

	switch {
	case value < e.CriticalLow:
		return types.LimitCriticalLow
	case value > e.CriticalHigh:
		return types.LimitCriticalHigh
	case value < e.WarningLow:
		return types.LimitWarningLow
	case value > e.WarningHigh:
		return types.LimitWarningHigh
	}
	return types.LimitNone
}
