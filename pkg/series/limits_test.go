package series

import (
	"testing"

	"github.com/vjranagit/plotbuffer/pkg/types"
)

func TestThresholdEvaluatorContinuous(t *testing.T) {
	eval := NewThresholdEvaluator()
	eval.WarningLow = 10
	eval.WarningHigh = 90
	eval.CriticalLow = 0
	eval.CriticalHigh = 100

	meta := types.ValueMetadata{Key: "value"}

	testCases := []struct {
		name  string
		value float64
		want  types.LimitLevel
	}{
		{"nominal", 50, types.LimitNone},
		{"warning low", 5, types.LimitWarningLow},
		{"warning high", 95, types.LimitWarningHigh},
		{"critical low", -1, types.LimitCriticalLow},
		{"critical high", 101, types.LimitCriticalHigh},
		{"on warning bound", 10, types.LimitNone},
		{"on critical bound", 100, types.LimitNone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := eval.Evaluate(pt(0, tc.value), tc.value, meta)
			if got != tc.want {
				t.Errorf("Evaluate(%f): expected %q, got %q", tc.value, tc.want, got)
			}
		})
	}
}

func TestThresholdEvaluatorDefaultsDisabled(t *testing.T) {
	eval := NewThresholdEvaluator()
	meta := types.ValueMetadata{Key: "value"}

	for _, v := range []float64{-1e12, 0, 1e12} {
		if got := eval.Evaluate(pt(0, v), v, meta); got != types.LimitNone {
			t.Errorf("Disabled bounds classified %f as %q", v, got)
		}
	}
}

func TestThresholdEvaluatorEnumerated(t *testing.T) {
	eval := NewThresholdEvaluator()
	meta := types.ValueMetadata{Key: "mode", Enumerated: true, States: testStates()}

	if got := eval.Evaluate(pt(0, 1), 1, meta); got != types.LimitNone {
		t.Errorf("Nominal state classified as %q", got)
	}
	if got := eval.Evaluate(pt(0, 2), 2, meta); got != types.LimitCritical {
		t.Errorf("Fault state classified as %q", got)
	}
	// Undeclared enum values carry no classification.
	if got := eval.Evaluate(pt(0, 7), 7, meta); got != types.LimitNone {
		t.Errorf("Unknown state classified as %q", got)
	}
}

func TestBufferAttachesClassificationOnInsert(t *testing.T) {
	eval := NewThresholdEvaluator()
	eval.CriticalHigh = 100

	b, err := New(Config{
		XKey:     "timestamp",
		YKey:     "value",
		Formats:  testFormats(),
		Metadata: testMetadata(),
		Limits:   eval,
	})
	if err != nil {
		t.Fatalf("Failed to create buffer: %v", err)
	}

	hot := pt(1, 250)
	cold := pt(2, 50)
	b.Add(hot)
	b.Add(cold)

	if hot.Limit != types.LimitCriticalHigh {
		t.Errorf("Expected critical-high, got %q", hot.Limit)
	}
	if cold.Limit != types.LimitNone {
		t.Errorf("Expected no classification, got %q", cold.Limit)
	}
}
