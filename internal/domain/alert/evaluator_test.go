package alert

import (
	"math"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		op        Operator
		observed  float64
		threshold float64
		want      bool
	}{
		{"gt_true", OpGT, 10.1, 10, true},
		{"gt_equal", OpGT, 10, 10, false},
		{"gte_equal", OpGTE, 10, 10, true},
		{"gte_below", OpGTE, 9.99, 10, false},
		{"lt_true", OpLT, -1, 0, true},
		{"lte_equal", OpLTE, 5, 5, true},
		{"lte_above", OpLTE, 5.01, 5, false},
		{"eq_within_tolerance", OpEQ, 10.00005, 10, true},
		{"eq_outside_tolerance", OpEQ, 10.0002, 10, false},
		{"ne_within_tolerance", OpNE, 9.99995, 10, false},
		{"ne_outside_tolerance", OpNE, 10.001, 10, true},
		{"unknown_operator", Operator("between"), 1, 1, false},
		{"empty_operator", Operator(""), 1, 1, false},
		{"nan_observed", OpGTE, math.NaN(), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.op, tt.observed, tt.threshold); got != tt.want {
				t.Errorf("Evaluate(%s, %v, %v) = %v, want %v", tt.op, tt.observed, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestEvaluate_ToleranceIsSymmetric(t *testing.T) {
	for _, delta := range []float64{0, 1e-5, 5e-5, 9e-5} {
		for _, sign := range []float64{1, -1} {
			v := 42 + sign*delta
			if !Evaluate(OpEQ, v, 42) {
				t.Errorf("eq should hold for delta %v", sign*delta)
			}
			if Evaluate(OpNE, v, 42) {
				t.Errorf("ne should not hold for delta %v", sign*delta)
			}
		}
	}
}

func TestSnapshot_Metric(t *testing.T) {
	snap := Snapshot{
		StockCode: "600000.SH",
		Bar:       &Bar{Close: Float(10.5), PctChange: Float(6.2)},
		Indicator: &Indicator{VolumeRatio: Float(1.8), TurnoverRate: Float(3.1), TotalMV: Float(1200000), PE: Float(8.4)},
		MoneyFlow: &MoneyFlow{NetAmount: Float(-2500)},
	}

	want := map[RuleType]float64{
		RulePriceThreshold:     10.5,
		RulePercentChange:      6.2,
		RuleVolumeRatio:        1.8,
		RuleTurnoverRate:       3.1,
		RuleMarketValue:        1200000,
		RuleTechnicalIndicator: 8.4,
		RuleMoneyFlow:          -2500,
	}
	for rt, v := range want {
		got, ok := snap.Metric(rt)
		if !ok || got != v {
			t.Errorf("Metric(%s) = %v,%v want %v", rt, got, ok, v)
		}
	}

	if _, ok := (Snapshot{}).Metric(RulePercentChange); ok {
		t.Error("expected missing bar to report not ok")
	}
	partial := Snapshot{Indicator: &Indicator{PE: Float(12)}}
	if _, ok := partial.Metric(RuleVolumeRatio); ok {
		t.Error("expected missing volume ratio to report not ok")
	}
	if _, ok := snap.Metric(RuleType("unknown")); ok {
		t.Error("expected unknown rule type to report not ok")
	}
}
