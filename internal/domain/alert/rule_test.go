package alert

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func validRule() Rule {
	return Rule{
		Name:      "漲幅過大",
		StockCode: "000001.SZ",
		StockName: "平安銀行",
		Type:      RulePercentChange,
		Operator:  OpGTE,
		Threshold: decimal.NewFromFloat(5),
		Severity:  SeverityHigh,
		Enabled:   true,
		Active:    true,
	}
}

func TestRule_Validate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}

	cases := map[string]func(*Rule){
		"missing_name": func(r *Rule) { r.Name = " " },
		"missing_code": func(r *Rule) { r.StockCode = "" },
		"bad_type":     func(r *Rule) { r.Type = "rsi" },
		"bad_operator": func(r *Rule) { r.Operator = "between" },
		"bad_severity": func(r *Rule) { r.Severity = "urgent" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validRule()
			mutate(&r)
			err := r.Validate()
			if !errors.Is(err, ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}

func TestRule_Evaluable(t *testing.T) {
	r := validRule()
	if !r.Evaluable() {
		t.Error("enabled active rule should be evaluable")
	}
	r.Enabled = false
	if r.Evaluable() {
		t.Error("disabled rule must not be evaluable")
	}
	r.Enabled, r.Active = true, false
	if r.Evaluable() {
		t.Error("soft-deleted rule must not be evaluable")
	}
}

func TestRule_Check(t *testing.T) {
	r := validRule()

	triggered, observed, ok := r.Check(Snapshot{Bar: &Bar{PctChange: Float(6.2)}})
	if !ok || !triggered || observed != 6.2 {
		t.Errorf("expected trigger at 6.2, got triggered=%v observed=%v ok=%v", triggered, observed, ok)
	}

	triggered, _, ok = r.Check(Snapshot{Bar: &Bar{PctChange: Float(4.9)}})
	if !ok || triggered {
		t.Errorf("expected checked but not triggered at 4.9, got triggered=%v ok=%v", triggered, ok)
	}

	_, _, ok = r.Check(Snapshot{Bar: &Bar{Close: Float(10)}})
	if ok {
		t.Error("expected missing pct change to be reported")
	}
}

func TestRule_RenderMessage(t *testing.T) {
	r := validRule()
	got := r.RenderMessage(6.2)
	want := "[High] 平安銀行(000001.SZ) Percent change >= 5, current value: 6.2"
	if got != want {
		t.Errorf("default message\n got: %s\nwant: %s", got, want)
	}

	r.MessageTemplate = "漲幅 {current_value}% 超標"
	r.StockName = ""
	got = r.RenderMessage(7.123456)
	want = "[High] 000001.SZ(000001.SZ) 漲幅 7.1235% 超標"
	if got != want {
		t.Errorf("custom message\n got: %s\nwant: %s", got, want)
	}
}
