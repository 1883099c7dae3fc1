package alert

import "math"

// EqualityTolerance 為 eq / ne 比較的絕對誤差。
const EqualityTolerance = 1e-4

// Operator represents comparison operators used by rules.
type Operator string

const (
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpEQ  Operator = "eq"
	OpNE  Operator = "ne"
)

var operatorLabels = map[Operator]string{
	OpGT:  " > ",
	OpGTE: " >= ",
	OpLT:  " < ",
	OpLTE: " <= ",
	OpEQ:  " = ",
	OpNE:  " != ",
}

func (o Operator) Valid() bool {
	_, ok := operatorLabels[o]
	return ok
}

// Label 回傳運算子符號（含前後空白），供訊息組字使用。
func (o Operator) Label() string {
	if l, ok := operatorLabels[o]; ok {
		return l
	}
	return " " + string(o) + " "
}

// Evaluate compares observed against threshold. Unknown operators never match.
func Evaluate(op Operator, observed, threshold float64) bool {
	if math.IsNaN(observed) || math.IsNaN(threshold) {
		return false
	}
	switch op {
	case OpGT:
		return observed > threshold
	case OpGTE:
		return observed >= threshold
	case OpLT:
		return observed < threshold
	case OpLTE:
		return observed <= threshold
	case OpEQ:
		return math.Abs(observed-threshold) < EqualityTolerance
	case OpNE:
		return math.Abs(observed-threshold) >= EqualityTolerance
	default:
		return false
	}
}
