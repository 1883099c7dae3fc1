package alert

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRule 表示規則設定不合法，不得寫入。
	ErrInvalidRule = errors.New("invalid alert rule")
	// ErrRuleNotFound 表示規則不存在或已軟刪除。
	ErrRuleNotFound = errors.New("alert rule not found")
)

// RuleType 決定規則讀取快照中的哪個欄位。
type RuleType string

const (
	RulePriceThreshold     RuleType = "price_threshold"
	RulePercentChange      RuleType = "percent_change"
	RuleVolumeRatio        RuleType = "volume_ratio"
	RuleTurnoverRate       RuleType = "turnover_rate"
	RuleMarketValue        RuleType = "market_value"
	RuleTechnicalIndicator RuleType = "technical_indicator"
	RuleMoneyFlow          RuleType = "money_flow"
)

// RuleTypes 依固定順序列出所有規則類型。
var RuleTypes = []RuleType{
	RulePriceThreshold,
	RulePercentChange,
	RuleVolumeRatio,
	RuleTurnoverRate,
	RuleMarketValue,
	RuleTechnicalIndicator,
	RuleMoneyFlow,
}

var ruleTypeLabels = map[RuleType]string{
	RulePriceThreshold:     "Price",
	RulePercentChange:      "Percent change",
	RuleVolumeRatio:        "Volume ratio",
	RuleTurnoverRate:       "Turnover rate",
	RuleMarketValue:        "Market value",
	RuleTechnicalIndicator: "P/E",
	RuleMoneyFlow:          "Net money flow",
}

// Valid 檢查是否為已知的規則類型。
func (t RuleType) Valid() bool {
	_, ok := ruleTypeLabels[t]
	return ok
}

// Label 回傳可讀名稱，未知類型回傳原字串。
func (t RuleType) Label() string {
	if l, ok := ruleTypeLabels[t]; ok {
		return l
	}
	return string(t)
}

// Severity 為預警等級。
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities 由低到高排列。
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

var severityLabels = map[Severity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

func (s Severity) Valid() bool {
	_, ok := severityLabels[s]
	return ok
}

func (s Severity) Label() string {
	if l, ok := severityLabels[s]; ok {
		return l
	}
	return string(s)
}

// Rule 為單一標的上的一個條件。
type Rule struct {
	ID              string
	Name            string
	StockCode       string
	StockName       string
	Type            RuleType
	Operator        Operator
	Threshold       decimal.Decimal
	Severity        Severity
	MessageTemplate string
	Description     string
	Enabled         bool
	Active          bool // false 代表已軟刪除
	TriggerCount    int
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate 檢查必要欄位與列舉值。
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if strings.TrimSpace(r.StockCode) == "" {
		return fmt.Errorf("%w: stock code is required", ErrInvalidRule)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unsupported rule type %q", ErrInvalidRule, r.Type)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidRule, r.Operator)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: unsupported severity %q", ErrInvalidRule, r.Severity)
	}
	return nil
}

// Evaluable 表示規則會被下一次檢查納入。
func (r Rule) Evaluable() bool {
	return r.Enabled && r.Active
}

// Check 從快照取值並比較；ok 為 false 代表快照缺少所需欄位。
func (r Rule) Check(s Snapshot) (triggered bool, observed float64, ok bool) {
	observed, ok = s.Metric(r.Type)
	if !ok {
		return false, 0, false
	}
	return Evaluate(r.Operator, observed, r.Threshold.InexactFloat64()), observed, true
}

// DefaultTemplate 組出預設訊息模板，保留 {current_value} 代換點。
func (r Rule) DefaultTemplate() string {
	return fmt.Sprintf("%s%s%s, current value: {current_value}", r.Type.Label(), r.Operator.Label(), r.Threshold.String())
}

// RenderMessage 產生預警訊息：[等級] 名稱(代碼) 內容。
func (r Rule) RenderMessage(current float64) string {
	tmpl := r.MessageTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = r.DefaultTemplate()
	}
	body := strings.ReplaceAll(tmpl, "{current_value}", formatValue(current))
	name := r.StockName
	if name == "" {
		name = r.StockCode
	}
	return fmt.Sprintf("[%s] %s(%s) %s", r.Severity.Label(), name, r.StockCode, body)
}

func formatValue(v float64) string {
	return decimal.NewFromFloat(v).Round(4).String()
}
