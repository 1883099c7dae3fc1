package notify

import (
	"time"

	"stock-alert/internal/domain/alert"
)

// Event 為與通道無關的預警事件，由 Formatter 轉成各通道的封包。
type Event struct {
	AlertID        string
	StockCode      string
	StockName      string
	Severity       alert.Severity
	AlertType      string
	Message        string
	RuleName       string
	CurrentPrice   *float64
	ThresholdValue *float64
	RiskValue      *float64
	ChangePct      *float64
	TriggeredAt    time.Time
}

// EventFromAlert 由預警紀錄組出事件，ruleName 可為空。
func EventFromAlert(a alert.RiskAlert, ruleName string, changePct *float64) Event {
	at := a.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return Event{
		AlertID:        a.ID,
		StockCode:      a.StockCode,
		StockName:      a.StockName,
		Severity:       a.Severity,
		AlertType:      a.AlertType,
		Message:        a.Message,
		RuleName:       ruleName,
		CurrentPrice:   a.CurrentPrice,
		ThresholdValue: a.ThresholdValue,
		RiskValue:      a.RiskValue,
		ChangePct:      changePct,
		TriggeredAt:    at,
	}
}

// DerivedChangePct 優先使用行情漲跌幅，否則以現價相對門檻計算偏離百分比。
func (e Event) DerivedChangePct() (float64, bool) {
	if e.ChangePct != nil {
		return *e.ChangePct, true
	}
	if e.CurrentPrice == nil || e.ThresholdValue == nil || *e.ThresholdValue == 0 {
		return 0, false
	}
	return (*e.CurrentPrice - *e.ThresholdValue) / *e.ThresholdValue * 100, true
}

// TestEvent 為通道測試時送出的固定內容。
func TestEvent(now time.Time) Event {
	price, threshold := 10.50, 10.00
	return Event{
		StockCode:      "000001.SZ",
		StockName:      "平安銀行",
		Severity:       alert.SeverityMedium,
		AlertType:      string(alert.RulePriceThreshold),
		Message:        "This is a test alert to verify the channel configuration.",
		RuleName:       "Connectivity test",
		CurrentPrice:   &price,
		ThresholdValue: &threshold,
		TriggeredAt:    now,
	}
}
