package alert

import (
	"errors"
	"time"
)

// ErrSnapshotNotFound 表示標的目前沒有任何可用資料，視為略過而非失敗。
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Bar 為最新一根日 K，所有欄位皆可能缺漏。
type Bar struct {
	TradeDate time.Time
	Open      *float64
	High      *float64
	Low       *float64
	Close     *float64
	PrevClose *float64
	Change    *float64
	PctChange *float64
	Volume    *float64
	Amount    *float64
}

// Indicator 為最新一筆每日指標。
type Indicator struct {
	TradeDate    time.Time
	TurnoverRate *float64
	VolumeRatio  *float64
	PE           *float64
	PB           *float64
	TotalMV      *float64
}

// MoneyFlow 為最新一筆資金流向。
type MoneyFlow struct {
	TradeDate time.Time
	NetAmount *float64
}

// Snapshot 是單一標的在某個時點的唯讀行情資料。
type Snapshot struct {
	StockCode string
	StockName string
	Bar       *Bar
	Indicator *Indicator
	MoneyFlow *MoneyFlow
}

// Metric 依規則類型取出對應欄位；ok 為 false 代表資料缺漏。
func (s Snapshot) Metric(t RuleType) (float64, bool) {
	switch t {
	case RulePriceThreshold:
		if s.Bar != nil {
			return deref(s.Bar.Close)
		}
	case RulePercentChange:
		if s.Bar != nil {
			return deref(s.Bar.PctChange)
		}
	case RuleVolumeRatio:
		if s.Indicator != nil {
			return deref(s.Indicator.VolumeRatio)
		}
	case RuleTurnoverRate:
		if s.Indicator != nil {
			return deref(s.Indicator.TurnoverRate)
		}
	case RuleMarketValue:
		if s.Indicator != nil {
			return deref(s.Indicator.TotalMV)
		}
	case RuleTechnicalIndicator:
		if s.Indicator != nil {
			return deref(s.Indicator.PE)
		}
	case RuleMoneyFlow:
		if s.MoneyFlow != nil {
			return deref(s.MoneyFlow.NetAmount)
		}
	}
	return 0, false
}

// ClosePrice 回傳收盤價，若無則為 nil。
func (s Snapshot) ClosePrice() *float64 {
	if s.Bar == nil {
		return nil
	}
	return s.Bar.Close
}

// PctChange 回傳當日漲跌幅，若無則為 nil。
func (s Snapshot) PctChange() *float64 {
	if s.Bar == nil {
		return nil
	}
	return s.Bar.PctChange
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Float 取址輔助，方便建構快照。
func Float(v float64) *float64 {
	return &v
}
