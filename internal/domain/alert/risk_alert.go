package alert

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrInvalidAlert 表示預警紀錄欄位不合法。
	ErrInvalidAlert = errors.New("invalid risk alert")
	// ErrAlertNotFound 表示預警紀錄不存在。
	ErrAlertNotFound = errors.New("risk alert not found")
	// ErrInvalidTransition 表示狀態轉換不被允許。
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

// Status 為預警紀錄的生命週期狀態。
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
	StatusPending  Status = "pending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusIgnored, StatusPending:
		return true
	}
	return false
}

// TriggerSource 記錄預警的產生來源。
type TriggerSource string

const (
	SourceAuto   TriggerSource = "auto"
	SourceManual TriggerSource = "manual"
	SourceAPI    TriggerSource = "api"
	SourceSystem TriggerSource = "system"
)

func (s TriggerSource) Valid() bool {
	switch s {
	case SourceAuto, SourceManual, SourceAPI, SourceSystem:
		return true
	}
	return false
}

// RiskAlert 為一次實際成立的觸發紀錄。
type RiskAlert struct {
	ID              string
	StockCode       string
	StockName       string
	AlertType       string
	Severity        Severity
	Message         string
	RuleID          *string
	Source          TriggerSource
	RiskValue       *float64
	ThresholdValue  *float64
	CurrentPrice    *float64
	PositionSize    *float64
	PortfolioWeight *float64
	Status          Status
	ResolvedAt      *time.Time
	ResolvedNote    string
	IgnoredAt       *time.Time
	IgnoredNote     string
	ExtraData       map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate 檢查新增或更新時的必要欄位。
func (a RiskAlert) Validate() error {
	if strings.TrimSpace(a.StockCode) == "" {
		return fmt.Errorf("%w: stock code is required", ErrInvalidAlert)
	}
	if strings.TrimSpace(a.AlertType) == "" {
		return fmt.Errorf("%w: alert type is required", ErrInvalidAlert)
	}
	if strings.TrimSpace(a.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidAlert)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("%w: unsupported severity %q", ErrInvalidAlert, a.Severity)
	}
	if !a.Source.Valid() {
		return fmt.Errorf("%w: unsupported trigger source %q", ErrInvalidAlert, a.Source)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: unsupported status %q", ErrInvalidAlert, a.Status)
	}
	return nil
}

// IsActive 包含等待中的紀錄；三個旗標恆只有一個為真。
func (a RiskAlert) IsActive() bool {
	return a.Status == StatusActive || a.Status == StatusPending
}

func (a RiskAlert) IsResolved() bool { return a.Status == StatusResolved }

func (a RiskAlert) IsIgnored() bool { return a.Status == StatusIgnored }

// Resolve 將作用中預警標記為已處理；已處理者維持原狀。
func (a *RiskAlert) Resolve(note string, at time.Time) (changed bool, err error) {
	switch {
	case a.IsResolved():
		return false, nil
	case a.IsActive():
		a.Status = StatusResolved
		a.ResolvedAt = &at
		a.ResolvedNote = note
		a.UpdatedAt = at
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusResolved)
	}
}

// Ignore 將作用中預警標記為忽略；已忽略者維持原狀。
func (a *RiskAlert) Ignore(note string, at time.Time) (changed bool, err error) {
	switch {
	case a.IsIgnored():
		return false, nil
	case a.IsActive():
		a.Status = StatusIgnored
		a.IgnoredAt = &at
		a.IgnoredNote = note
		a.UpdatedAt = at
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusIgnored)
	}
}

// Reactivate 重新啟用已處理或已忽略的預警，並清除處理紀錄。
func (a *RiskAlert) Reactivate(at time.Time) (changed bool) {
	if a.IsActive() {
		return false
	}
	a.Status = StatusActive
	a.ResolvedAt = nil
	a.ResolvedNote = ""
	a.IgnoredAt = nil
	a.IgnoredNote = ""
	a.UpdatedAt = at
	return true
}

// AlertFilter 為查詢條件，零值欄位不過濾。
type AlertFilter struct {
	StockCode string
	AlertType string
	Severity  Severity
	Status    Status
	Source    TriggerSource
	RuleID    string
	Start     *time.Time
	End       *time.Time
	Limit     int
}

// Match 供記憶體實作套用過濾。
func (f AlertFilter) Match(a RiskAlert) bool {
	if f.StockCode != "" && a.StockCode != f.StockCode {
		return false
	}
	if f.AlertType != "" && a.AlertType != f.AlertType {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	if f.RuleID != "" && (a.RuleID == nil || *a.RuleID != f.RuleID) {
		return false
	}
	if f.Start != nil && a.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && a.CreatedAt.After(*f.End) {
		return false
	}
	return true
}

// RuleFilter 為規則查詢條件。
type RuleFilter struct {
	StockCodes  []string
	Types       []RuleType
	Severity    Severity
	EnabledOnly bool
}

// Match 判斷規則是否符合條件；軟刪除的規則一律排除。
func (f RuleFilter) Match(r Rule) bool {
	if !r.Active {
		return false
	}
	if f.EnabledOnly && !r.Enabled {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if len(f.StockCodes) > 0 && !slices.Contains(f.StockCodes, r.StockCode) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, r.Type) {
		return false
	}
	return true
}

// AlertBucket 為依類型、等級、狀態、來源與建立日期（UTC）分組的預警數。
type AlertBucket struct {
	AlertType string
	Severity  Severity
	Status    Status
	Source    TriggerSource
	Date      string
	Count     int
}

// BucketKey 回傳預警所屬的分組，Count 為 0。
func (a RiskAlert) BucketKey() AlertBucket {
	return AlertBucket{
		AlertType: a.AlertType,
		Severity:  a.Severity,
		Status:    a.Status,
		Source:    a.Source,
		Date:      a.CreatedAt.UTC().Format("2006-01-02"),
	}
}
