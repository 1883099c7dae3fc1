package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	alertDomain "stock-alert/internal/domain/alert"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultTriggerStatsDays = 7
	defaultAlertStatsDays   = 30
)

// RuleRepository 封裝規則持久化。UpdateRule 不得改動觸發計數。
type RuleRepository interface {
	RuleSource
	CreateRule(ctx context.Context, r alertDomain.Rule) error
	UpdateRule(ctx context.Context, r alertDomain.Rule) error
	GetRule(ctx context.Context, id string) (alertDomain.Rule, error)
	SoftDeleteRule(ctx context.Context, id string, at time.Time) error
}

// AlertRepository 封裝預警紀錄持久化。
type AlertRepository interface {
	AlertWriter
	GetAlert(ctx context.Context, id string) (alertDomain.RiskAlert, error)
	UpdateAlert(ctx context.Context, a alertDomain.RiskAlert) error
	ListAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.RiskAlert, error)
	// CountAlerts 依條件分組計數，不受 Limit 限制。
	CountAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.AlertBucket, error)
	PurgeAlert(ctx context.Context, id string) error
}

// AlertPatch 為可更新的預警欄位，nil 代表不變。
type AlertPatch struct {
	Message   *string
	Severity  *alertDomain.Severity
	StockName *string
	ExtraData map[string]any
}

// RuleStats 為規則總覽。
type RuleStats struct {
	Total         int
	Enabled       int
	Disabled      int
	ByType        map[alertDomain.RuleType]int
	BySeverity    map[alertDomain.Severity]int
	TotalTriggers int
}

// TriggerStats 為最近 N 天的觸發統計。
type TriggerStats struct {
	Total      int
	Active     int
	Resolved   int
	ByType     map[string]int
	ByLevel    map[alertDomain.Severity]int
	PeriodDays int
}

// DailyCount 為單日預警數。
type DailyCount struct {
	Date  string
	Count int
}

// AlertStats 為預警紀錄的多維度統計。
type AlertStats struct {
	PeriodDays int
	Total      int
	Active     int
	Resolved   int
	Ignored    int
	ByLevel    map[alertDomain.Severity]int
	ByType     map[string]int
	ByStatus   map[alertDomain.Status]int
	BySource   map[alertDomain.TriggerSource]int
	Trend      []DailyCount
}

// Service 提供規則與預警紀錄的管理操作。
type Service struct {
	rules  RuleRepository
	alerts AlertRepository
	log    *zap.Logger
	now    func() time.Time
}

// NewService 建立服務。
func NewService(rules RuleRepository, alerts AlertRepository, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{rules: rules, alerts: alerts, log: log, now: time.Now}
}

// CreateRule 驗證並建立規則，新規則預設為有效且計數歸零。
func (s *Service) CreateRule(ctx context.Context, input alertDomain.Rule) (alertDomain.Rule, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.StockCode = strings.TrimSpace(input.StockCode)
	if input.Severity == "" {
		input.Severity = alertDomain.SeverityMedium
	}
	if err := input.Validate(); err != nil {
		return input, err
	}
	now := s.now()
	input.ID = uuid.NewString()
	input.Active = true
	input.TriggerCount = 0
	input.LastTriggeredAt = nil
	input.CreatedAt = now
	input.UpdatedAt = now
	if err := s.rules.CreateRule(ctx, input); err != nil {
		return input, fmt.Errorf("create rule: %w", err)
	}
	s.log.Info("alert rule created", zap.String("rule_id", input.ID), zap.String("stock_code", input.StockCode), zap.String("rule_type", string(input.Type)))
	return input, nil
}

// UpdateRule 覆寫可編輯欄位，保留觸發計數與建立時間。
func (s *Service) UpdateRule(ctx context.Context, id string, input alertDomain.Rule) (alertDomain.Rule, error) {
	current, err := s.GetRule(ctx, id)
	if err != nil {
		return alertDomain.Rule{}, err
	}
	current.Name = strings.TrimSpace(input.Name)
	current.StockCode = strings.TrimSpace(input.StockCode)
	current.StockName = input.StockName
	current.Type = input.Type
	current.Operator = input.Operator
	current.Threshold = input.Threshold
	current.Severity = input.Severity
	current.MessageTemplate = input.MessageTemplate
	current.Description = input.Description
	current.Enabled = input.Enabled
	if err := current.Validate(); err != nil {
		return current, err
	}
	current.UpdatedAt = s.now()
	if err := s.rules.UpdateRule(ctx, current); err != nil {
		return current, fmt.Errorf("update rule: %w", err)
	}
	return current, nil
}

// GetRule 回傳未刪除的規則。
func (s *Service) GetRule(ctx context.Context, id string) (alertDomain.Rule, error) {
	r, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return alertDomain.Rule{}, err
	}
	if !r.Active {
		return alertDomain.Rule{}, alertDomain.ErrRuleNotFound
	}
	return r, nil
}

// ListRules 依條件列出規則。
func (s *Service) ListRules(ctx context.Context, filter alertDomain.RuleFilter) ([]alertDomain.Rule, error) {
	return s.rules.ListRules(ctx, filter)
}

// ToggleRule 切換啟用狀態。
func (s *Service) ToggleRule(ctx context.Context, id string) (alertDomain.Rule, error) {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return alertDomain.Rule{}, err
	}
	return s.setEnabled(ctx, r, !r.Enabled)
}

// SetRuleEnabled 設定啟用狀態；停用的規則不會被檢查，計數保持不變。
func (s *Service) SetRuleEnabled(ctx context.Context, id string, enabled bool) (alertDomain.Rule, error) {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return alertDomain.Rule{}, err
	}
	if r.Enabled == enabled {
		return r, nil
	}
	return s.setEnabled(ctx, r, enabled)
}

func (s *Service) setEnabled(ctx context.Context, r alertDomain.Rule, enabled bool) (alertDomain.Rule, error) {
	r.Enabled = enabled
	r.UpdatedAt = s.now()
	if err := s.rules.UpdateRule(ctx, r); err != nil {
		return r, fmt.Errorf("update rule: %w", err)
	}
	s.log.Info("alert rule enablement changed", zap.String("rule_id", r.ID), zap.Bool("enabled", enabled))
	return r, nil
}

// DeleteRule 軟刪除規則，既有預警紀錄保留。
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if _, err := s.GetRule(ctx, id); err != nil {
		return err
	}
	if err := s.rules.SoftDeleteRule(ctx, id, s.now()); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	s.log.Info("alert rule deleted", zap.String("rule_id", id))
	return nil
}

// RuleStats 統計所有未刪除的規則。
func (s *Service) RuleStats(ctx context.Context) (RuleStats, error) {
	rules, err := s.rules.ListRules(ctx, alertDomain.RuleFilter{})
	if err != nil {
		return RuleStats{}, fmt.Errorf("list rules: %w", err)
	}
	stats := RuleStats{
		ByType:     map[alertDomain.RuleType]int{},
		BySeverity: map[alertDomain.Severity]int{},
	}
	for _, r := range rules {
		stats.Total++
		if r.Enabled {
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByType[r.Type]++
		stats.BySeverity[r.Severity]++
		stats.TotalTriggers += r.TriggerCount
	}
	return stats, nil
}

// CreateAlert 建立人工或外部來源的預警。
func (s *Service) CreateAlert(ctx context.Context, input alertDomain.RiskAlert) (alertDomain.RiskAlert, error) {
	if input.Source == "" {
		input.Source = alertDomain.SourceManual
	}
	if input.Severity == "" {
		input.Severity = alertDomain.SeverityMedium
	}
	input.Status = alertDomain.StatusActive
	if err := input.Validate(); err != nil {
		return input, err
	}
	now := s.now()
	input.ID = uuid.NewString()
	input.ResolvedAt, input.ResolvedNote = nil, ""
	input.IgnoredAt, input.IgnoredNote = nil, ""
	input.CreatedAt = now
	input.UpdatedAt = now
	if err := s.alerts.CreateAlert(ctx, input); err != nil {
		return input, fmt.Errorf("create alert: %w", err)
	}
	return input, nil
}

func (s *Service) GetAlert(ctx context.Context, id string) (alertDomain.RiskAlert, error) {
	return s.alerts.GetAlert(ctx, id)
}

func (s *Service) ListAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.RiskAlert, error) {
	return s.alerts.ListAlerts(ctx, filter)
}

// UpdateAlert 套用部分欄位更新。
func (s *Service) UpdateAlert(ctx context.Context, id string, patch AlertPatch) (alertDomain.RiskAlert, error) {
	a, err := s.alerts.GetAlert(ctx, id)
	if err != nil {
		return alertDomain.RiskAlert{}, err
	}
	if patch.Message != nil {
		a.Message = *patch.Message
	}
	if patch.Severity != nil {
		a.Severity = *patch.Severity
	}
	if patch.StockName != nil {
		a.StockName = *patch.StockName
	}
	if patch.ExtraData != nil {
		if a.ExtraData == nil {
			a.ExtraData = map[string]any{}
		}
		for k, v := range patch.ExtraData {
			a.ExtraData[k] = v
		}
	}
	if err := a.Validate(); err != nil {
		return a, err
	}
	a.UpdatedAt = s.now()
	if err := s.alerts.UpdateAlert(ctx, a); err != nil {
		return a, fmt.Errorf("update alert: %w", err)
	}
	return a, nil
}

// ResolveAlert 將預警標記為已解決；重複呼叫不改變紀錄。
func (s *Service) ResolveAlert(ctx context.Context, id, note string) (alertDomain.RiskAlert, error) {
	return s.transition(ctx, id, func(a *alertDomain.RiskAlert, at time.Time) (bool, error) {
		return a.Resolve(note, at)
	})
}

// IgnoreAlert 將預警標記為忽略；重複呼叫不改變紀錄。
func (s *Service) IgnoreAlert(ctx context.Context, id, note string) (alertDomain.RiskAlert, error) {
	return s.transition(ctx, id, func(a *alertDomain.RiskAlert, at time.Time) (bool, error) {
		return a.Ignore(note, at)
	})
}

// ReactivateAlert 將預警恢復為有效並清除處理紀錄。
func (s *Service) ReactivateAlert(ctx context.Context, id string) (alertDomain.RiskAlert, error) {
	return s.transition(ctx, id, func(a *alertDomain.RiskAlert, at time.Time) (bool, error) {
		return a.Reactivate(at), nil
	})
}

func (s *Service) transition(ctx context.Context, id string, apply func(*alertDomain.RiskAlert, time.Time) (bool, error)) (alertDomain.RiskAlert, error) {
	a, _, err := s.apply(ctx, id, apply)
	return a, err
}

func (s *Service) apply(ctx context.Context, id string, fn func(*alertDomain.RiskAlert, time.Time) (bool, error)) (alertDomain.RiskAlert, bool, error) {
	a, err := s.alerts.GetAlert(ctx, id)
	if err != nil {
		return alertDomain.RiskAlert{}, false, err
	}
	changed, err := fn(&a, s.now())
	if err != nil || !changed {
		return a, false, err
	}
	if err := s.alerts.UpdateAlert(ctx, a); err != nil {
		return a, false, fmt.Errorf("update alert: %w", err)
	}
	s.log.Info("alert status changed", zap.String("alert_id", a.ID), zap.String("status", string(a.Status)))
	return a, true, nil
}

// BulkResolve 批次解決，回傳實際變更的筆數。不存在或狀態不允許的紀錄略過。
func (s *Service) BulkResolve(ctx context.Context, ids []string, note string) (int, error) {
	return s.bulk(ctx, ids, func(a *alertDomain.RiskAlert, at time.Time) (bool, error) {
		return a.Resolve(note, at)
	})
}

// BulkIgnore 批次忽略，回傳實際變更的筆數。
func (s *Service) BulkIgnore(ctx context.Context, ids []string, note string) (int, error) {
	return s.bulk(ctx, ids, func(a *alertDomain.RiskAlert, at time.Time) (bool, error) {
		return a.Ignore(note, at)
	})
}

func (s *Service) bulk(ctx context.Context, ids []string, fn func(*alertDomain.RiskAlert, time.Time) (bool, error)) (int, error) {
	count := 0
	for _, id := range ids {
		_, changed, err := s.apply(ctx, id, fn)
		if errors.Is(err, alertDomain.ErrAlertNotFound) || errors.Is(err, alertDomain.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return count, err
		}
		if changed {
			count++
		}
	}
	return count, nil
}

// PurgeAlert 永久刪除預警紀錄。
func (s *Service) PurgeAlert(ctx context.Context, id string) error {
	if err := s.alerts.PurgeAlert(ctx, id); err != nil {
		return err
	}
	s.log.Info("alert purged", zap.String("alert_id", id))
	return nil
}

// TriggerStats 統計最近 days 天的預警，days <= 0 時為 7 天。
func (s *Service) TriggerStats(ctx context.Context, days int) (TriggerStats, error) {
	if days <= 0 {
		days = defaultTriggerStatsDays
	}
	buckets, err := s.recent(ctx, days, "")
	if err != nil {
		return TriggerStats{}, err
	}
	stats := TriggerStats{
		ByType:     map[string]int{},
		ByLevel:    map[alertDomain.Severity]int{},
		PeriodDays: days,
	}
	for _, b := range buckets {
		stats.Total += b.Count
		switch b.Status {
		case alertDomain.StatusActive, alertDomain.StatusPending:
			stats.Active += b.Count
		case alertDomain.StatusResolved:
			stats.Resolved += b.Count
		}
		stats.ByType[b.AlertType] += b.Count
		stats.ByLevel[b.Severity] += b.Count
	}
	return stats, nil
}

// AlertStats 統計最近 days 天的預警，可限定單一標的；days <= 0 時為 30 天。
func (s *Service) AlertStats(ctx context.Context, days int, stockCode string) (AlertStats, error) {
	if days <= 0 {
		days = defaultAlertStatsDays
	}
	buckets, err := s.recent(ctx, days, stockCode)
	if err != nil {
		return AlertStats{}, err
	}
	stats := AlertStats{
		PeriodDays: days,
		ByLevel:    map[alertDomain.Severity]int{},
		ByType:     map[string]int{},
		ByStatus:   map[alertDomain.Status]int{},
		BySource:   map[alertDomain.TriggerSource]int{},
	}
	daily := map[string]int{}
	for _, b := range buckets {
		stats.Total += b.Count
		switch b.Status {
		case alertDomain.StatusResolved:
			stats.Resolved += b.Count
		case alertDomain.StatusIgnored:
			stats.Ignored += b.Count
		case alertDomain.StatusActive, alertDomain.StatusPending:
			stats.Active += b.Count
		}
		stats.ByLevel[b.Severity] += b.Count
		stats.ByType[b.AlertType] += b.Count
		stats.ByStatus[b.Status] += b.Count
		stats.BySource[b.Source] += b.Count
		daily[b.Date] += b.Count
	}
	for date, count := range daily {
		stats.Trend = append(stats.Trend, DailyCount{Date: date, Count: count})
	}
	sort.Slice(stats.Trend, func(i, j int) bool { return stats.Trend[i].Date < stats.Trend[j].Date })
	return stats, nil
}

func (s *Service) recent(ctx context.Context, days int, stockCode string) ([]alertDomain.AlertBucket, error) {
	start := s.now().AddDate(0, 0, -days)
	buckets, err := s.alerts.CountAlerts(ctx, alertDomain.AlertFilter{StockCode: stockCode, Start: &start})
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	return buckets, nil
}
